package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if _, err := lock.Read(session.LockPath(sessionName)); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: no daemon running for session %q (start chatsyncd --session %s)\n", sessionName, sessionName)
		os.Exit(1)
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		st, err := c.Status(ctx)
		check(err)
		out.status(st)
	case "signin":
		req := parseSignIn(args[1:])
		st, err := c.SignIn(ctx, req)
		check(err)
		out.status(st)
	case "connect":
		st, err := c.Connect(ctx)
		check(err)
		out.status(st)
	case "logout":
		check(c.Logout(ctx))
		out.ok("logged out")
	case "conversations", "ls":
		list, err := c.Conversations(ctx)
		check(err)
		out.conversations(list)
	case "messages":
		fs := flag.NewFlagSet("messages", flag.ExitOnError)
		more := fs.Bool("more", false, "request the next page from the server")
		_ = fs.Parse(args[1:])
		page, err := c.Messages(ctx, model.ID(requireArg(fs.Args(), 0, "messages [--more] <conversation>")), *more)
		check(err)
		out.messages(page)
	case "open":
		check(c.Open(ctx, model.ID(requireArg(args, 1, "open <conversation>"))))
		out.ok("opened")
	case "send":
		id := requireArg(args, 1, "send <conversation> <text>")
		text := strings.Join(args[2:], " ")
		msg, err := c.Send(ctx, api.SendRequest{ConversationID: model.ID(id), Text: text})
		check(err)
		out.any(msg, func() { fmt.Printf("queued %s\n", msg.ID) })
	case "seen":
		id := requireArg(args, 1, "seen <conversation> <count>")
		n, err := strconv.Atoi(requireArg(args, 2, "seen <conversation> <count>"))
		check(err)
		check(c.MarkSeen(ctx, model.ID(id), n))
		out.ok("marked seen")
	case "search":
		res, err := c.Search(ctx, strings.Join(args[1:], " "))
		check(err)
		out.search(res)
	case "close":
		check(c.CloseConversation(ctx))
		out.ok("closed")
	case "typing":
		check(c.Typing(ctx))
		out.ok("typing sent")
	case "edit":
		conv, msg := messageArgs(args, "edit <conversation> <message> <text>")
		check(c.Edit(ctx, conv, msg, strings.Join(args[3:], " ")))
		out.ok("edited")
	case "delete":
		conv, msg := messageArgs(args, "delete <conversation> <message>")
		check(c.Delete(ctx, conv, msg))
		out.ok("deleted")
	case "react":
		conv, msg := messageArgs(args, "react <conversation> <message> <emoji>")
		check(c.React(ctx, conv, msg, requireArg(args, 3, "react <conversation> <message> <emoji>")))
		out.ok("reacted")
	case "requests":
		list, err := c.Requests(ctx)
		check(err)
		out.requests(list)
	case "request":
		check(c.RequestConnect(ctx, requireArg(args, 1, "request <username>")))
		out.ok("request sent")
	case "accept":
		check(c.AcceptRequest(ctx, requireArg(args, 1, "accept <username>")))
		out.ok("request accepted")
	case "group":
		check(c.CreateGroup(ctx, strings.Join(args[1:], " ")))
		out.ok("group requested")
	case "thumbnail":
		check(c.UpdateThumbnail(ctx, requireArg(args, 1, "thumbnail <file-url>")))
		out.ok("thumbnail updated")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show connection and sync status")
	fmt.Fprintln(os.Stderr, "  signin --access T --refresh R --username U [--name N]")
	fmt.Fprintln(os.Stderr, "                                  Store tokens and connect")
	fmt.Fprintln(os.Stderr, "  connect                         Reconnect after giving up")
	fmt.Fprintln(os.Stderr, "  logout                          Sign out and clear local data")
	fmt.Fprintln(os.Stderr, "  conversations                   List conversations")
	fmt.Fprintln(os.Stderr, "  messages [--more] <id>          Show a conversation's history")
	fmt.Fprintln(os.Stderr, "  open <id>                       Open a conversation")
	fmt.Fprintln(os.Stderr, "  send <id> <text>                Send a message")
	fmt.Fprintln(os.Stderr, "  seen <id> <count>               Mark messages as seen")
	fmt.Fprintln(os.Stderr, "  close                           Close the open conversation")
	fmt.Fprintln(os.Stderr, "  typing                          Tell the open conversation you are typing")
	fmt.Fprintln(os.Stderr, "  edit <id> <msg> <text>          Edit one of your messages")
	fmt.Fprintln(os.Stderr, "  delete <id> <msg>               Delete one of your messages")
	fmt.Fprintln(os.Stderr, "  react <id> <msg> <emoji>        React to a message")
	fmt.Fprintln(os.Stderr, "  search <query>                  Search users")
	fmt.Fprintln(os.Stderr, "  requests                        List friend requests")
	fmt.Fprintln(os.Stderr, "  request <username>              Send a friend request")
	fmt.Fprintln(os.Stderr, "  accept <username>               Accept a friend request")
	fmt.Fprintln(os.Stderr, "  group <name>                    Create a group")
	fmt.Fprintln(os.Stderr, "  thumbnail <file-url>            Set your profile picture")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                  Stream daemon events")
}

func parseSignIn(args []string) api.SignInRequest {
	fs := flag.NewFlagSet("signin", flag.ExitOnError)
	access := fs.String("access", "", "access token")
	refresh := fs.String("refresh", "", "refresh token")
	username := fs.String("username", "", "username")
	name := fs.String("name", "", "display name")
	_ = fs.Parse(args)
	return api.SignInRequest{
		Tokens: model.Tokens{Access: *access, Refresh: *refresh},
		User:   model.Profile{Username: *username, Name: *name},
	}
}

func cmdWatch(c *api.Client, prefix string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream, err := c.Watch(ctx, prefix)
	check(err)
	for {
		env, err := stream.Recv()
		if err == io.EOF || ctx.Err() != nil {
			return
		}
		check(err)
		if jsonOut {
			outputJSON(env)
			continue
		}
		fmt.Printf("%s %-28s %s\n", env.OccurredAt, env.Kind, env.Payload)
	}
}

type printer struct {
	json bool
}

func (p printer) any(v any, text func()) {
	if p.json {
		outputJSON(v)
		return
	}
	text()
}

func (p printer) ok(msg string) {
	p.any(api.Ack{Success: true, Message: msg}, func() { fmt.Println(msg) })
}

func (p printer) status(st api.Status) {
	p.any(st, func() {
		fmt.Printf("Session:       %s\n", st.Session)
		fmt.Printf("State:         %s\n", st.State)
		if st.LoggedIn {
			fmt.Printf("User:          %s\n", st.User.Username)
		} else {
			fmt.Printf("User:          (signed out)\n")
		}
		fmt.Printf("Conversations: %d (%d unread)\n", st.Conversations, st.Unread)
		fmt.Printf("Queued:        %d\n", st.Queued)
		fmt.Printf("Uptime:        %s\n", time.Duration(st.UptimeMS)*time.Millisecond)
	})
}

func (p printer) conversations(list []model.Conversation) {
	p.any(list, func() {
		if len(list) == 0 {
			fmt.Println("No conversations.")
			return
		}
		for _, c := range list {
			name := c.Friend.Name
			if name == "" {
				name = c.Friend.Username
			}
			unread := ""
			if c.Unread > 0 {
				unread = fmt.Sprintf(" (%d)", c.Unread)
			}
			fmt.Printf("%-24s %-20s%s %s\n", c.ID, name, unread, c.Preview)
		}
	})
}

func (p printer) messages(page api.MessagePage) {
	p.any(page, func() {
		// Oldest first reads naturally in a terminal.
		for i := len(page.Messages) - 1; i >= 0; i-- {
			m := page.Messages[i]
			who := "them"
			if m.IsMe {
				who = "me"
			}
			text := m.Text
			if m.Deleted {
				text = "(deleted)"
			}
			mark := ""
			if m.Pending {
				mark = " …"
			}
			fmt.Printf("%s %-4s %s%s\n", m.Created, who, text, mark)
		}
		if page.Requested {
			fmt.Println("(older messages requested)")
		}
	})
}

func (p printer) search(res api.SearchResults) {
	p.any(res, func() {
		if !res.Complete {
			fmt.Println("(no answer from server yet; showing previous results)")
		}
		for _, r := range res.Results {
			fmt.Printf("%-20s %-24s %s\n", r.Username, r.Name, r.Status)
		}
	})
}

func (p printer) requests(list []model.Request) {
	p.any(list, func() {
		if len(list) == 0 {
			fmt.Println("No requests.")
			return
		}
		for _, r := range list {
			state := "pending"
			if r.Accepted {
				state = "accepted"
			}
			fmt.Printf("%-20s -> %-20s %s\n", r.Sender.Username, r.Receiver.Username, state)
		}
	})
}

func messageArgs(args []string, usage string) (model.ID, model.ID) {
	return model.ID(requireArg(args, 1, usage)), model.ID(requireArg(args, 2, usage))
}

func requireArg(args []string, i int, usage string) string {
	if len(args) <= i || args[i] == "" {
		fmt.Fprintf(os.Stderr, "usage: chatsyncctl %s\n", usage)
		os.Exit(1)
	}
	return args[i]
}

func check(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
