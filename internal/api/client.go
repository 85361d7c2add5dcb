package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/model"
)

// Client talks to a running daemon's control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the daemon listening on socketPath. The
// connection is established lazily on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	if req == nil {
		req = struct{}{}
	}
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return fromStruct(out, resp)
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.call(ctx, "GetStatus", nil, &st)
	return st, err
}

func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var list ConversationList
	err := c.call(ctx, "ListConversations", nil, &list)
	return list.Conversations, err
}

func (c *Client) Messages(ctx context.Context, id model.ID, loadMore bool) (MessagePage, error) {
	var page MessagePage
	err := c.call(ctx, "ListMessages", ListMessagesRequest{ConversationID: id, LoadMore: loadMore}, &page)
	return page, err
}

func (c *Client) Open(ctx context.Context, id model.ID) error {
	return c.call(ctx, "OpenConversation", ConversationRequest{ConversationID: id}, nil)
}

func (c *Client) Send(ctx context.Context, req SendRequest) (model.Message, error) {
	var res SendResult
	err := c.call(ctx, "SendMessage", req, &res)
	return res.Message, err
}

func (c *Client) MarkSeen(ctx context.Context, id model.ID, count int) error {
	return c.call(ctx, "MarkSeen", MarkSeenRequest{ConversationID: id, Count: count}, nil)
}

func (c *Client) Search(ctx context.Context, query string) (SearchResults, error) {
	var res SearchResults
	err := c.call(ctx, "Search", SearchRequest{Query: query}, &res)
	return res, err
}

func (c *Client) SignIn(ctx context.Context, req SignInRequest) (Status, error) {
	var st Status
	err := c.call(ctx, "SignIn", req, &st)
	return st, err
}

func (c *Client) Connect(ctx context.Context) (Status, error) {
	var st Status
	err := c.call(ctx, "Connect", nil, &st)
	return st, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "Logout", nil, nil)
}

func (c *Client) CloseConversation(ctx context.Context) error {
	return c.call(ctx, "CloseConversation", nil, nil)
}

func (c *Client) Edit(ctx context.Context, conv, msg model.ID, text string) error {
	return c.call(ctx, "EditMessage", MessageRequest{ConversationID: conv, MessageID: msg, Text: text}, nil)
}

func (c *Client) Delete(ctx context.Context, conv, msg model.ID) error {
	return c.call(ctx, "DeleteMessage", MessageRequest{ConversationID: conv, MessageID: msg}, nil)
}

func (c *Client) React(ctx context.Context, conv, msg model.ID, emoji string) error {
	return c.call(ctx, "React", MessageRequest{ConversationID: conv, MessageID: msg, Emoji: emoji}, nil)
}

func (c *Client) Typing(ctx context.Context) error {
	return c.call(ctx, "Typing", nil, nil)
}

func (c *Client) Requests(ctx context.Context) ([]model.Request, error) {
	var list RequestList
	err := c.call(ctx, "ListRequests", nil, &list)
	return list.Requests, err
}

func (c *Client) RequestConnect(ctx context.Context, username string) error {
	return c.call(ctx, "RequestConnect", UserRequest{Username: username}, nil)
}

func (c *Client) AcceptRequest(ctx context.Context, username string) error {
	return c.call(ctx, "AcceptRequest", UserRequest{Username: username}, nil)
}

func (c *Client) CreateGroup(ctx context.Context, name string) error {
	return c.call(ctx, "CreateGroup", GroupRequest{Name: name}, nil)
}

func (c *Client) UpdateThumbnail(ctx context.Context, fileURL string) error {
	return c.call(ctx, "UpdateThumbnail", ThumbnailRequest{FileURL: fileURL}, nil)
}

// EventStream receives bus events from the daemon.
type EventStream struct {
	stream grpc.ClientStream
}

// Watch subscribes to daemon events whose kind starts with prefix.
func (c *Client) Watch(ctx context.Context, prefix string) (*EventStream, error) {
	in, err := toStruct(WatchRequest{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event. It returns io.EOF when the daemon ends the stream.
func (s *EventStream) Recv() (EventEnvelope, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return EventEnvelope{}, err
	}
	var env EventEnvelope
	err := fromStruct(out, &env)
	return env, err
}
