package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// Engine is the slice of the sync engine the control service drives.
type Engine interface {
	Snapshot() intsync.State
	OpenConversation(id model.ID) error
	Send(id model.ID, text string, opts intsync.SendOptions) (model.Message, error)
	LoadMore(id model.ID) bool
	MarkSeen(id model.ID, count int) error
	Search(query string)
	Logout()
	CloseConversation()
	EditMessage(conv, msg model.ID, text string) error
	DeleteMessage(conv, msg model.ID) error
	React(conv, msg model.ID, emoji string) error
	Typing()
	RequestConnect(username string)
	AcceptRequest(username string)
	CreateGroup(name string)
	UpdateThumbnail(fileURL string)
}

// Connection is the slice of the transport the control service drives.
type Connection interface {
	State() status.State
	Connect(ctx context.Context)
}

// Auth is the slice of the session the control service drives.
type Auth interface {
	LoggedIn() bool
	SignIn(tokens model.Tokens, user model.Profile, creds *model.Credentials)
}

// Pending reports the outbound queue depth.
type Pending interface {
	Len() int
}

// Service implements ControlServer on top of the engine.
type Service struct {
	sessionName string
	startedAt   time.Time
	searchWait  time.Duration

	engine  Engine
	conn    Connection
	auth    Auth
	pending Pending
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewService creates the control service for one session.
func NewService(sessionName string, engine Engine, conn Connection, auth Auth, pending Pending, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessionName: sessionName,
		startedAt:   time.Now(),
		searchWait:  5 * time.Second,
		engine:      engine,
		conn:        conn,
		auth:        auth,
		pending:     pending,
		bus:         b,
		logger:      logger,
	}
}

func (s *Service) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(s.status())
}

func (s *Service) status() Status {
	snap := s.engine.Snapshot()
	st := Status{
		Session:       s.sessionName,
		State:         s.conn.State(),
		User:          snap.User,
		UptimeMS:      time.Since(s.startedAt).Milliseconds(),
		Conversations: len(snap.Conversations),
		Active:        snap.Active,
	}
	for _, n := range snap.Unread {
		st.Unread += n
	}
	if s.auth != nil {
		st.LoggedIn = s.auth.LoggedIn()
	}
	if s.pending != nil {
		st.Queued = s.pending.Len()
	}
	return st
}

func (s *Service) ListConversations(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	snap := s.engine.Snapshot()
	list := make([]model.Conversation, len(snap.Conversations))
	for i, c := range snap.Conversations {
		c.Unread = snap.Unread[c.ID]
		list[i] = c
	}
	return reply(ConversationList{Conversations: list})
}

func (s *Service) ListMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListMessagesRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	snap := s.engine.Snapshot()
	if _, ok := snap.Conversation(req.ConversationID); !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %s not found", req.ConversationID)
	}
	page := MessagePage{
		ConversationID: req.ConversationID,
		Messages:       snap.Messages[req.ConversationID],
		NextPage:       snap.NextPage[req.ConversationID],
	}
	if page.Messages == nil {
		page.Messages = []model.Message{}
	}
	if req.LoadMore {
		page.Requested = s.engine.LoadMore(req.ConversationID)
	}
	return reply(page)
}

func (s *Service) OpenConversation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ConversationRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.engine.OpenConversation(req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return reply(Ack{Success: true})
}

func (s *Service) SendMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SendRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	msg, err := s.engine.Send(req.ConversationID, req.Text, intsync.SendOptions{
		Type:      req.Type,
		RepliedTo: req.RepliedTo,
		File:      req.File,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(SendResult{Message: msg})
}

func (s *Service) MarkSeen(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MarkSeenRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Count < 0 {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "count must not be negative")
	}
	if err := s.engine.MarkSeen(req.ConversationID, req.Count); err != nil {
		return nil, toStatus(err)
	}
	return reply(Ack{Success: true})
}

// Search sends the query and waits for the server's answer, up to
// searchWait. On timeout the previous results are returned as incomplete.
func (s *Service) Search(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SearchRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "query is required")
	}

	ch, unsub := s.bus.Subscribe(bus.KindStateChanged, 16)
	defer unsub()
	s.engine.Search(req.Query)

	timer := time.NewTimer(s.searchWait)
	defer timer.Stop()
	for {
		select {
		case evt := <-ch:
			if sc, ok := evt.Payload.(intsync.StateChange); ok && sc.Source == protocol.TagSearch {
				return reply(SearchResults{Results: s.engine.Snapshot().SearchResults, Complete: true})
			}
		case <-timer.C:
			return reply(SearchResults{Results: s.engine.Snapshot().SearchResults})
		case <-ctx.Done():
			return nil, grpcstatus.FromContextError(ctx.Err()).Err()
		}
	}
}

// SignIn stores the tokens and user, then connects.
func (s *Service) SignIn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SignInRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Tokens.Access == "" || req.User.Username == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "access token and username are required")
	}
	if s.auth == nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "session not initialized")
	}
	s.auth.SignIn(req.Tokens, req.User, nil)
	s.conn.Connect(ctx)
	return reply(s.status())
}

func (s *Service) Connect(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.auth != nil && !s.auth.LoggedIn() {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "not signed in")
	}
	s.conn.Connect(ctx)
	return reply(s.status())
}

func (s *Service) Logout(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.engine.Logout()
	return reply(Ack{Success: true, Message: "logged out"})
}

func (s *Service) CloseConversation(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.engine.CloseConversation()
	return reply(Ack{Success: true})
}

func (s *Service) EditMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MessageRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.engine.EditMessage(req.ConversationID, req.MessageID, req.Text); err != nil {
		return nil, toStatus(err)
	}
	return reply(Ack{Success: true})
}

func (s *Service) DeleteMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MessageRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.engine.DeleteMessage(req.ConversationID, req.MessageID); err != nil {
		return nil, toStatus(err)
	}
	return reply(Ack{Success: true})
}

func (s *Service) React(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req MessageRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Emoji == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "emoji is required")
	}
	if err := s.engine.React(req.ConversationID, req.MessageID, req.Emoji); err != nil {
		return nil, toStatus(err)
	}
	return reply(Ack{Success: true})
}

// Typing is a no-op unless a one-to-one conversation is open.
func (s *Service) Typing(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.engine.Typing()
	return reply(Ack{Success: true})
}

func (s *Service) ListRequests(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list := s.engine.Snapshot().Requests
	if list == nil {
		list = []model.Request{}
	}
	return reply(RequestList{Requests: list})
}

func (s *Service) RequestConnect(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	username, err := decodeUsername(in)
	if err != nil {
		return nil, err
	}
	s.engine.RequestConnect(username)
	return reply(Ack{Success: true, Message: "request sent"})
}

func (s *Service) AcceptRequest(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	username, err := decodeUsername(in)
	if err != nil {
		return nil, err
	}
	s.engine.AcceptRequest(username)
	return reply(Ack{Success: true, Message: "request accepted"})
}

func (s *Service) CreateGroup(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GroupRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "group name is required")
	}
	s.engine.CreateGroup(req.Name)
	return reply(Ack{Success: true})
}

func (s *Service) UpdateThumbnail(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ThumbnailRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.FileURL == "" {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "file_url is required")
	}
	s.engine.UpdateThumbnail(req.FileURL)
	return reply(Ack{Success: true})
}

func (s *Service) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	var req WatchRequest
	if err := decode(in, &req); err != nil {
		return err
	}
	ch, unsub := s.bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			out, err := s.envelope(evt)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) envelope(evt bus.Event) (*structpb.Struct, error) {
	env := EventEnvelope{
		EventID:    uuid.NewString(),
		Session:    s.sessionName,
		OccurredAt: model.FormatTime(evt.Timestamp),
		Kind:       evt.Kind,
	}
	if evt.Payload != nil {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, err
		}
		env.Payload = payload
	}
	return toStruct(env)
}

func decodeUsername(in *structpb.Struct) (string, error) {
	var req UserRequest
	if err := decode(in, &req); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Username) == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "username is required")
	}
	return req.Username, nil
}

func decode(in *structpb.Struct, v any) error {
	if err := fromStruct(in, v); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	return nil
}

func reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

// toStatus maps engine errors to gRPC codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, intsync.ErrUnknownConversation), errors.Is(err, intsync.ErrUnknownMessage):
		code = codes.NotFound
	case errors.Is(err, intsync.ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, intsync.ErrNotOwner):
		code = codes.PermissionDenied
	case errors.Is(err, intsync.ErrPending):
		code = codes.FailedPrecondition
	}
	return grpcstatus.Error(code, err.Error())
}
