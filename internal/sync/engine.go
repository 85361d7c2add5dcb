package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/store"
)

// Transport is what the engine needs from the connection.
type Transport interface {
	Send(cmd protocol.Command)
	Reauthenticate()
	Close()
	// Discard drops commands still waiting for a connection.
	Discard()
}

// Session is what the engine needs from the authentication state.
type Session interface {
	User() model.Profile
	SetUser(model.Profile)
	Logout()
}

// Options tunes the engine.
type Options struct {
	ProcessedIDs int
}

// StateChange is the payload of bus.KindStateChanged.
type StateChange struct {
	Source string `json:"source"`
}

// Engine owns the local mirror. Every reducer application and every user
// action runs under one mutex, and persistence happens before it is released,
// so the last write for a key always reflects the latest state.
type Engine struct {
	mu        stdsync.Mutex
	state     State
	processed *processedIDs

	transport Transport
	session   Session
	kv        *store.KV
	bus       *bus.Bus
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	cancel    context.CancelFunc
}

// NewEngine creates an engine with an empty state. Call Hydrate before the
// transport delivers its first frame.
func NewEngine(kv *store.KV, tr Transport, sess Session, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics, opts Options) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	processed, err := newProcessedIDs(opts.ProcessedIDs)
	if err != nil {
		return nil, err
	}
	return &Engine{
		processed: processed,
		transport: tr,
		session:   sess,
		kv:        kv,
		bus:       b,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}, nil
}

// Snapshot returns the current state. It must be treated as read-only.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Hydrate loads the persisted friend list and histories. Placeholders are
// dropped: the queue that would have confirmed them did not survive.
func (e *Engine) Hydrate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	var convs []model.Conversation
	e.kv.Load(store.KeyFriendList, &convs)

	s := State{
		Messages: make(map[model.ID][]model.Message),
		Unread:   make(map[model.ID]int),
		NextPage: make(map[model.ID]int),
	}
	for _, c := range convs {
		if c.ID == "" || s.conversationIndex(c.ID) >= 0 {
			continue
		}
		s.Conversations = append(s.Conversations, c)
		s.Unread[c.ID] = max(c.Unread, 0)

		var history []model.Message
		if e.kv.Load(store.MessagesKey(c.ID), &history) {
			history = dropPlaceholders(history)
			sortMessages(history)
			s.Messages[c.ID] = history
		}
	}
	sortConversations(s.Conversations)
	if e.session != nil {
		s.User = e.session.User()
	}
	e.state = s

	e.logger.Info("state hydrated",
		zap.Int("conversations", len(s.Conversations)),
		zap.Int("histories", len(s.Messages)),
	)
}

// HandleFrame decodes and applies one inbound frame. Malformed or unknown
// frames are logged and counted and leave the state untouched.
func (e *Engine) HandleFrame(frame []byte) {
	evt, err := protocol.Decode(frame)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownTag) {
			reason = "unknown"
		}
		e.metrics.EventIgnored(reason)
		e.logger.Warn("inbound frame ignored", zap.String("reason", reason), zap.Error(err))
		return
	}
	e.Apply(evt)
}

// Apply runs evt through the reducer table.
func (e *Engine) Apply(evt protocol.Event) {
	if se, ok := evt.(protocol.ServerError); ok {
		e.handleServerError(se)
		return
	}

	r, ok := reducers[evt.Source()]
	if !ok {
		e.metrics.EventIgnored("unknown")
		e.logger.Warn("no reducer for event", zap.String("source", evt.Source()))
		return
	}

	e.mu.Lock()
	if ms, ok := evt.(protocol.MessageSend); ok && e.processed.seen(ms.Message.ID) {
		e.mu.Unlock()
		e.metrics.EventIgnored("duplicate")
		e.logger.Debug("duplicate message ignored", zap.String("message_id", string(ms.Message.ID)))
		return
	}
	next, fx := r(e.state, evt, e.env())
	e.commit(next, fx)
	e.mu.Unlock()

	e.metrics.EventApplied(evt.Source())
	e.publish(evt.Source(), fx)
}

func (e *Engine) env() Env {
	return Env{Now: e.now()}
}

// commit must be called with e.mu held.
func (e *Engine) commit(next State, fx Effects) {
	e.state = next
	if fx.FriendList {
		e.kv.Save(store.KeyFriendList, next.persistedConversations())
	}
	for _, id := range fx.Histories {
		e.kv.Save(store.MessagesKey(id), next.Messages[id])
	}
	if fx.User != nil && e.session != nil {
		e.session.SetUser(*fx.User)
	}
}

func (e *Engine) publish(source string, fx Effects) {
	for _, n := range fx.Notes {
		e.bus.Notify(n)
	}
	e.bus.Emit(bus.KindStateChanged, StateChange{Source: source})
}

func (e *Engine) handleServerError(se protocol.ServerError) {
	if se.InvalidToken() {
		e.logger.Warn("server rejected access token, reauthenticating", zap.String("message", se.Message))
		if e.transport != nil {
			e.transport.Reauthenticate()
		}
		return
	}
	e.logger.Warn("server error", zap.String("message", se.Message))
	e.bus.Notify(bus.Notification{
		Kind:  bus.NotifyServerError,
		Title: "Server error",
		Body:  se.Message,
	})
}

// Start follows the session on the bus: sign-in sets the user, and logout,
// which may originate outside the engine (a rejected token refresh), clears
// the mirror.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("session.", 16)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				switch evt.Kind {
				case bus.KindLoggedOut:
					e.reset()
				case bus.KindSignedIn:
					if p, ok := evt.Payload.(model.Profile); ok {
						e.setUser(p)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) setUser(p model.Profile) {
	e.mu.Lock()
	s := e.state
	s.User = p
	e.state = s
	e.mu.Unlock()
	e.changed(bus.KindSignedIn)
}

// reset clears the mirror, its persisted copy and the commands queued for
// the departing account. Safe to call repeatedly.
func (e *Engine) reset() {
	e.mu.Lock()
	if e.transport != nil {
		e.transport.Discard()
	}
	keys := []string{store.KeyFriendList}
	for id := range e.state.Messages {
		keys = append(keys, store.MessagesKey(id))
	}
	for _, c := range e.state.Conversations {
		keys = append(keys, store.MessagesKey(c.ID))
	}
	e.kv.Delete(keys...)
	e.state = State{}
	e.processed.reset()
	e.mu.Unlock()

	e.logger.Info("local state cleared")
	e.bus.Emit(bus.KindStateChanged, StateChange{Source: bus.KindLoggedOut})
}
