package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/status"
)

// chatServer is a minimal chat backend: it answers friend.list with one
// conversation and echoes every message.send with a server id.
func chatServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	upgrader := websocket.Upgrader{}
	friend := model.Conversation{
		ID:      "c1",
		Friend:  model.Profile{Username: "bob", Name: "Bob"},
		Updated: "2024-01-01T10:00:00Z",
	}

	r := gin.New()
	r.GET("/ws/chat/", func(c *gin.Context) {
		if c.Query("token") != "tok" {
			c.Status(http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var cmd struct {
				Source  string `json:"source"`
				Message string `json:"message"`
			}
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			var out any
			switch cmd.Source {
			case "friend.list":
				out = map[string]any{"source": "friend.list", "data": []model.Conversation{friend}}
			case "message.send":
				out = map[string]any{"source": "message.send", "data": map[string]any{
					"friend": friend,
					"message": model.Message{
						ID: "M1", IsMe: true, Text: cmd.Message, Type: model.TypeText, Created: "2024-01-02T10:00:00Z",
					},
				}}
			default:
				continue
			}
			if err := ws.WriteJSON(out); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/"
}

func testConfig(socketURL string) *config.Config {
	cfg := config.Default()
	cfg.Server.SocketURL = socketURL
	cfg.Server.RefreshURL = "http://127.0.0.1:1/refresh"
	cfg.Reconnect.PingIntervalMS = 0
	return cfg
}

func startApp(t *testing.T, p Params) *fx.App {
	t.Helper()
	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return app
}

func stopApp(t *testing.T, app *fx.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func shortTempDir(t *testing.T) string {
	t.Helper()
	// Use /tmp to stay under the Unix socket path length limit.
	dir, err := os.MkdirTemp("/tmp", "chatsync-d-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestDaemonLifecycle(t *testing.T) {
	tmpDir := shortTempDir(t)
	socketPath := filepath.Join(tmpDir, "d.sock")
	p := Params{
		SessionName: "test",
		Dir:         filepath.Join(tmpDir, "s"),
		SocketPath:  socketPath,
		Config:      testConfig(chatServer(t)),
		Logger:      zap.NewNop(),
	}
	ctx := context.Background()

	app := startApp(t, p)
	client, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	st, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.LoggedIn || st.State != status.Disconnected {
		t.Fatalf("initial status = %+v, want signed out and disconnected", st)
	}

	st, err = client.SignIn(ctx, api.SignInRequest{
		Tokens: model.Tokens{Access: "tok", Refresh: "r"},
		User:   model.Profile{Username: "alice", Name: "Alice"},
	})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if st.State != status.Open {
		t.Fatalf("state after sign-in = %s, want %s", st.State, status.Open)
	}

	waitFor(t, "friend list", func() bool {
		list, err := client.Conversations(ctx)
		return err == nil && len(list) == 1 && list[0].ID == "c1"
	})

	placeholder, err := client.Send(ctx, api.SendRequest{ConversationID: "c1", Text: "hello"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !placeholder.ID.IsTemporary() {
		t.Errorf("placeholder id = %q, want a temporary id", placeholder.ID)
	}
	waitFor(t, "confirmed message", func() bool {
		page, err := client.Messages(ctx, "c1", false)
		return err == nil && len(page.Messages) == 1 && page.Messages[0].ID == "M1"
	})
	stopApp(t, app)

	// A second run hydrates from disk and reconnects with the stored tokens.
	app = startApp(t, p)
	defer stopApp(t, app)
	client2, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client2.Close() }()

	page, err := client2.Messages(ctx, "c1", false)
	if err != nil {
		t.Fatalf("Messages() after restart error = %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Text != "hello" {
		t.Errorf("messages after restart = %+v", page.Messages)
	}
	waitFor(t, "auto-connect", func() bool {
		st, err := client2.Status(ctx)
		return err == nil && st.LoggedIn && st.State == status.Open && st.User.Username == "alice"
	})
}

func TestSecondDaemonFailsOnLock(t *testing.T) {
	tmpDir := shortTempDir(t)
	cfg := testConfig("ws://127.0.0.1:1/ws/chat/")
	p := Params{
		SessionName: "test",
		Dir:         filepath.Join(tmpDir, "s"),
		SocketPath:  filepath.Join(tmpDir, "a.sock"),
		Config:      cfg,
		Logger:      zap.NewNop(),
	}
	app := startApp(t, p)
	defer stopApp(t, app)

	p.SocketPath = filepath.Join(tmpDir, "b.sock")
	second := fx.New(Module(p), fx.NopLogger)
	if err := second.Err(); err == nil || !strings.Contains(err.Error(), "session lock held") {
		t.Fatalf("second daemon error = %v, want lock held", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "a.sock")); err != nil {
		t.Errorf("first daemon socket disturbed: %v", err)
	}
}

func TestMetricsServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.EventApplied("friend.list")

	cfg := config.Default()
	if NewMetricsServer(cfg, reg, zap.NewNop()).Handler() != nil {
		t.Error("metrics handler present without listen_addr")
	}

	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	h := NewMetricsServer(cfg, reg, zap.NewNop()).Handler()
	if h == nil {
		t.Fatal("metrics handler missing")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `chatsync_events_applied_total{source="friend.list"} 1`) {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestNewServerUsesSocketOverride(t *testing.T) {
	tmpDir := shortTempDir(t)
	socketPath := filepath.Join(tmpDir, "d.sock")

	p := Params{SessionName: "fxtest", SocketPath: socketPath}
	srv, err := NewServer(p, zap.NewNop(), api.NewService("fxtest", nil, nil, nil, nil, nil, nil))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after Stop: %v", err)
	}
}
