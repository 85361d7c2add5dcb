package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatsync.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// Layout names the files inside one session directory.
type Layout struct {
	Dir string
}

// For returns the layout of the named session.
func For(name string) Layout {
	return Layout{Dir: Dir(name)}
}

func (l Layout) Socket() string { return filepath.Join(l.Dir, "daemon.sock") }
func (l Layout) Lock() string   { return filepath.Join(l.Dir, "LOCK") }
func (l Layout) DB() string     { return filepath.Join(l.Dir, "chatsync.db") }
func (l Layout) LogDir() string { return filepath.Join(l.Dir, "logs") }
func (l Layout) Log() string    { return filepath.Join(l.LogDir(), "chatsyncd.log") }

// Ensure creates the directory tree with proper permissions.
func (l Layout) Ensure() error {
	for _, d := range []string{l.Dir, l.LogDir()} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// SocketPath returns the control socket path for a session.
func SocketPath(name string) string {
	return For(name).Socket()
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return For(name).Lock()
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}
