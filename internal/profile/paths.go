package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.smsd.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smsd")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the message store path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "smsd.db")
}

// SocketPath returns the radio gateway socket path for a profile.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "gateway.sock")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "smsd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
