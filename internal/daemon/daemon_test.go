package daemon

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/smsd/internal/address"
	"github.com/matheus3301/smsd/internal/bus"
	"github.com/matheus3301/smsd/internal/config"
	"github.com/matheus3301/smsd/internal/dedup"
	"github.com/matheus3301/smsd/internal/index"
	"github.com/matheus3301/smsd/internal/lock"
	"github.com/matheus3301/smsd/internal/pipeline"
	"github.com/matheus3301/smsd/internal/store"
	"github.com/matheus3301/smsd/internal/transport"
	"go.uber.org/zap"
)

// TestDaemonLifecycle wires the daemon components by hand, connects as
// the radio process and drives an inbound message end to end: socket
// frame, bus, engine, store, index.
func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid the Unix socket length limit.
	tmpDir, err := os.MkdirTemp("/tmp", "smsd-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	profileDir := filepath.Join(tmpDir, "main")
	socketPath := filepath.Join(profileDir, "g.sock")
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(profileDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(profileDir, "smsd.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	cfg := config.Default()
	b := bus.New()
	idx := index.New(nil)
	engine := pipeline.NewEngine(db, b,
		address.NewResolver(db, logger),
		dedup.NewGuard(db, cfg.DedupWindow(), cfg.Ingest.DedupScanLimit),
		idx, cfg, logger)

	gw, err := transport.NewGateway(socketPath, transport.NewHandler(b, logger), logger)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = gw.Start() }()
	defer gw.Stop()

	engine.Start(context.Background())
	defer engine.Stop()
	if err := engine.RebuildIndex(); err != nil {
		t.Fatal(err)
	}

	// Connect as the radio process and deliver an inbound message.
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	payload, err := json.Marshal(map[string]any{
		"type":      "inbound",
		"addresses": []string{"+1 555 123 4567"},
		"body":      "hello from the radio",
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		conv, err := db.FindConversationByMatcher(address.Matcher("+15551234567"))
		if err != nil {
			t.Fatal(err)
		}
		if conv != nil {
			if conv.Snippet != "hello from the radio" {
				t.Errorf("snippet = %q", conv.Snippet)
			}
			if idx.Len() != 1 {
				t.Errorf("index length = %d, want 1", idx.Len())
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("inbound message never reached the store")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestLockPreventsSecondDaemon verifies one daemon per profile.
func TestLockPreventsSecondDaemon(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "smsd-lock-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	lk, err := lock.Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	if _, err := lock.Acquire(tmpDir); err == nil {
		t.Fatal("second Acquire should fail while lock is held")
	}
}
