package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/crisisconnect/internal/cfg"
	"github.com/linnemanlabs/crisisconnect/internal/triage"
	"github.com/linnemanlabs/crisisconnect/internal/triage/memstore"
	"github.com/linnemanlabs/crisisconnect/internal/triage/sqlitestore"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	// Create a real unixgram listener.
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}

	got := string(buf[:n])
	if got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestOpenStore_Memory(t *testing.T) {
	t.Parallel()

	s, closeStore, err := openStore(context.Background(), &vc.Config{}, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()
	if _, ok := s.(*memstore.Store); !ok {
		t.Errorf("store = %T, want *memstore.Store", s)
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	t.Parallel()

	c := &vc.Config{SQLitePath: filepath.Join(t.TempDir(), "help.db")}
	s, closeStore, err := openStore(context.Background(), c, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()
	if _, ok := s.(*sqlitestore.Store); !ok {
		t.Fatalf("store = %T, want *sqlitestore.Store", s)
	}

	created, err := s.Create(context.Background(), &triage.HelpRequest{Description: "smoke"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Get(context.Background(), created.ID); err != nil {
		t.Errorf("Get: %v", err)
	}
}

func TestOpenStore_PostgresUnreachable(t *testing.T) {
	t.Parallel()

	// port 1 on loopback refuses immediately
	c := &vc.Config{DatabaseURL: "postgres://crisis@127.0.0.1:1/crisis?connect_timeout=1"}
	_, _, err := openStore(context.Background(), c, log.Nop())
	if err == nil {
		t.Fatal("expected error for unreachable postgres")
	}
	if !strings.Contains(err.Error(), "postgres pool") {
		t.Errorf("error = %q, want substring %q", err, "postgres pool")
	}
}
