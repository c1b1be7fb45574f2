package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/opshttp"

	cw "github.com/linnemanlabs/channelwatch/internal/cfg"
)

func TestCrossChecks(t *testing.T) {
	t.Parallel()

	appCfg := &cw.Config{APIPort: 8080}
	opsCfg := &opshttp.Config{Port: 9090}
	if err := crossChecks(appCfg, opsCfg); err != nil {
		t.Errorf("distinct ports: %v", err)
	}

	opsCfg.Port = 8080
	err := crossChecks(appCfg, opsCfg)
	if err == nil {
		t.Fatal("expected error when api and ops listeners share a port")
	}
	if !strings.Contains(err.Error(), "must differ") {
		t.Errorf("error = %q", err)
	}
}

func TestNotifySystemd(t *testing.T) {
	t.Run("unset socket", func(t *testing.T) {
		t.Setenv("NOTIFY_SOCKET", "")
		if err := notifySystemd(); err == nil || !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
			t.Errorf("err = %v, want NOTIFY_SOCKET not set", err)
		}
	})

	t.Run("dead socket path", func(t *testing.T) {
		t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "gone.sock"))
		if err := notifySystemd(); err == nil || !strings.Contains(err.Error(), "dial failed") {
			t.Errorf("err = %v, want dial failure", err)
		}
	})

	t.Run("ready datagram delivered", func(t *testing.T) {
		sock := filepath.Join(t.TempDir(), "notify.sock")
		var lc net.ListenConfig
		conn, err := lc.ListenPacket(context.Background(), "unixgram", sock)
		if err != nil {
			t.Fatalf("listen unixgram: %v", err)
		}
		defer func() { _ = conn.Close() }()

		t.Setenv("NOTIFY_SOCKET", sock)
		if err := notifySystemd(); err != nil {
			t.Fatalf("notifySystemd: %v", err)
		}

		buf := make([]byte, 64)
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			t.Fatalf("read datagram: %v", err)
		}
		if got := string(buf[:n]); got != "READY=1" {
			t.Errorf("datagram = %q, want READY=1", got)
		}
	})
}
