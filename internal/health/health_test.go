package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewServerWithListener(lis, nil)
	go func() { _ = s.Serve() }()
	t.Cleanup(s.Stop)
	return s
}

func TestCheckReflectsServingStatus(t *testing.T) {
	t.Parallel()

	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Ping(ctx, s.Addr(), RelayService); !errors.Is(err, ErrNotServing) {
		t.Fatalf("expected not serving before first check, got %v", err)
	}

	s.SetServing(true)
	if err := Ping(ctx, s.Addr(), RelayService); err != nil {
		t.Fatalf("expected serving, got %v", err)
	}
	if err := Ping(ctx, s.Addr(), ""); err != nil {
		t.Fatalf("overall status should be serving, got %v", err)
	}
}

func TestWatchFlipsStatusOnFailedCheck(t *testing.T) {
	t.Parallel()

	s := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failing atomic.Bool
	healthy := func(context.Context) error {
		if failing.Load() {
			return errors.New("database unreachable")
		}
		return nil
	}
	go s.Watch(ctx, 20*time.Millisecond, healthy)

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer checkCancel()
	waitUntil(t, func() bool { return Ping(checkCtx, s.Addr(), RelayService) == nil })

	failing.Store(true)
	waitUntil(t, func() bool { return errors.Is(Ping(checkCtx, s.Addr(), RelayService), ErrNotServing) })
}

func TestCheckUnreachable(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := Ping(ctx, addr, ""); err == nil {
		t.Fatal("expected check failure")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
