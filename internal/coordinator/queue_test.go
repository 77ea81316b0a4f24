package coordinator

import (
	"testing"
	"time"
)

func TestPeerQueuePushPop(t *testing.T) {
	q := NewPeerQueue()
	q.Push("1.2.3.4:6881", "5.6.7.8:6882")

	addr, ok := q.Pop()
	if !ok || addr != "1.2.3.4:6881" {
		t.Fatalf("got %q, %v", addr, ok)
	}
	addr, ok = q.Pop()
	if !ok || addr != "5.6.7.8:6882" {
		t.Fatalf("got %q, %v", addr, ok)
	}
}

func TestPeerQueuePopBlocksUntilPush(t *testing.T) {
	q := NewPeerQueue()
	done := make(chan string, 1)
	go func() {
		addr, ok := q.Pop()
		if !ok {
			done <- ""
			return
		}
		done <- addr
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before any Push")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push("9.9.9.9:1111")
	select {
	case addr := <-done:
		if addr != "9.9.9.9:1111" {
			t.Errorf("got %q", addr)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestPeerQueueDrainReplacesContents(t *testing.T) {
	q := NewPeerQueue()
	q.Push("stale:1", "stale:2")
	q.Drain("fresh:1")

	addr, ok := q.Pop()
	if !ok || addr != "fresh:1" {
		t.Fatalf("got %q, %v", addr, ok)
	}

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	select {
	case <-done:
		t.Fatal("expected Pop to block, stale entries were not drained")
	case <-time.After(50 * time.Millisecond):
	}
	q.Close()
	if ok := <-done; ok {
		t.Error("expected Pop to return ok=false after Close")
	}
}

func TestPeerQueueCloseWakesBlockedConsumers(t *testing.T) {
	q := NewPeerQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Close")
	}
}

func TestPeerQueuePushAfterCloseIsNoOp(t *testing.T) {
	q := NewPeerQueue()
	q.Close()
	q.Push("a:1")

	_, ok := q.Pop()
	if ok {
		t.Error("expected Pop to report closed queue even after a post-close Push")
	}
}
