package notify

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"propchat/internal/domain"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := newTestHub()
	defer h.Close()

	ch := h.Subscribe()
	h.Error("u-1", "webhook unreachable")

	select {
	case n := <-ch:
		if n.Level != domain.NoticeError {
			t.Errorf("expected error level, got %q", n.Level)
		}
		if n.Message != "webhook unreachable" {
			t.Errorf("unexpected message: %q", n.Message)
		}
		if n.UserID != "u-1" {
			t.Errorf("unexpected user: %q", n.UserID)
		}
		if n.Timestamp.IsZero() {
			t.Error("timestamp should be auto-set")
		}
	case <-time.After(time.Second):
		t.Fatal("notice never arrived")
	}
}

func TestHub_FanOutToMultipleSubscribers(t *testing.T) {
	h := newTestHub()
	defer h.Close()

	a := h.Subscribe()
	b := h.Subscribe()

	h.Info("u-1", "hello")

	for _, ch := range []<-chan domain.Notice{a, b} {
		select {
		case n := <-ch:
			if n.Message != "hello" {
				t.Errorf("unexpected message: %q", n.Message)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed notice")
		}
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := newTestHub()
	defer h.Close()

	ch := h.Subscribe()
	h.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	h.Info("u-1", "after")
}

func TestHub_UnsubscribeTwiceIsSafe(t *testing.T) {
	h := newTestHub()
	defer h.Close()

	ch := h.Subscribe()
	h.Unsubscribe(ch)
	h.Unsubscribe(ch)
}

func TestHub_FullSubscriberDoesNotBlockPublish(t *testing.T) {
	h := newTestHub()
	defer h.Close()

	ch := h.Subscribe()
	for i := 0; i < subscriberBuffer+5; i++ {
		h.Info("u-1", "spam")
	}

	// Buffer holds exactly subscriberBuffer notices; the rest were dropped.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained != subscriberBuffer {
				t.Fatalf("expected %d buffered notices, got %d", subscriberBuffer, drained)
			}
			return
		}
	}
}

func TestHub_CloseClosesAllSubscribers(t *testing.T) {
	h := newTestHub()

	ch := h.Subscribe()
	h.Close()

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after hub close")
	}

	// Subscribe after close yields an already-closed channel.
	late := h.Subscribe()
	if _, open := <-late; open {
		t.Fatal("late subscription should be closed immediately")
	}

	// No panic on double close or post-close publish.
	h.Close()
	h.Publish(domain.Notice{Level: domain.NoticeInfo, Message: "x"})
}
