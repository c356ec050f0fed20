package notify

import (
	"context"
	"testing"
)

func TestPollNotifierReturnsNilChannel(t *testing.T) {
	n := NewPollNotifier()
	ch, err := n.Notify(context.Background())
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if ch != nil {
		t.Fatalf("expected nil channel from PollNotifier, got %v", ch)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
