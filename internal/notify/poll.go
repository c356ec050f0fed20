package notify

import "context"

// PollNotifier is the universal fallback: it never itself fires, so a
// caller selecting on its channel alongside a ticker degrades to pure
// polling. No code in fluxion outside its test constructs one; the sqlite
// backend's own Notify returns a nil channel directly.
type PollNotifier struct{}

// NewPollNotifier constructs the no-op notifier.
func NewPollNotifier() *PollNotifier { return &PollNotifier{} }

// Notify returns a nil channel: selecting on a nil channel blocks forever,
// which is exactly "defer entirely to the ticker" for a select loop.
func (PollNotifier) Notify(ctx context.Context) (<-chan struct{}, error) { return nil, nil }

func (PollNotifier) Close() error { return nil }
