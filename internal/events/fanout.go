package events

import (
	"context"

	"go.uber.org/zap"
)

// Fanout forwards every event to all publishers. A failing publisher is
// logged and does not stop delivery to the rest.
type Fanout struct {
	logger     *zap.Logger
	publishers []Publisher
	onError    func(event Envelope, err error)
}

// NewFanout constructs a Fanout. Nil publishers are skipped.
func NewFanout(logger *zap.Logger, publishers ...Publisher) *Fanout {
	f := &Fanout{logger: logger}
	for _, p := range publishers {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
	return f
}

// OnError registers a hook invoked for each failed delivery
func (f *Fanout) OnError(fn func(event Envelope, err error)) {
	f.onError = fn
}

// Add appends a publisher
func (f *Fanout) Add(p Publisher) {
	if p != nil {
		f.publishers = append(f.publishers, p)
	}
}

// Publish delivers the event to every publisher and always returns nil
func (f *Fanout) Publish(ctx context.Context, event Envelope) error {
	if f == nil {
		return nil
	}
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			f.logger.Warn("event delivery failed",
				zap.String("event_type", event.Type),
				zap.Error(err),
			)
			if f.onError != nil {
				f.onError(event, err)
			}
		}
	}
	return nil
}
