package events

import (
	"context"
	"errors"

	"github.com/vsariola/kantele/engine"
	"go.uber.org/zap"
)

type (
	// Handler is called for every notification a subscription receives.
	Handler func(ctx context.Context, n engine.Notification) error

	// Bus publishes notifications and delivers them to subscribers.
	// Subscriptions end when the context passed to Subscribe is done.
	Bus interface {
		Publish(ctx context.Context, n engine.Notification) error
		Subscribe(ctx context.Context, handler Handler) error
		Close() error
	}

	// Multi publishes to every bus and subscribes on the first one.
	Multi []Bus
)

func (m Multi) Publish(ctx context.Context, n engine.Notification) error {
	var errs []error
	for _, b := range m {
		if err := b.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Subscribe(ctx context.Context, handler Handler) error {
	if len(m) == 0 {
		return errors.New("events: no bus to subscribe to")
	}
	return m[0].Subscribe(ctx, handler)
}

func (m Multi) Close() error {
	var errs []error
	for _, b := range m {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forward publishes every notification received from c until c is closed
// or ctx is done. Publish failures are logged and do not stop forwarding.
func Forward(ctx context.Context, c <-chan engine.Notification, bus Bus, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-c:
			if !ok {
				return
			}
			if err := bus.Publish(ctx, n); err != nil {
				logger.Warn("failed to publish notification",
					zap.Stringer("kind", n.Kind),
					zap.Error(err))
			}
		}
	}
}
