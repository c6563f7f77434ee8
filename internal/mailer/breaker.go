package mailer

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker wraps a Sender with a circuit breaker. While the relay keeps
// failing, sends fail immediately with gobreaker.ErrOpenState instead of
// waiting on SMTP timeouts.
type Breaker struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

type BreakerSettings struct {
	Name string
	// ConsecutiveFailures trips the breaker. Zero means 5.
	ConsecutiveFailures uint32
	// Cooldown before a trial send is allowed. Zero means 30s.
	Cooldown time.Duration
}

func NewBreaker(next Sender, set BreakerSettings, log *zap.Logger) *Breaker {
	if set.Name == "" {
		set.Name = "mailer"
	}
	if set.ConsecutiveFailures == 0 {
		set.ConsecutiveFailures = 5
	}
	if set.Cooldown <= 0 {
		set.Cooldown = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	threshold := set.ConsecutiveFailures

	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        set.Name,
			MaxRequests: 1,
			Timeout:     set.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("Circuit breaker state change",
					zap.String("name", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

func (b *Breaker) Send(ctx context.Context, m Message) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, m)
	})
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
