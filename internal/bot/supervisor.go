package bot

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/wcf-bot/internal/gateway"
	"go.uber.org/zap"
)

// State is a phase of the connection supervisor.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// EventSource opens the gateway event stream.
type EventSource interface {
	Subscribe(ctx context.Context) (gateway.Stream, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Supervisor keeps the event stream open, reconnecting with backoff, and
// hands every line to the handler on the calling goroutine.
type Supervisor struct {
	source    EventSource
	handle    func(ctx context.Context, line string)
	backoff   *Backoff
	authDelay time.Duration
	sleep     Sleeper
	onState   func(State)
	logger    *zap.Logger
}

type SupervisorOption func(*Supervisor)

// WithSleeper replaces the real timer, mainly for tests.
func WithSleeper(sleep Sleeper) SupervisorOption {
	return func(s *Supervisor) { s.sleep = sleep }
}

// WithAuthDelay sets the minimum wait after the gateway rejects the key.
func WithAuthDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.authDelay = d }
}

func WithBackoff(b *Backoff) SupervisorOption {
	return func(s *Supervisor) { s.backoff = b }
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) SupervisorOption {
	return func(s *Supervisor) { s.onState = fn }
}

func NewSupervisor(source EventSource, handle func(ctx context.Context, line string), logger *zap.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		source:    source,
		handle:    handle,
		backoff:   NewBackoff(DefaultInitialDelay, DefaultMaxDelay),
		authDelay: DefaultMaxDelay,
		sleep:     sleepContext,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) setState(st State) {
	if s.onState != nil {
		s.onState(st)
	}
}

// Run loops until ctx is cancelled and returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateDisconnected)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.setState(StateConnecting)
		stream, err := s.source.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := s.backoff.Next()
			if errors.Is(err, gateway.ErrUnauthorized) {
				delay = max(delay, s.authDelay)
				s.logger.Error("Gateway rejected API key, check wcf_api_key",
					zap.Error(err),
					zap.Duration("retry_in", delay))
			} else {
				s.logger.Warn("Failed to open event stream",
					zap.Error(err),
					zap.Duration("retry_in", delay))
			}
			if err := s.wait(ctx, delay); err != nil {
				return err
			}
			continue
		}

		s.backoff.Reset()
		s.setState(StateStreaming)
		s.logger.Info("Event stream connected")
		err = s.consume(ctx, stream)
		if cerr := stream.Close(); cerr != nil {
			s.logger.Debug("Failed to close event stream", zap.Error(cerr))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := s.backoff.Next()
		s.logger.Warn("Event stream interrupted",
			zap.Error(err),
			zap.Duration("retry_in", delay))
		if err := s.wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Supervisor) consume(ctx context.Context, stream gateway.Stream) error {
	for {
		line, err := stream.Next()
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.handle(ctx, line)
	}
}

func (s *Supervisor) wait(ctx context.Context, d time.Duration) error {
	s.setState(StateBackoff)
	return s.sleep(ctx, d)
}
