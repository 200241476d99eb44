package bot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xaenox/wcf-bot/internal/gateway"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBackoffSequence(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, 30*time.Second)
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Fatalf("Next() #%d = %s, want %s", i, got, w*time.Second)
		}
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("Next() after Reset = %s, want 1s", got)
	}
}

func recordingSleeper(delays *[]time.Duration) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestSupervisorBackoffOnTransientFailures(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{cancel: cancel}
	for i := 0; i < 7; i++ {
		src.results = append(src.results, subscribeResult{err: fmt.Errorf("dial: connection refused")})
	}
	var delays []time.Duration
	s := NewSupervisor(src, func(context.Context, string) {}, zap.NewNop(), WithSleeper(recordingSleeper(&delays)))

	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v seconds", delays, want)
	}
	for i := range want {
		if delays[i] != want[i]*time.Second {
			t.Fatalf("delays = %v, want %v seconds", delays, want)
		}
	}
}

func TestSupervisorResetsAfterStreamOpens(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := &sliceStream{lines: []string{"a", "b"}, end: errors.New("unexpected EOF in chunked body")}
	src := &scriptedSource{cancel: cancel, results: []subscribeResult{
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{stream: stream},
		{err: errors.New("refused")},
	}}

	var (
		delays []time.Duration
		lines  []string
		states []State
	)
	s := NewSupervisor(src, func(_ context.Context, line string) { lines = append(lines, line) }, zap.NewNop(),
		WithSleeper(recordingSleeper(&delays)),
		WithStateHook(func(st State) { states = append(states, st) }))

	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v", err)
	}
	// 1,2,4 before the open; the stream drop restarts at 1, then 2.
	want := []time.Duration{1, 2, 4, 1, 2}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i]*time.Second {
			t.Fatalf("delays = %v, want %v seconds", delays, want)
		}
	}
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Fatalf("lines = %v", lines)
	}
	if !stream.closed {
		t.Fatalf("stream not closed after interruption")
	}

	sawStreaming := false
	for i, st := range states {
		if st == StateStreaming {
			sawStreaming = true
			if states[i-1] != StateConnecting || states[i+1] != StateBackoff {
				t.Fatalf("states around streaming = %v", states)
			}
		}
	}
	if !sawStreaming {
		t.Fatalf("states = %v, never streaming", states)
	}
}

func TestSupervisorAuthFailureWaitsLong(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptedSource{cancel: cancel, results: []subscribeResult{
		{err: fmt.Errorf("subscribe: %w (status 401)", gateway.ErrUnauthorized)},
	}}
	core, logs := observer.New(zapcore.InfoLevel)
	var delays []time.Duration
	s := NewSupervisor(src, func(context.Context, string) {}, zap.New(core),
		WithSleeper(recordingSleeper(&delays)),
		WithAuthDelay(45*time.Second))

	_ = s.Run(ctx)
	if len(delays) != 1 || delays[0] != 45*time.Second {
		t.Fatalf("delays = %v, want [45s]", delays)
	}
	if logs.FilterMessageSnippet("rejected API key").Len() != 1 {
		t.Fatalf("auth failure not logged: %v", logs.All())
	}
}

func TestSupervisorStopsWhenCancelledDuringSleep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{cancel: cancel, results: []subscribeResult{{err: errors.New("refused")}}}
	s := NewSupervisor(src, func(context.Context, string) {}, zap.NewNop(),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}))
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if src.calls != 1 {
		t.Fatalf("Subscribe calls = %d, want 1", src.calls)
	}
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepContext() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepContext(cancelled) error = %v", err)
	}
}
