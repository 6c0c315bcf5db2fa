package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gradepipe/gradepipe/internal/ratelimit"
)

type fakeLimiter struct {
	decisions []ratelimit.Decision
	err       error
	calls     int
}

func (f *fakeLimiter) Allow(ctx context.Context, scope, subject string, bucket ratelimit.Bucket) (ratelimit.Decision, error) {
	f.calls++
	if f.err != nil {
		return ratelimit.Decision{}, f.err
	}
	dec := f.decisions[0]
	if len(f.decisions) > 1 {
		f.decisions = f.decisions[1:]
	}
	return dec, nil
}

func throttled(parser DocumentParser, limiter ratelimit.Limiter) *throttledParser {
	p := NewThrottledParser(parser, limiter, ratelimit.Bucket{RequestsPerMinute: 60, BurstSize: 1}, nil).(*throttledParser)
	p.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return p
}

func TestThrottledParserPassThroughWhenAllowed(t *testing.T) {
	inner := &fakeParser{tasks: parsedTasks()}
	limiter := &fakeLimiter{decisions: []ratelimit.Decision{{Allowed: true}}}
	p := throttled(inner, limiter)

	tasks, err := p.ParseTasks(context.Background(), "ref-1", "tmpl-1")
	if err != nil {
		t.Fatalf("ParseTasks: %v", err)
	}
	if len(tasks) != 1 || inner.calls != 1 {
		t.Errorf("tasks=%d inner calls=%d", len(tasks), inner.calls)
	}
	if limiter.calls != 1 {
		t.Errorf("limiter calls = %d, want 1", limiter.calls)
	}
}

func TestThrottledParserWaitsThenParses(t *testing.T) {
	inner := &fakeParser{tasks: parsedTasks()}
	limiter := &fakeLimiter{decisions: []ratelimit.Decision{
		{Allowed: false, RetryAfter: time.Second},
		{Allowed: true},
	}}
	p := throttled(inner, limiter)

	if _, err := p.ParseTasks(context.Background(), "ref-1", "tmpl-1"); err != nil {
		t.Fatalf("ParseTasks: %v", err)
	}
	if limiter.calls != 2 {
		t.Errorf("limiter calls = %d, want 2", limiter.calls)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestThrottledParserHonorsContextWhileWaiting(t *testing.T) {
	inner := &fakeParser{tasks: parsedTasks()}
	limiter := &fakeLimiter{decisions: []ratelimit.Decision{
		{Allowed: false, RetryAfter: time.Minute},
	}}
	p := throttled(inner, limiter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.ParseTasks(ctx, "ref-1", "tmpl-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("ParseTasks = %v, want context.Canceled", err)
	}
	if inner.calls != 0 {
		t.Errorf("inner called despite cancellation: %d", inner.calls)
	}
}

func TestThrottledParserFailsOpenOnLimiterError(t *testing.T) {
	inner := &fakeParser{tasks: parsedTasks()}
	limiter := &fakeLimiter{err: errors.New("redis down")}
	p := throttled(inner, limiter)

	if _, err := p.ParseTasks(context.Background(), "ref-1", "tmpl-1"); err != nil {
		t.Fatalf("ParseTasks: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestThrottledParserSkipsLimiterWhenDisabled(t *testing.T) {
	inner := &fakeParser{tasks: parsedTasks()}
	limiter := &fakeLimiter{decisions: []ratelimit.Decision{{Allowed: false}}}
	p := NewThrottledParser(inner, limiter, ratelimit.Bucket{}, nil)

	if _, err := p.ParseTasks(context.Background(), "ref-1", "tmpl-1"); err != nil {
		t.Fatalf("ParseTasks: %v", err)
	}
	if limiter.calls != 0 {
		t.Errorf("limiter consulted despite disabled bucket: %d", limiter.calls)
	}
}
