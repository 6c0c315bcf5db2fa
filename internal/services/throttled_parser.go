package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/gradepipe/gradepipe/internal/ratelimit"
	"github.com/gradepipe/gradepipe/pkg/domain"
)

// throttledParser wraps a DocumentParser behind a shared token bucket, so
// refresh bursts across processes stay under the document platform's parse
// quota instead of tripping it.
type throttledParser struct {
	inner   DocumentParser
	limiter ratelimit.Limiter
	bucket  ratelimit.Bucket
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewThrottledParser decorates parser with the limiter. A nil limiter or a
// disabled bucket makes the decorator pass-through.
func NewThrottledParser(parser DocumentParser, limiter ratelimit.Limiter, bucket ratelimit.Bucket, logger *slog.Logger) DocumentParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &throttledParser{
		inner:   parser,
		limiter: limiter,
		bucket:  bucket,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func (p *throttledParser) ParseTasks(ctx context.Context, refDocID, tmplDocID string) ([]domain.ParsedTask, error) {
	if p.limiter == nil || !p.bucket.Enabled() {
		return p.inner.ParseTasks(ctx, refDocID, tmplDocID)
	}
	for {
		dec, err := p.limiter.Allow(ctx, "parse", refDocID, p.bucket)
		if err != nil {
			// A broken limiter must not block grading; log and proceed.
			p.logger.Warn("parse rate limiter unavailable, proceeding", "error", err)
			break
		}
		if dec.Allowed {
			break
		}
		p.logger.Info("parse rate limited, waiting", "document", refDocID, "retryAfter", dec.RetryAfter)
		if err := p.sleep(ctx, dec.RetryAfter); err != nil {
			return nil, err
		}
	}
	return p.inner.ParseTasks(ctx, refDocID, tmplDocID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
