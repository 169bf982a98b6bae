package ai

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottledEmbedder serializes embedding calls and spaces them out to avoid
// provider throttling during bulk ingestion. Each call is also bounded by a
// fixed timeout; a timed-out call surfaces as a normal provider error.
type ThrottledEmbedder struct {
	inner   IEmbedder
	limiter *rate.Limiter
	timeout time.Duration
	mu      sync.Mutex
}

func NewThrottledEmbedder(inner IEmbedder, delay time.Duration, timeout time.Duration) *ThrottledEmbedder {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ThrottledEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		timeout: timeout,
	}
}

func (e *ThrottledEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.inner.Embed(callCtx, text, taskType)
}

func (e *ThrottledEmbedder) ModelName() string {
	return e.inner.ModelName()
}

// EmbedBatch embeds texts one at a time in order. The provider APIs in use
// accept single inputs, so a batch is just a paced sequence of calls.
func (e *ThrottledEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.Embed(ctx, text, taskType)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}
