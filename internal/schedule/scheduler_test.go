package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type blockingJob struct {
	mu      sync.Mutex
	started int
	release chan struct{}
}

func (j *blockingJob) Name() string { return "blocking" }

func (j *blockingJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.started++
	j.mu.Unlock()
	<-j.release
	return nil
}

func (j *blockingJob) startedCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

func TestGuardedSkipsOverlappingRun(t *testing.T) {
	s := NewCronScheduler()
	job := &blockingJob{release: make(chan struct{})}
	fire := s.guarded(job)

	done := make(chan struct{})
	go func() {
		fire()
		close(done)
	}()
	require.Eventually(t, func() bool { return job.startedCount() == 1 }, time.Second, time.Millisecond)

	// second firing while the first is still blocked must be dropped
	fire()
	require.Equal(t, 1, job.startedCount())

	close(job.release)
	<-done

	// once the first run finished the guard is free again
	fire()
	require.Equal(t, 2, job.startedCount())
}

func TestAddJobRejectsBadExpression(t *testing.T) {
	s := NewCronScheduler()
	err := s.AddJob(&blockingJob{release: make(chan struct{})}, "not a cron expr")
	require.Error(t, err)
	require.Contains(t, err.Error(), "blocking")
}
