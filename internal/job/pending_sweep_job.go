package job

import (
	"context"

	"github.com/corbeau/kbserve/internal/ingest"
)

const pendingBatchSize = 20

// PendingSweepJob picks up documents stuck in pending, typically after a
// crash between upload and the async process kick-off.
type PendingSweepJob struct {
	processor *ingest.Processor
	docs      ingest.PendingLister
}

func NewPendingSweepJob(processor *ingest.Processor, docs ingest.PendingLister) *PendingSweepJob {
	return &PendingSweepJob{processor: processor, docs: docs}
}

func (j *PendingSweepJob) Name() string {
	return "pending_sweep"
}

func (j *PendingSweepJob) Run(ctx context.Context) error {
	if j.processor == nil || j.docs == nil {
		return nil
	}
	return j.processor.ProcessPending(ctx, j.docs, pendingBatchSize)
}
