package job

import (
	"context"
	"time"

	"github.com/corbeau/kbserve/internal/repo"
)

type QueryLogCleanupJob struct {
	repo          *repo.QueryLogRepo
	retentionDays int
}

func NewQueryLogCleanupJob(repo *repo.QueryLogRepo, retentionDays int) *QueryLogCleanupJob {
	return &QueryLogCleanupJob{repo: repo, retentionDays: retentionDays}
}

func (j *QueryLogCleanupJob) Name() string {
	return "query_log_cleanup"
}

func (j *QueryLogCleanupJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	retentionDays := j.retentionDays
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli()
	_, err := j.repo.DeleteBefore(ctx, cutoff)
	return err
}
