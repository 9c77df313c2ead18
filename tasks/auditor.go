package tasks

import (
	"context"
	"errors"
	log "github.com/sirupsen/logrus"
	"time"
	"tuiter/storage"
	"tuiter/storage/models"
)

const AuditPageSize = 500

type Resyncer interface {
	Resync(ctx context.Context, postId string) (models.Stats, bool, error)
}

type AuditReport struct {
	Checked  int
	Repaired int
	Failed   int
}

// StatsAuditor walks every tuit and rewrites counters that drifted from
// membership, e.g. after a toggle failed halfway without a transaction.
type StatsAuditor struct {
	posts    storage.PostRepository
	resyncer Resyncer
	interval time.Duration
	pageSize int
}

func NewStatsAuditor(posts storage.PostRepository, resyncer Resyncer, interval time.Duration) *StatsAuditor {
	return &StatsAuditor{
		posts:    posts,
		resyncer: resyncer,
		interval: interval,
		pageSize: AuditPageSize,
	}
}

// Run audits once per interval until ctx is done.
func (a *StatsAuditor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.interval):
			report, err := a.RunOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("Stats audit interrupted: %v", err)
			}
			log.WithFields(log.Fields{
				"checked":  report.Checked,
				"repaired": report.Repaired,
				"failed":   report.Failed,
			}).Info("Stats audit finished")
		}
	}
}

func (a *StatsAuditor) RunOnce(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	after := ""
	for {
		ids, err := a.posts.ListPostIds(ctx, after, a.pageSize)
		if err != nil {
			return report, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			_, repaired, err := a.resyncer.Resync(ctx, id)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				// Deleted since the page was read.
				continue
			case err != nil:
				log.Errorf("Could not audit tuit %s: %v", id, err)
				report.Failed++
				continue
			}
			report.Checked++
			if repaired {
				report.Repaired++
			}
		}
		if len(ids) < a.pageSize {
			return report, nil
		}
		after = ids[len(ids)-1]
	}
}
