package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/metrics"
	"github.com/mcclellann/lendtrack/pkg/notify"
	"github.com/mcclellann/lendtrack/pkg/store"
)

// Notifications builds the lender's due-date feed from a fresh read.
func (l *Ledger) Notifications(ctx context.Context, lenderID uuid.UUID) (notify.Result, error) {
	now := l.clock()
	borrowers, _, err := l.storage.ListBorrowers(ctx, lenderID, store.BorrowerFilter{})
	if err != nil {
		return notify.Result{}, wrap("list borrowers", err)
	}
	if err := l.refresh(ctx, lenderID, borrowers, now); err != nil {
		return notify.Result{}, err
	}

	res := notify.Build(borrowers, now)
	for _, n := range res.Notifications {
		metrics.NotificationsEmitted.WithLabelValues(string(n.Type)).Inc()
	}
	l.logger.Debug("notifications built",
		"lender_id", lenderID,
		"borrowers", len(borrowers),
		"notifications", len(res.Notifications),
		"overdue", res.Summary.Overdue,
	)
	return res, nil
}
