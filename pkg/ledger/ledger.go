package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/metrics"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/schedule"
	"github.com/mcclellann/lendtrack/pkg/store"
	"golang.org/x/crypto/bcrypt"
)

// Ledger handles the business logic for lenders, borrowers and payments.
type Ledger struct {
	storage    store.Storage
	now        func() time.Time
	logger     *slog.Logger
	bcryptCost int
}

type Option func(*Ledger)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithBcryptCost(cost int) Option {
	return func(l *Ledger) { l.bcryptCost = cost }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:    s,
		now:        time.Now,
		logger:     slog.Default(),
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) clock() time.Time {
	return l.now().UTC()
}

// refresh re-derives each borrower's status, rewrites the stored copy where it
// drifted and fills in the read-only fields.
func (l *Ledger) refresh(ctx context.Context, lenderID uuid.UUID, borrowers []*models.Borrower, now time.Time) error {
	for _, b := range borrowers {
		standing := schedule.DeriveStatus(b.AccountStartDate, b.MonthsPaid, now)
		if b.Status != standing.Status {
			if err := l.storage.UpdateBorrowerStatus(ctx, lenderID, b.ID, standing.Status); err != nil {
				return wrap("refresh borrower status", err)
			}
			l.logger.Debug("borrower status rewritten",
				"borrower_id", b.ID, "from", b.Status, "to", standing.Status)
			metrics.StatusRewrites.Inc()
			b.Status = standing.Status
		}
		decorate(b, standing, now)
	}
	return nil
}

// decorate fills in the fields that are computed on read.
func decorate(b *models.Borrower, standing schedule.Standing, now time.Time) {
	b.PaidThisMonth = schedule.PaidThisMonth(b.LastPaymentAt, now)
	b.MonthsBehind = max(standing.MonthsBehind, 0)
	b.NextDueDate = nil
	if due, ok := schedule.NextDueDate(b.AccountStartDate, b.MonthsPaid, b.PaidThisMonth, now); ok {
		b.NextDueDate = &due
	}
}
