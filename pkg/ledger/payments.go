package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/metrics"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/schedule"
	"github.com/mcclellann/lendtrack/pkg/store"
)

type PaymentResult struct {
	Borrower  *models.Borrower `json:"borrower"`
	Completed bool             `json:"completed"`
}

// MarkPaid records one monthly payment. The increment happens in a single
// conditional write, so concurrent calls each count exactly once. A non-zero
// expectedVersion must match the stored version. Completed loans are rejected
// with ErrLoanCompleted and left untouched.
func (l *Ledger) MarkPaid(ctx context.Context, lenderID, borrowerID uuid.UUID, expectedVersion int64) (*PaymentResult, error) {
	now := l.clock()
	b, err := l.storage.RecordPayment(ctx, lenderID, borrowerID, store.PaymentUpdate{
		PaidAt:          now,
		ExpectedVersion: expectedVersion,
		TermMonths:      schedule.TermMonths,
	})
	if err != nil {
		metrics.PaymentsRecorded.WithLabelValues(paymentOutcome(err)).Inc()
		return nil, wrap("record payment", err)
	}

	// Status stays as written (current or paid) until the next read re-derives it.
	decorate(b, schedule.DeriveStatus(b.AccountStartDate, b.MonthsPaid, now), now)

	res := &PaymentResult{Borrower: b, Completed: schedule.Completed(b.MonthsPaid)}
	outcome := "recorded"
	if res.Completed {
		outcome = "completed"
	}
	metrics.PaymentsRecorded.WithLabelValues(outcome).Inc()
	l.logger.Info("payment recorded",
		"lender_id", lenderID,
		"borrower_id", borrowerID,
		"months_paid", b.MonthsPaid,
		"status", b.Status,
		"completed", res.Completed,
	)
	return res, nil
}

func paymentOutcome(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrLoanCompleted):
		return "already_completed"
	}
	return "error"
}
