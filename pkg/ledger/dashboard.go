package ledger

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/schedule"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/shopspring/decimal"
)

const recentBorrowers = 5

type DashboardStats struct {
	TotalMoneyLent  decimal.Decimal `json:"totalMoneyLent"`
	MonthlyInterest decimal.Decimal `json:"monthlyInterest"`
	TotalProfit     decimal.Decimal `json:"totalProfit"`
	ActiveLoans     int             `json:"activeLoans"`
	OnTimeRate      int             `json:"onTimeRate"`
}

type Dashboard struct {
	Stats           DashboardStats     `json:"stats"`
	RecentBorrowers []*models.Borrower `json:"recentBorrowers"`
}

// ComputeStats aggregates a lender's portfolio. Borrower statuses must already
// be current. The on-time rate is the share of active loans in good standing,
// rounded to a whole percent.
func ComputeStats(borrowers []*models.Borrower) DashboardStats {
	s := DashboardStats{
		TotalMoneyLent:  decimal.Zero,
		MonthlyInterest: decimal.Zero,
		TotalProfit:     decimal.Zero,
	}
	current := 0
	for _, b := range borrowers {
		s.TotalMoneyLent = s.TotalMoneyLent.Add(b.Principal)
		s.MonthlyInterest = s.MonthlyInterest.Add(b.MonthlyPayment)
		s.TotalProfit = s.TotalProfit.Add(schedule.UpfrontProfit(b.Principal))
		if schedule.Completed(b.MonthsPaid) {
			continue
		}
		s.ActiveLoans++
		if b.Status == models.StatusCurrent {
			current++
		}
	}
	if s.ActiveLoans > 0 {
		s.OnTimeRate = int(math.Round(100 * float64(current) / float64(s.ActiveLoans)))
	}
	return s
}

// Dashboard refreshes every status, recomputes the lender's stats, caches them
// on the lender record and returns them with the newest borrowers.
func (l *Ledger) Dashboard(ctx context.Context, lenderID uuid.UUID) (*Dashboard, error) {
	now := l.clock()
	borrowers, _, err := l.storage.ListBorrowers(ctx, lenderID, store.BorrowerFilter{})
	if err != nil {
		return nil, wrap("list borrowers", err)
	}
	if err := l.refresh(ctx, lenderID, borrowers, now); err != nil {
		return nil, err
	}

	stats := ComputeStats(borrowers)
	cached := models.LenderStats{
		TotalMoneyLent:  stats.TotalMoneyLent,
		MonthlyInterest: stats.MonthlyInterest,
		ActiveLoans:     stats.ActiveLoans,
		OnTimeRate:      stats.OnTimeRate,
	}
	if err := l.storage.UpdateLenderStats(ctx, lenderID, cached, now); err != nil {
		return nil, wrap("update lender stats", err)
	}

	recent := borrowers[:min(len(borrowers), recentBorrowers)]
	return &Dashboard{Stats: stats, RecentBorrowers: recent}, nil
}
