// Package schedule holds the repayment-plan arithmetic: calendar month
// math, a borrower's standing and the next due date.
package schedule

import (
	"time"

	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/shopspring/decimal"
)

// TermMonths is the length of every repayment plan. A borrower with this many
// recorded payments has repaid the loan.
const TermMonths = 10

var (
	termMonths        = decimal.NewFromInt(TermMonths)
	upfrontProfitRate = decimal.RequireFromString("0.20")
)

// Standing is the result of deriving a borrower's status.
type Standing struct {
	Status           models.Status
	MonthsBehind     int // May be negative when the borrower paid ahead
	AccountAgeMonths int
}

// MonthlyPayment is the fixed instalment for a principal: principal / TermMonths, in cents.
func MonthlyPayment(principal decimal.Decimal) decimal.Decimal {
	return principal.Div(termMonths).Round(2)
}

// UpfrontProfit is the profit realized when the loan is issued.
func UpfrontProfit(principal decimal.Decimal) decimal.Decimal {
	return principal.Mul(upfrontProfitRate).Round(2)
}

// Progress is the repaid share of the plan as a percentage.
func Progress(monthsPaid int) int {
	p := monthsPaid * 100 / TermMonths
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Completed reports whether the plan has been fully repaid.
func Completed(monthsPaid int) bool {
	return monthsPaid >= TermMonths
}

// MonthsBetween counts the calendar months from the month of from to the month
// of to. The day of month is ignored. from is read in to's location.
func MonthsBetween(from, to time.Time) int {
	from = from.In(to.Location())
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}

// AddMonths moves t forward by n calendar months keeping the day of month.
// Days that do not exist in the target month are clamped to its last day,
// so Jan 31 + 1 month is Feb 28 (or 29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	first := time.Date(y, m+time.Month(n), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// AccountAge is the number of whole calendar months the account has been open.
// A start date in the future counts as zero.
func AccountAge(start, now time.Time) int {
	age := MonthsBetween(start, now)
	if age < 0 {
		return 0
	}
	return age
}

// DeriveStatus computes a borrower's standing from the account start date and
// the number of payments recorded. It has no side effects; callers validate
// that monthsPaid is non-negative.
func DeriveStatus(start time.Time, monthsPaid int, now time.Time) Standing {
	age := AccountAge(start, now)
	st := Standing{
		MonthsBehind:     age - monthsPaid,
		AccountAgeMonths: age,
	}
	switch {
	case Completed(monthsPaid):
		st.Status = models.StatusPaid
	case st.MonthsBehind >= 2:
		st.Status = models.StatusOverdue
	case st.MonthsBehind >= 1:
		st.Status = models.StatusDue
	default:
		st.Status = models.StatusCurrent
	}
	return st
}

// NextDueDate projects the anniversary on which the next payment falls due.
//
// The first calendar month of an account never has a due date of its own.
// After that the due date is this month's anniversary while this month is
// unpaid, and next month's once it has been paid. ok is false for completed
// loans, which have nothing left to pay.
func NextDueDate(start time.Time, monthsPaid int, paidThisMonth bool, now time.Time) (due time.Time, ok bool) {
	if Completed(monthsPaid) {
		return time.Time{}, false
	}
	since := AccountAge(start, now)
	offset := since
	if since > 0 && paidThisMonth {
		offset++
	}
	return AddMonths(start.In(now.Location()), offset), true
}

// PaidThisMonth reports whether the last payment falls in now's calendar month.
func PaidThisMonth(lastPaymentAt *time.Time, now time.Time) bool {
	if lastPaymentAt == nil {
		return false
	}
	return SameMonth(*lastPaymentAt, now)
}

// DaysUntil counts calendar days from now's date to due's date. Negative
// values mean the date has passed.
func DaysUntil(due, now time.Time) int {
	due = due.In(now.Location())
	d0 := civilDate(now)
	d1 := civilDate(due)
	return int(d1.Sub(d0).Hours() / 24)
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameMonth reports whether a and b fall in the same calendar month, read in b's location.
func SameMonth(a, b time.Time) bool {
	return MonthsBetween(a, b) == 0
}
