// Package notify turns borrower state into the lender's due-date feed.
package notify

import (
	"fmt"
	"sort"
	"time"

	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/schedule"
)

// UpcomingWindowDays is how far ahead a due date triggers a reminder.
const UpcomingWindowDays = 7

// Summary counts are taken from the emitted list only, so they always agree with it.
type Summary struct {
	DueToday  int `json:"dueToday"`
	Due       int `json:"due"`
	Overdue   int `json:"overdue"`
	ThisWeek  int `json:"thisWeek"`
	ThisMonth int `json:"thisMonth"`
}

type Result struct {
	Notifications []models.Notification `json:"notifications"`
	Summary       Summary               `json:"summary"`
}

type candidate struct {
	borrower *models.Borrower
	standing schedule.Standing
	paid     bool
	due      time.Time
}

// Build classifies every borrower that still owes payments and returns the
// notifications ordered by due date, earliest first. Completed loans and
// accounts still in their first calendar month are skipped.
func Build(borrowers []*models.Borrower, now time.Time) Result {
	candidates := make([]candidate, 0, len(borrowers))
	for _, b := range borrowers {
		if schedule.Completed(b.MonthsPaid) {
			continue
		}
		standing := schedule.DeriveStatus(b.AccountStartDate, b.MonthsPaid, now)
		if standing.AccountAgeMonths == 0 {
			continue
		}
		paid := schedule.PaidThisMonth(b.LastPaymentAt, now)
		due, _ := schedule.NextDueDate(b.AccountStartDate, b.MonthsPaid, paid, now)
		candidates = append(candidates, candidate{borrower: b, standing: standing, paid: paid, due: due})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].due.Before(candidates[j].due)
	})

	res := Result{Notifications: make([]models.Notification, 0, len(candidates))}
	for _, c := range candidates {
		if n, ok := classify(c, now); ok {
			res.Notifications = append(res.Notifications, n)
		}
	}
	res.Summary = Summarize(res.Notifications, now)
	return res
}

func classify(c candidate, now time.Time) (models.Notification, bool) {
	b := c.borrower
	n := models.Notification{
		ID:         b.ID,
		BorrowerID: b.ID,
		Name:       b.Name,
		Amount:     FormatAmount(b),
		DueDate:    c.due,
		Phone:      b.Phone,
		Address:    b.Address,
	}

	days := schedule.DaysUntil(c.due, now)
	switch {
	case c.standing.MonthsBehind >= 2:
		n.Type = models.NotificationOverdue
		n.Priority = models.PriorityUrgent
		n.Status = models.NotificationStatusOverdue
		n.Message = fmt.Sprintf("%d months behind on payments", c.standing.MonthsBehind)
	case c.standing.MonthsBehind == 1:
		n.Type = models.NotificationPaymentDue
		n.Priority = models.PriorityHigh
		n.Status = models.NotificationStatusDue
		n.Message = "1 month behind on payments"
	case days >= 0 && days <= UpcomingWindowDays:
		n.Type = models.NotificationMonthlyDue
		n.Priority = models.PriorityHigh
		n.Status = models.NotificationStatusDueSoon
		n.Message = dueInMessage(days)
		if days == 0 {
			n.Status = models.NotificationStatusDueToday
		}
	case !c.paid:
		n.Type = models.NotificationMonthlyRequired
		n.Priority = models.PriorityMedium
		n.Status = models.NotificationStatusPending
		n.Message = fmt.Sprintf("Payment for %s has not been recorded", now.Format("January 2006"))
	default:
		return models.Notification{}, false
	}
	return n, true
}

func dueInMessage(days int) string {
	switch days {
	case 0:
		return "Monthly payment is due today"
	case 1:
		return "Monthly payment is due in 1 day"
	}
	return fmt.Sprintf("Monthly payment is due in %d days", days)
}

// FormatAmount renders the borrower's monthly payment as "$X.XX".
func FormatAmount(b *models.Borrower) string {
	return "$" + b.MonthlyPayment.StringFixed(2)
}

// Summarize counts notifications by status. ThisMonth counts entries whose due
// date falls in now's calendar month.
func Summarize(list []models.Notification, now time.Time) Summary {
	var s Summary
	for _, n := range list {
		switch n.Status {
		case models.NotificationStatusOverdue:
			s.Overdue++
		case models.NotificationStatusDue:
			s.Due++
		case models.NotificationStatusDueToday:
			s.DueToday++
			s.ThisWeek++
		case models.NotificationStatusDueSoon:
			s.ThisWeek++
		}
		if schedule.SameMonth(n.DueDate, now) {
			s.ThisMonth++
		}
	}
	return s
}
