package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is a borrower's standing. It is derived from the account age and the
// number of recorded payments; the stored copy is only a cache.
type Status string

const (
	StatusCurrent Status = "current"
	StatusDue     Status = "due"
	StatusOverdue Status = "overdue"
	StatusPaid    Status = "paid"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCurrent, StatusDue, StatusOverdue, StatusPaid:
		return true
	}
	return false
}

type Borrower struct {
	ID               uuid.UUID       `json:"id"`
	LenderID         uuid.UUID       `json:"lenderId"`
	Name             string          `json:"name"`
	Phone            string          `json:"phone"`
	Address          string          `json:"address"`
	Avatar           string          `json:"avatar"`
	Principal        decimal.Decimal `json:"amount"`
	InterestRate     decimal.Decimal `json:"interestRate"`    // Annual %, display only
	MonthlyPayment   decimal.Decimal `json:"monthlyInterest"` // Principal / term, old name kept for clients
	UpfrontProfit    decimal.Decimal `json:"upfrontProfit"`
	AccountStartDate time.Time       `json:"accountStartDate"`
	MonthsPaid       int             `json:"monthsPaid"`
	LastPaymentAt    *time.Time      `json:"lastPaymentAt,omitempty"`
	Status           Status          `json:"status"`
	Progress         int             `json:"progress"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`

	// Filled in on read, never persisted.
	PaidThisMonth bool       `json:"paidThisMonth"`
	MonthsBehind  int        `json:"monthsBehind"`
	NextDueDate   *time.Time `json:"nextDueDate,omitempty"`
}

// Initials builds the avatar text shown for a borrower, e.g. "Sarah Jane Lee" -> "SJL".
func Initials(name string) string {
	var b strings.Builder
	for _, part := range strings.Fields(name) {
		r := []rune(part)
		b.WriteRune(r[0])
	}
	return strings.ToUpper(b.String())
}

// LenderStats are the aggregates cached on the lender record. They are
// overwritten on every dashboard fetch.
type LenderStats struct {
	TotalMoneyLent  decimal.Decimal `json:"totalMoneyLent"`
	MonthlyInterest decimal.Decimal `json:"monthlyInterest"`
	ActiveLoans     int             `json:"activeLoans"`
	OnTimeRate      int             `json:"onTimeRate"`
}

type Lender struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"`
	Phone        string      `json:"phone"`
	Stats        LenderStats `json:"stats"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityNormal Priority = "normal" // Not emitted by the feed; kept for clients that rank their own entries
)

type NotificationType string

const (
	NotificationOverdue         NotificationType = "Overdue Payment"
	NotificationPaymentDue      NotificationType = "Payment Due"
	NotificationMonthlyDue      NotificationType = "Monthly Payment Due"
	NotificationMonthlyRequired NotificationType = "Monthly Payment Required"
)

// NotificationStatus classifies a notification for the summary counters.
type NotificationStatus string

const (
	NotificationStatusOverdue  NotificationStatus = "overdue"
	NotificationStatusDue      NotificationStatus = "due"
	NotificationStatusDueToday NotificationStatus = "due_today"
	NotificationStatusDueSoon  NotificationStatus = "due_soon"
	NotificationStatusPending  NotificationStatus = "pending"
)

// Notification is built fresh from borrower state on every request.
type Notification struct {
	ID         uuid.UUID          `json:"id"`
	BorrowerID uuid.UUID          `json:"borrowerId"`
	Name       string             `json:"name"`
	Type       NotificationType   `json:"type"`
	Message    string             `json:"message"`
	Amount     string             `json:"amount"`
	DueDate    time.Time          `json:"dueDate"`
	Priority   Priority           `json:"priority"`
	Status     NotificationStatus `json:"status"`
	Phone      string             `json:"phone"`
	Address    string             `json:"address"`
}
