package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist or belongs to another lender.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a conditional write saw a different version.
	ErrVersionConflict = errors.New("version conflict")
	// ErrLoanCompleted is returned when a payment is recorded against a repaid loan.
	ErrLoanCompleted = errors.New("loan already completed")
	// ErrDuplicateEmail is returned when a lender email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

// BorrowerFilter narrows a borrower listing. A zero Limit returns every match.
type BorrowerFilter struct {
	Status models.Status
	Search string // Case-insensitive substring of name, phone or address
	Limit  int
	Offset int
}

// PaymentUpdate describes one recorded monthly payment.
type PaymentUpdate struct {
	PaidAt          time.Time
	ExpectedVersion int64 // Zero skips the version check
	TermMonths      int
}

// Storage defines the interface for lender and borrower persistence. Every
// borrower operation is scoped by the owning lender.
type Storage interface {
	CreateLender(ctx context.Context, lender *models.Lender) error
	GetLender(ctx context.Context, id uuid.UUID) (*models.Lender, error)
	GetLenderByEmail(ctx context.Context, email string) (*models.Lender, error)
	UpdateLender(ctx context.Context, lender *models.Lender) error
	UpdateLenderStats(ctx context.Context, id uuid.UUID, stats models.LenderStats, at time.Time) error

	CreateBorrower(ctx context.Context, borrower *models.Borrower) error
	GetBorrower(ctx context.Context, lenderID, id uuid.UUID) (*models.Borrower, error)
	ListBorrowers(ctx context.Context, lenderID uuid.UUID, filter BorrowerFilter) ([]*models.Borrower, int, error)
	// UpdateBorrower writes the mutable fields when the stored version equals
	// borrower.Version, then bumps borrower.Version.
	UpdateBorrower(ctx context.Context, borrower *models.Borrower) error
	UpdateBorrowerStatus(ctx context.Context, lenderID, id uuid.UUID, status models.Status) error
	DeleteBorrower(ctx context.Context, lenderID, id uuid.UUID) error
	// RecordPayment atomically increments the months paid and returns the stored result.
	RecordPayment(ctx context.Context, lenderID, id uuid.UUID, p PaymentUpdate) (*models.Borrower, error)

	Close() error
}
