package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/schedule"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// BorrowerInput creates a borrower. AccountStartDate anchors the repayment
// schedule; the first payment falls due one month after it. InterestRate is
// required; zero is a valid rate.
type BorrowerInput struct {
	Name             string          `json:"name" validate:"required,max=100"`
	Phone            string          `json:"phone" validate:"required,max=40"`
	Address          string          `json:"address" validate:"max=200"`
	Principal        decimal.Decimal `json:"amount" validate:"gt=0"`
	InterestRate     *decimal.Decimal `json:"interestRate" validate:"omitnil,gte=0,lte=100"`
	AccountStartDate time.Time       `json:"accountStartDate"`
	MonthsPaid       int             `json:"monthsPaid" validate:"gte=0,lte=10"`
}

// BorrowerPatch is a partial update; nil fields are left alone. A non-zero
// ExpectedVersion must match the stored version.
type BorrowerPatch struct {
	Name             *string          `json:"name" validate:"omitnil,min=1,max=100"`
	Phone            *string          `json:"phone" validate:"omitnil,min=1,max=40"`
	Address          *string          `json:"address" validate:"omitnil,max=200"`
	Principal        *decimal.Decimal `json:"amount" validate:"omitnil,gt=0"`
	InterestRate     *decimal.Decimal `json:"interestRate" validate:"omitnil,gte=0,lte=100"`
	AccountStartDate *time.Time       `json:"accountStartDate"`
	MonthsPaid       *int             `json:"monthsPaid" validate:"omitnil,gte=0,lte=10"`
	ExpectedVersion  int64            `json:"-"`
}

type ListQuery struct {
	Page   int
	Limit  int
	Status models.Status
	Search string
}

type Pagination struct {
	Current int `json:"current"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
}

type BorrowerPage struct {
	Borrowers  []*models.Borrower `json:"borrowers"`
	Pagination Pagination         `json:"pagination"`
}

// withField merges a single field failure into err, which is either nil or a
// ValidationError from check.
func withField(err error, field, msg string) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		ve.Fields[field] = msg
		return ve
	}
	if err != nil {
		return err
	}
	return invalid(field, msg)
}

// applyPlan recomputes everything that follows from the principal, the
// payment count and the clock.
func applyPlan(b *models.Borrower, now time.Time) {
	b.MonthlyPayment = schedule.MonthlyPayment(b.Principal)
	b.UpfrontProfit = schedule.UpfrontProfit(b.Principal)
	b.Progress = schedule.Progress(b.MonthsPaid)
	b.Status = schedule.DeriveStatus(b.AccountStartDate, b.MonthsPaid, now).Status
}

// CreateBorrower records a new loan for the lender.
func (l *Ledger) CreateBorrower(ctx context.Context, lenderID uuid.UUID, in BorrowerInput) (*models.Borrower, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	err := check(in)
	if in.InterestRate == nil {
		err = withField(err, "interestRate", "is required")
	}
	if in.AccountStartDate.IsZero() {
		err = withField(err, "accountStartDate", "is required")
	}
	if err != nil {
		return nil, err
	}

	now := l.clock()
	b := &models.Borrower{
		ID:               uuid.New(),
		LenderID:         lenderID,
		Name:             in.Name,
		Phone:            in.Phone,
		Address:          in.Address,
		Avatar:           models.Initials(in.Name),
		Principal:        in.Principal,
		InterestRate:     *in.InterestRate,
		AccountStartDate: in.AccountStartDate.UTC(),
		MonthsPaid:       in.MonthsPaid,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	applyPlan(b, now)

	if err := l.storage.CreateBorrower(ctx, b); err != nil {
		return nil, wrap("create borrower", err)
	}
	l.logger.Info("borrower created", "lender_id", lenderID, "borrower_id", b.ID, "status", b.Status)
	decorate(b, schedule.DeriveStatus(b.AccountStartDate, b.MonthsPaid, now), now)
	return b, nil
}

// GetBorrower returns one of the lender's borrowers with a fresh status.
func (l *Ledger) GetBorrower(ctx context.Context, lenderID, id uuid.UUID) (*models.Borrower, error) {
	b, err := l.storage.GetBorrower(ctx, lenderID, id)
	if err != nil {
		return nil, wrap("get borrower", err)
	}
	if err := l.refresh(ctx, lenderID, []*models.Borrower{b}, l.clock()); err != nil {
		return nil, err
	}
	return b, nil
}

// ListBorrowers returns a page of the lender's borrowers, newest first. Every
// status is re-derived before filtering so the status filter sees current values.
func (l *Ledger) ListBorrowers(ctx context.Context, lenderID uuid.UUID, q ListQuery) (*BorrowerPage, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, invalid("status", "must be one of current, due, overdue, paid")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	q.Limit = min(q.Limit, maxPageSize)

	now := l.clock()
	all, _, err := l.storage.ListBorrowers(ctx, lenderID, store.BorrowerFilter{})
	if err != nil {
		return nil, wrap("list borrowers", err)
	}
	if err := l.refresh(ctx, lenderID, all, now); err != nil {
		return nil, err
	}

	page, total, err := l.storage.ListBorrowers(ctx, lenderID, store.BorrowerFilter{
		Status: q.Status,
		Search: strings.TrimSpace(q.Search),
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return nil, wrap("list borrowers", err)
	}
	if err := l.refresh(ctx, lenderID, page, now); err != nil {
		return nil, err
	}
	return &BorrowerPage{
		Borrowers: page,
		Pagination: Pagination{
			Current: q.Page,
			Pages:   (total + q.Limit - 1) / q.Limit,
			Total:   total,
		},
	}, nil
}

// UpdateBorrower applies a partial update. The write only lands if nobody else
// changed the borrower since it was read.
func (l *Ledger) UpdateBorrower(ctx context.Context, lenderID, id uuid.UUID, p BorrowerPatch) (*models.Borrower, error) {
	if p.Name != nil {
		*p.Name = strings.TrimSpace(*p.Name)
	}
	if p.Phone != nil {
		*p.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.Address != nil {
		*p.Address = strings.TrimSpace(*p.Address)
	}
	err := check(p)
	if p.AccountStartDate != nil && p.AccountStartDate.IsZero() {
		err = withField(err, "accountStartDate", "is required")
	}
	if err != nil {
		return nil, err
	}

	b, err := l.storage.GetBorrower(ctx, lenderID, id)
	if err != nil {
		return nil, wrap("get borrower", err)
	}
	if p.ExpectedVersion != 0 && p.ExpectedVersion != b.Version {
		return nil, wrap("update borrower", ErrConflict)
	}

	if p.Name != nil {
		b.Name = *p.Name
		b.Avatar = models.Initials(b.Name)
	}
	if p.Phone != nil {
		b.Phone = *p.Phone
	}
	if p.Address != nil {
		b.Address = *p.Address
	}
	if p.Principal != nil {
		b.Principal = *p.Principal
	}
	if p.InterestRate != nil {
		b.InterestRate = *p.InterestRate
	}
	if p.AccountStartDate != nil {
		b.AccountStartDate = p.AccountStartDate.UTC()
	}
	if p.MonthsPaid != nil {
		b.MonthsPaid = *p.MonthsPaid
	}
	now := l.clock()
	applyPlan(b, now)
	b.UpdatedAt = now

	if err := l.storage.UpdateBorrower(ctx, b); err != nil {
		return nil, wrap("update borrower", err)
	}
	decorate(b, schedule.DeriveStatus(b.AccountStartDate, b.MonthsPaid, now), now)
	return b, nil
}

func (l *Ledger) DeleteBorrower(ctx context.Context, lenderID, id uuid.UUID) error {
	if err := l.storage.DeleteBorrower(ctx, lenderID, id); err != nil {
		return wrap("delete borrower", err)
	}
	l.logger.Info("borrower deleted", "lender_id", lenderID, "borrower_id", id)
	return nil
}
