package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
type MockStore struct {
	mu        sync.Mutex
	lenders   map[uuid.UUID]*models.Lender
	borrowers map[uuid.UUID]*models.Borrower
}

var _ store.Storage = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{
		lenders:   make(map[uuid.UUID]*models.Lender),
		borrowers: make(map[uuid.UUID]*models.Borrower),
	}
}

func cloneBorrower(b *models.Borrower) *models.Borrower {
	c := *b
	if b.LastPaymentAt != nil {
		t := *b.LastPaymentAt
		c.LastPaymentAt = &t
	}
	c.NextDueDate = nil
	return &c
}

func (m *MockStore) emailTaken(email string, except uuid.UUID) bool {
	for _, l := range m.lenders {
		if l.Email == email && l.ID != except {
			return true
		}
	}
	return false
}

func (m *MockStore) CreateLender(ctx context.Context, lender *models.Lender) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(lender.Email, lender.ID) {
		return store.ErrDuplicateEmail
	}
	c := *lender
	m.lenders[lender.ID] = &c
	return nil
}

func (m *MockStore) GetLender(ctx context.Context, id uuid.UUID) (*models.Lender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lenders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *l
	return &c, nil
}

func (m *MockStore) GetLenderByEmail(ctx context.Context, email string) (*models.Lender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lenders {
		if l.Email == email {
			c := *l
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) UpdateLender(ctx context.Context, lender *models.Lender) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lenders[lender.ID]; !ok {
		return store.ErrNotFound
	}
	if m.emailTaken(lender.Email, lender.ID) {
		return store.ErrDuplicateEmail
	}
	c := *lender
	m.lenders[lender.ID] = &c
	return nil
}

func (m *MockStore) UpdateLenderStats(ctx context.Context, id uuid.UUID, stats models.LenderStats, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lenders[id]
	if !ok {
		return store.ErrNotFound
	}
	l.Stats = stats
	l.UpdatedAt = at
	return nil
}

func (m *MockStore) CreateBorrower(ctx context.Context, b *models.Borrower) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.borrowers[b.ID] = cloneBorrower(b)
	return nil
}

func (m *MockStore) owned(lenderID, id uuid.UUID) (*models.Borrower, bool) {
	b, ok := m.borrowers[id]
	if !ok || b.LenderID != lenderID {
		return nil, false
	}
	return b, true
}

func (m *MockStore) GetBorrower(ctx context.Context, lenderID, id uuid.UUID) (*models.Borrower, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.owned(lenderID, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBorrower(b), nil
}

func (m *MockStore) ListBorrowers(ctx context.Context, lenderID uuid.UUID, f store.BorrowerFilter) ([]*models.Borrower, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(f.Search)
	matched := []*models.Borrower{}
	for _, b := range m.borrowers {
		if b.LenderID != lenderID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(b.Name), search) &&
			!strings.Contains(strings.ToLower(b.Phone), search) &&
			!strings.Contains(strings.ToLower(b.Address), search) {
			continue
		}
		matched = append(matched, cloneBorrower(b))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	total := len(matched)
	if f.Offset > 0 {
		matched = matched[min(f.Offset, len(matched)):]
	}
	if f.Limit > 0 {
		matched = matched[:min(f.Limit, len(matched))]
	}
	return matched, total, nil
}

func (m *MockStore) UpdateBorrower(ctx context.Context, b *models.Borrower) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.owned(b.LenderID, b.ID)
	if !ok {
		return store.ErrNotFound
	}
	if existing.Version != b.Version {
		return store.ErrVersionConflict
	}
	b.Version++
	c := cloneBorrower(b)
	c.LastPaymentAt = existing.LastPaymentAt
	m.borrowers[b.ID] = c
	return nil
}

func (m *MockStore) UpdateBorrowerStatus(ctx context.Context, lenderID, id uuid.UUID, status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.owned(lenderID, id)
	if !ok {
		return store.ErrNotFound
	}
	b.Status = status
	return nil
}

func (m *MockStore) DeleteBorrower(ctx context.Context, lenderID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owned(lenderID, id); !ok {
		return store.ErrNotFound
	}
	delete(m.borrowers, id)
	return nil
}

func (m *MockStore) RecordPayment(ctx context.Context, lenderID, id uuid.UUID, p store.PaymentUpdate) (*models.Borrower, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.owned(lenderID, id)
	if !ok {
		return nil, store.ErrNotFound
	}
	if b.MonthsPaid >= p.TermMonths {
		return nil, store.ErrLoanCompleted
	}
	if p.ExpectedVersion != 0 && p.ExpectedVersion != b.Version {
		return nil, store.ErrVersionConflict
	}
	b.MonthsPaid++
	b.Status = models.StatusCurrent
	if b.MonthsPaid >= p.TermMonths {
		b.Status = models.StatusPaid
	}
	b.Progress = min(100, b.MonthsPaid*10)
	paidAt := p.PaidAt
	b.LastPaymentAt = &paidAt
	b.UpdatedAt = p.PaidAt
	b.Version++
	return cloneBorrower(b), nil
}

func (m *MockStore) Close() error {
	return nil
}

// fixture wires a ledger to a MockStore with a settable clock.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *MockStore
	ledger *Ledger
	now    time.Time
	lender *models.Lender
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), store: NewMockStore(), now: now}
	f.ledger = NewLedger(f.store,
		WithClock(func() time.Time { return f.now }),
		WithBcryptCost(bcrypt.MinCost),
	)
	lender, err := f.ledger.Register(f.ctx, RegisterInput{Name: "Test Lender", Email: "lender@example.com", Password: "secret1"})
	require.NoError(t, err)
	f.lender = lender
	return f
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// addBorrower creates a borrower through the ledger, advancing the clock a
// minute so creation order is unambiguous.
func (f *fixture) addBorrower(name string, principal int64, start time.Time, monthsPaid int) *models.Borrower {
	f.t.Helper()
	f.now = f.now.Add(time.Minute)
	b, err := f.ledger.CreateBorrower(f.ctx, f.lender.ID, BorrowerInput{
		Name:             name,
		Phone:            "555-0100",
		Address:          "1 Main Street",
		Principal:        decimal.NewFromInt(principal),
		InterestRate:     rate(8.5),
		AccountStartDate: start,
		MonthsPaid:       monthsPaid,
	})
	require.NoError(f.t, err)
	return b
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))

	l, err := f.ledger.Register(f.ctx, RegisterInput{Name: " Ada Lovelace ", Email: " Ada@Example.COM ", Password: "analytical"})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", l.Name)
	assert.Equal(t, "ada@example.com", l.Email)
	assert.NotEqual(t, "analytical", l.PasswordHash)

	got, err := f.ledger.Authenticate(f.ctx, LoginInput{Email: "ADA@example.com", Password: "analytical"})
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)

	_, err = f.ledger.Authenticate(f.ctx, LoginInput{Email: "ada@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.ledger.Authenticate(f.ctx, LoginInput{Email: "nobody@example.com", Password: "analytical"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.ledger.Register(f.ctx, RegisterInput{Name: "Copy", Email: "ada@example.com", Password: "another"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.ledger.Register(f.ctx, RegisterInput{Name: "Short", Email: "not-an-email", Password: "123"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "email")
	assert.Equal(t, "must be at least 6 characters long", ve.Fields["password"])
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	_, err := f.ledger.Register(f.ctx, RegisterInput{Name: "Other", Email: "other@example.com", Password: "secret1"})
	require.NoError(t, err)

	phone := " 555-0199 "
	l, err := f.ledger.UpdateProfile(f.ctx, f.lender.ID, ProfileInput{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "555-0199", l.Phone)
	assert.Equal(t, "Test Lender", l.Name)

	taken := "OTHER@example.com"
	_, err = f.ledger.UpdateProfile(f.ctx, f.lender.ID, ProfileInput{Email: &taken})
	assert.ErrorIs(t, err, ErrEmailTaken)

	empty := ""
	_, err = f.ledger.UpdateProfile(f.ctx, f.lender.ID, ProfileInput{Name: &empty})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "name")

	_, err = f.ledger.UpdateProfile(f.ctx, uuid.New(), ProfileInput{Phone: &phone})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateBorrower(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	b := f.addBorrower("Sarah Johnson", 1500, date(2024, 1, 10), 1)

	assert.Equal(t, "SJ", b.Avatar)
	assert.True(t, b.MonthlyPayment.Equal(decimal.NewFromInt(150)))
	assert.True(t, b.UpfrontProfit.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, 10, b.Progress)
	assert.Equal(t, models.StatusDue, b.Status)
	assert.Equal(t, 1, b.MonthsBehind)
	assert.False(t, b.PaidThisMonth)
	require.NotNil(t, b.NextDueDate)
	assert.Equal(t, date(2024, 3, 10), *b.NextDueDate)
	assert.Equal(t, int64(1), b.Version)

	stored, err := f.store.GetBorrower(f.ctx, f.lender.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDue, stored.Status)
}

func TestCreateBorrower_Validation(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	_, err := f.ledger.CreateBorrower(f.ctx, f.lender.ID, BorrowerInput{
		Name:       "  ",
		Principal:  decimal.Zero,
		MonthsPaid: 11,
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "is required", ve.Fields["name"])
	assert.Equal(t, "is required", ve.Fields["phone"])
	assert.Equal(t, "must be greater than 0", ve.Fields["amount"])
	assert.Equal(t, "must be at most 10", ve.Fields["monthsPaid"])
	assert.Equal(t, "is required", ve.Fields["accountStartDate"])

	_, err = f.ledger.CreateBorrower(f.ctx, f.lender.ID, BorrowerInput{
		Name:             "Negative Rate",
		Phone:            "555",
		Principal:        decimal.NewFromInt(100),
		InterestRate:     rate(-1),
		AccountStartDate: date(2024, 3, 1),
	})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, map[string]string{"interestRate": "must be at least 0"}, ve.Fields)

	_, err = f.ledger.CreateBorrower(f.ctx, f.lender.ID, BorrowerInput{
		Name:             "No Rate",
		Phone:            "555",
		Principal:        decimal.NewFromInt(1000),
		AccountStartDate: date(2024, 3, 1),
	})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, map[string]string{"interestRate": "is required"}, ve.Fields)

	b, err := f.ledger.CreateBorrower(f.ctx, f.lender.ID, BorrowerInput{
		Name:             "Interest Free",
		Phone:            "555",
		Principal:        decimal.NewFromInt(1000),
		InterestRate:     rate(0),
		AccountStartDate: date(2024, 3, 1),
	})
	require.NoError(t, err)
	assert.True(t, b.InterestRate.IsZero())
}

func rate(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func TestListBorrowers_RefreshesStatusCache(t *testing.T) {
	f := newFixture(t, date(2024, 1, 20))
	late := f.addBorrower("Late Larry", 1000, date(2024, 1, 10), 0)
	f.addBorrower("New Nina", 1000, date(2024, 3, 5), 0)
	assert.Equal(t, models.StatusCurrent, late.Status)

	// Two months later the cached status is stale until something reads it.
	f.now = date(2024, 3, 15)
	page, err := f.ledger.ListBorrowers(f.ctx, f.lender.ID, ListQuery{Status: models.StatusOverdue})
	require.NoError(t, err)
	require.Len(t, page.Borrowers, 1)
	assert.Equal(t, "Late Larry", page.Borrowers[0].Name)
	assert.Equal(t, 2, page.Borrowers[0].MonthsBehind)
	assert.Equal(t, Pagination{Current: 1, Pages: 1, Total: 1}, page.Pagination)

	stored, err := f.store.GetBorrower(f.ctx, f.lender.ID, late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOverdue, stored.Status)

	page, err = f.ledger.ListBorrowers(f.ctx, f.lender.ID, ListQuery{Page: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Borrowers, 1)
	assert.Equal(t, "Late Larry", page.Borrowers[0].Name)
	assert.Equal(t, Pagination{Current: 2, Pages: 2, Total: 2}, page.Pagination)

	page, err = f.ledger.ListBorrowers(f.ctx, f.lender.ID, ListQuery{Search: "nina"})
	require.NoError(t, err)
	require.Len(t, page.Borrowers, 1)

	_, err = f.ledger.ListBorrowers(f.ctx, f.lender.ID, ListQuery{Status: "late"})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestGetAndDeleteBorrower(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	b := f.addBorrower("Mike Davis", 2000, date(2024, 2, 1), 0)

	got, err := f.ledger.GetBorrower(f.ctx, f.lender.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDue, got.Status)

	_, err = f.ledger.GetBorrower(f.ctx, uuid.New(), b.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, f.ledger.DeleteBorrower(f.ctx, uuid.New(), b.ID), ErrNotFound)
	require.NoError(t, f.ledger.DeleteBorrower(f.ctx, f.lender.ID, b.ID))
	_, err = f.ledger.GetBorrower(f.ctx, f.lender.ID, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateBorrower(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	b := f.addBorrower("Lisa Wong", 1000, date(2024, 3, 1), 0)

	amount := decimal.NewFromInt(2500)
	name := "Lisa Marie Wong"
	updated, err := f.ledger.UpdateBorrower(f.ctx, f.lender.ID, b.ID, BorrowerPatch{Principal: &amount, Name: &name, ExpectedVersion: 1})
	require.NoError(t, err)
	assert.True(t, updated.MonthlyPayment.Equal(decimal.NewFromInt(250)))
	assert.True(t, updated.UpfrontProfit.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, "LMW", updated.Avatar)
	assert.Equal(t, "1 Main Street", updated.Address)
	assert.Equal(t, int64(2), updated.Version)

	_, err = f.ledger.UpdateBorrower(f.ctx, f.lender.ID, b.ID, BorrowerPatch{Name: &name, ExpectedVersion: 1})
	assert.ErrorIs(t, err, ErrConflict)

	ten := 10
	updated, err = f.ledger.UpdateBorrower(f.ctx, f.lender.ID, b.ID, BorrowerPatch{MonthsPaid: &ten})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, updated.Status)
	assert.Equal(t, 100, updated.Progress)
	assert.Nil(t, updated.NextDueDate)

	blank := ""
	_, err = f.ledger.UpdateBorrower(f.ctx, f.lender.ID, b.ID, BorrowerPatch{Phone: &blank})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "phone")

	_, err = f.ledger.UpdateBorrower(f.ctx, uuid.New(), b.ID, BorrowerPatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	f.addBorrower("A", 10000, date(2024, 3, 1), 0)
	f.addBorrower("B", 20000, date(2024, 3, 1), 0)
	f.addBorrower("C", 5000, date(2024, 3, 1), 0)

	d, err := f.ledger.Dashboard(f.ctx, f.lender.ID)
	require.NoError(t, err)
	assert.True(t, d.Stats.TotalMoneyLent.Equal(decimal.NewFromInt(35000)))
	assert.True(t, d.Stats.TotalProfit.Equal(decimal.NewFromInt(7000)))
	assert.True(t, d.Stats.MonthlyInterest.Equal(decimal.NewFromInt(3500)))
	assert.Equal(t, 3, d.Stats.ActiveLoans)
	assert.Equal(t, 100, d.Stats.OnTimeRate)
	require.Len(t, d.RecentBorrowers, 3)
	assert.Equal(t, "C", d.RecentBorrowers[0].Name)

	cached, err := f.store.GetLender(f.ctx, f.lender.ID)
	require.NoError(t, err)
	assert.True(t, cached.Stats.TotalMoneyLent.Equal(decimal.NewFromInt(35000)))
	assert.Equal(t, 3, cached.Stats.ActiveLoans)
}

func TestDashboard_OnTimeRateAndRecentLimit(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	f.addBorrower("Current", 1000, date(2024, 3, 1), 0)
	f.addBorrower("Overdue", 1000, date(2024, 1, 10), 0)
	f.addBorrower("Done", 1000, date(2023, 1, 10), 10)
	for _, name := range []string{"D", "E", "F", "G"} {
		f.addBorrower(name, 1000, date(2024, 3, 1), 0)
	}

	d, err := f.ledger.Dashboard(f.ctx, f.lender.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, d.Stats.ActiveLoans)
	// 5 of 6 active loans are current.
	assert.Equal(t, 83, d.Stats.OnTimeRate)
	require.Len(t, d.RecentBorrowers, 5)
	assert.Equal(t, "G", d.RecentBorrowers[0].Name)
}

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil)
	assert.True(t, s.TotalMoneyLent.IsZero())
	assert.Equal(t, 0, s.ActiveLoans)
	assert.Equal(t, 0, s.OnTimeRate)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t, date(2024, 1, 20))
	f.addBorrower("Behind Ben", 2000, date(2024, 1, 15), 0)

	res, err := f.ledger.Notifications(f.ctx, f.lender.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Notifications, "first calendar month is a grace period")

	f.now = date(2024, 3, 15)
	f.addBorrower("Fresh Fay", 2000, date(2024, 3, 2), 0)
	res, err = f.ledger.Notifications(f.ctx, f.lender.ID)
	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)
	n := res.Notifications[0]
	assert.Equal(t, "Behind Ben", n.Name)
	assert.Equal(t, models.NotificationOverdue, n.Type)
	assert.Equal(t, models.PriorityUrgent, n.Priority)
	assert.Contains(t, n.Message, "2 months behind on payments")
	assert.Equal(t, "$200.00", n.Amount)
	assert.Equal(t, 1, res.Summary.Overdue)
}

func TestMarkPaid_CompletesLoan(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	b := f.addBorrower("Nearly Done", 1000, date(2023, 5, 15), 9)

	res, err := f.ledger.MarkPaid(f.ctx, f.lender.ID, b.ID, 0)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 10, res.Borrower.MonthsPaid)
	assert.Equal(t, models.StatusPaid, res.Borrower.Status)
	assert.Equal(t, 100, res.Borrower.Progress)
	require.NotNil(t, res.Borrower.LastPaymentAt)
	assert.True(t, res.Borrower.LastPaymentAt.Equal(f.now))
	assert.Nil(t, res.Borrower.NextDueDate)

	feed, err := f.ledger.Notifications(f.ctx, f.lender.ID)
	require.NoError(t, err)
	assert.Empty(t, feed.Notifications)

	_, err = f.ledger.MarkPaid(f.ctx, f.lender.ID, b.ID, 0)
	assert.ErrorIs(t, err, ErrLoanCompleted)
	stored, err := f.store.GetBorrower(f.ctx, f.lender.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stored.MonthsPaid)
}

func TestMarkPaid_ReportsCurrentUntilNextRead(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	b := f.addBorrower("Behind Ben", 2000, date(2024, 1, 15), 0)
	require.Equal(t, models.StatusOverdue, b.Status)

	res, err := f.ledger.MarkPaid(f.ctx, f.lender.ID, b.ID, b.Version)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, 1, res.Borrower.MonthsPaid)
	assert.Equal(t, models.StatusCurrent, res.Borrower.Status)
	assert.True(t, res.Borrower.PaidThisMonth)
	assert.Equal(t, 1, res.Borrower.MonthsBehind)

	got, err := f.ledger.GetBorrower(f.ctx, f.lender.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDue, got.Status)
}

func TestMarkPaid_Errors(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	b := f.addBorrower("Dana", 1000, date(2024, 1, 15), 0)

	_, err := f.ledger.MarkPaid(f.ctx, f.lender.ID, b.ID, 5)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.ledger.MarkPaid(f.ctx, uuid.New(), b.ID, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := f.store.GetBorrower(f.ctx, f.lender.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.MonthsPaid)
}

func TestMarkPaid_Concurrent(t *testing.T) {
	f := newFixture(t, date(2024, 3, 15))
	b := f.addBorrower("Racer", 1000, date(2023, 12, 1), 0)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.MarkPaid(f.ctx, f.lender.ID, b.ID, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.store.GetBorrower(f.ctx, f.lender.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stored.MonthsPaid)
	assert.Equal(t, int64(7), stored.Version)
}
