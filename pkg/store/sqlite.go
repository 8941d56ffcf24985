package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/lendtrack/pkg/models"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database file and initializes the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Pragmas go in the DSN so that every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("sqlite store ready", "path", path)
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds columns
// introduced after the first release.
// Money is stored as TEXT so that no decimal precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS lenders (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		total_money_lent TEXT NOT NULL DEFAULT '0',
		monthly_interest TEXT NOT NULL DEFAULT '0',
		active_loans INTEGER NOT NULL DEFAULT 0,
		on_time_rate INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS borrowers (
		id TEXT PRIMARY KEY,
		lender_id TEXT NOT NULL,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT '',
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		monthly_payment TEXT NOT NULL,
		account_start_date DATETIME NOT NULL,
		months_paid INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'current',
		progress INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(lender_id) REFERENCES lenders(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_borrowers_lender ON borrowers(lender_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	columns := []string{
		"upfront_profit TEXT NOT NULL DEFAULT '0'",
		"last_payment_at DATETIME",
		"version INTEGER NOT NULL DEFAULT 1",
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE borrowers ADD COLUMN %s", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

const lenderColumns = `id, name, email, password_hash, phone, total_money_lent, monthly_interest, active_loans, on_time_rate, created_at, updated_at`

// CreateLender inserts a new lender.
func (s *SQLiteStore) CreateLender(ctx context.Context, l *models.Lender) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lenders (`+lenderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.Name, l.Email, l.PasswordHash, l.Phone,
		l.Stats.TotalMoneyLent, l.Stats.MonthlyInterest, l.Stats.ActiveLoans, l.Stats.OnTimeRate,
		l.CreatedAt, l.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to create lender: %w", err)
	}
	return nil
}

// GetLender retrieves a lender by id.
func (s *SQLiteStore) GetLender(ctx context.Context, id uuid.UUID) (*models.Lender, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lenderColumns+` FROM lenders WHERE id = ?`, id.String())
	return scanLender(row)
}

// GetLenderByEmail retrieves a lender by its (lower-cased) email.
func (s *SQLiteStore) GetLenderByEmail(ctx context.Context, email string) (*models.Lender, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lenderColumns+` FROM lenders WHERE email = ?`, email)
	return scanLender(row)
}

// UpdateLender writes the profile fields of a lender.
func (s *SQLiteStore) UpdateLender(ctx context.Context, l *models.Lender) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE lenders SET name = ?, email = ?, password_hash = ?, phone = ?, updated_at = ? WHERE id = ?`,
		l.Name, l.Email, l.PasswordHash, l.Phone, l.UpdatedAt, l.ID.String(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to update lender: %w", err)
	}
	return requireRow(result)
}

// UpdateLenderStats overwrites the cached dashboard aggregates.
func (s *SQLiteStore) UpdateLenderStats(ctx context.Context, id uuid.UUID, stats models.LenderStats, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE lenders SET total_money_lent = ?, monthly_interest = ?, active_loans = ?, on_time_rate = ?, updated_at = ? WHERE id = ?`,
		stats.TotalMoneyLent, stats.MonthlyInterest, stats.ActiveLoans, stats.OnTimeRate, at, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update lender stats: %w", err)
	}
	return requireRow(result)
}

const borrowerColumns = `id, lender_id, name, phone, address, avatar, principal, interest_rate, monthly_payment, upfront_profit, account_start_date, months_paid, last_payment_at, status, progress, version, created_at, updated_at`

// CreateBorrower inserts a new borrower.
func (s *SQLiteStore) CreateBorrower(ctx context.Context, b *models.Borrower) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO borrowers (`+borrowerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.LenderID.String(), b.Name, b.Phone, b.Address, b.Avatar,
		b.Principal, b.InterestRate, b.MonthlyPayment, b.UpfrontProfit,
		b.AccountStartDate, b.MonthsPaid, b.LastPaymentAt, string(b.Status), b.Progress, b.Version,
		b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create borrower: %w", err)
	}
	return nil
}

// GetBorrower retrieves a borrower owned by lenderID.
func (s *SQLiteStore) GetBorrower(ctx context.Context, lenderID, id uuid.UUID) (*models.Borrower, error) {
	return getBorrower(ctx, s.db, lenderID, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBorrower(ctx context.Context, q queryRower, lenderID, id uuid.UUID) (*models.Borrower, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+borrowerColumns+` FROM borrowers WHERE id = ? AND lender_id = ?`,
		id.String(), lenderID.String(),
	)
	return scanBorrower(row)
}

// ListBorrowers returns a page of the lender's borrowers, newest first, and
// the total number of matches.
func (s *SQLiteStore) ListBorrowers(ctx context.Context, lenderID uuid.UUID, f BorrowerFilter) ([]*models.Borrower, int, error) {
	where := []string{"lender_id = ?"}
	args := []any{lenderID.String()}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.Search)) + "%"
		where = append(where, `(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(phone) LIKE ? ESCAPE '\' OR LOWER(address) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM borrowers WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count borrowers: %w", err)
	}

	query := `SELECT ` + borrowerColumns + ` FROM borrowers WHERE ` + clause + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list borrowers: %w", err)
	}
	defer rows.Close()

	borrowers := []*models.Borrower{}
	for rows.Next() {
		b, err := scanBorrower(rows)
		if err != nil {
			return nil, 0, err
		}
		borrowers = append(borrowers, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error during rows iteration: %w", err)
	}
	return borrowers, total, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// UpdateBorrower writes the mutable fields if the stored version still
// matches b.Version.
func (s *SQLiteStore) UpdateBorrower(ctx context.Context, b *models.Borrower) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE borrowers SET name = ?, phone = ?, address = ?, principal = ?, interest_rate = ?, monthly_payment = ?, upfront_profit = ?,
			account_start_date = ?, months_paid = ?, status = ?, progress = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND lender_id = ? AND version = ?`,
		b.Name, b.Phone, b.Address, b.Principal, b.InterestRate, b.MonthlyPayment, b.UpfrontProfit,
		b.AccountStartDate, b.MonthsPaid, string(b.Status), b.Progress, b.UpdatedAt,
		b.ID.String(), b.LenderID.String(), b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update borrower: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetBorrower(ctx, b.LenderID, b.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	b.Version++
	return nil
}

// UpdateBorrowerStatus rewrites the cached status. The version is left alone
// since the status is derived data.
func (s *SQLiteStore) UpdateBorrowerStatus(ctx context.Context, lenderID, id uuid.UUID, status models.Status) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE borrowers SET status = ? WHERE id = ? AND lender_id = ?`,
		string(status), id.String(), lenderID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update borrower status: %w", err)
	}
	return requireRow(result)
}

// DeleteBorrower removes a borrower for good.
func (s *SQLiteStore) DeleteBorrower(ctx context.Context, lenderID, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM borrowers WHERE id = ? AND lender_id = ?`, id.String(), lenderID.String())
	if err != nil {
		return fmt.Errorf("failed to delete borrower: %w", err)
	}
	return requireRow(result)
}

// RecordPayment increments months_paid in a single conditional UPDATE, so two
// racing requests can never read the same count.
func (s *SQLiteStore) RecordPayment(ctx context.Context, lenderID, id uuid.UUID, p PaymentUpdate) (*models.Borrower, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE borrowers SET
			months_paid = months_paid + 1,
			last_payment_at = ?,
			status = CASE WHEN months_paid + 1 >= ? THEN ? ELSE ? END,
			progress = MIN(100, (months_paid + 1) * 100 / ?),
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND lender_id = ? AND months_paid < ? AND (? = 0 OR version = ?)`,
		p.PaidAt, p.TermMonths, string(models.StatusPaid), string(models.StatusCurrent), p.TermMonths, p.PaidAt,
		id.String(), lenderID.String(), p.TermMonths, p.ExpectedVersion, p.ExpectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}

	b, err := getBorrower(ctx, tx, lenderID, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if b.MonthsPaid >= p.TermMonths {
			return nil, ErrLoanCompleted
		}
		return nil, ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}
	return b, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLender(row rowScanner) (*models.Lender, error) {
	var l models.Lender
	var id string
	err := row.Scan(&id, &l.Name, &l.Email, &l.PasswordHash, &l.Phone,
		&l.Stats.TotalMoneyLent, &l.Stats.MonthlyInterest, &l.Stats.ActiveLoans, &l.Stats.OnTimeRate,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan lender: %w", err)
	}
	if l.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt lender id %q: %w", id, err)
	}
	return &l, nil
}

func scanBorrower(row rowScanner) (*models.Borrower, error) {
	var b models.Borrower
	var id, lenderID, status string
	var lastPayment sql.NullTime
	err := row.Scan(&id, &lenderID, &b.Name, &b.Phone, &b.Address, &b.Avatar,
		&b.Principal, &b.InterestRate, &b.MonthlyPayment, &b.UpfrontProfit,
		&b.AccountStartDate, &b.MonthsPaid, &lastPayment, &status, &b.Progress, &b.Version,
		&b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan borrower: %w", err)
	}
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("corrupt borrower id %q: %w", id, err)
	}
	if b.LenderID, err = uuid.Parse(lenderID); err != nil {
		return nil, fmt.Errorf("corrupt lender id %q: %w", lenderID, err)
	}
	b.Status = models.Status(status)
	if lastPayment.Valid {
		t := lastPayment.Time
		b.LastPaymentAt = &t
	}
	return &b, nil
}
