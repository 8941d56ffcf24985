package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/auth"
	"github.com/mcclellann/lendtrack/pkg/models"
)

type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Phone    string `json:"phone" validate:"max=40"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ProfileInput is a partial update; nil fields are left alone.
type ProfileInput struct {
	Name  *string `json:"name" validate:"omitnil,min=1,max=100"`
	Email *string `json:"email" validate:"omitnil,email"`
	Phone *string `json:"phone" validate:"omitnil,min=1,max=40"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a lender account with a bcrypt-hashed password.
func (l *Ledger) Register(ctx context.Context, in RegisterInput) (*models.Lender, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	if err := check(in); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password, l.bcryptCost)
	if err != nil {
		return nil, err
	}
	now := l.clock()
	lender := &models.Lender{
		ID:           uuid.New(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Phone:        in.Phone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.storage.CreateLender(ctx, lender); err != nil {
		return nil, wrap("create lender", err)
	}
	l.logger.Info("lender registered", "lender_id", lender.ID)
	return lender, nil
}

// Authenticate returns the lender whose credentials match. Unknown emails and
// wrong passwords fail the same way.
func (l *Ledger) Authenticate(ctx context.Context, in LoginInput) (*models.Lender, error) {
	in.Email = normalizeEmail(in.Email)
	if err := check(in); err != nil {
		return nil, err
	}
	lender, err := l.storage.GetLenderByEmail(ctx, in.Email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, wrap("find lender", err)
	}
	if !auth.CheckPassword(lender.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}
	return lender, nil
}

func (l *Ledger) GetLender(ctx context.Context, id uuid.UUID) (*models.Lender, error) {
	lender, err := l.storage.GetLender(ctx, id)
	if err != nil {
		return nil, wrap("get lender", err)
	}
	return lender, nil
}

// UpdateProfile changes the lender's name, email or phone.
func (l *Ledger) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*models.Lender, error) {
	if in.Name != nil {
		*in.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		*in.Email = normalizeEmail(*in.Email)
	}
	if in.Phone != nil {
		*in.Phone = strings.TrimSpace(*in.Phone)
	}
	if err := check(in); err != nil {
		return nil, err
	}

	lender, err := l.storage.GetLender(ctx, id)
	if err != nil {
		return nil, wrap("get lender", err)
	}
	if in.Name != nil {
		lender.Name = *in.Name
	}
	if in.Email != nil {
		lender.Email = *in.Email
	}
	if in.Phone != nil {
		lender.Phone = *in.Phone
	}
	lender.UpdatedAt = l.clock()
	if err := l.storage.UpdateLender(ctx, lender); err != nil {
		return nil, wrap("update lender", err)
	}
	return lender, nil
}

// LenderByEmail looks a lender up by login email.
func (l *Ledger) LenderByEmail(ctx context.Context, email string) (*models.Lender, error) {
	lender, err := l.storage.GetLenderByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, wrap("find lender", err)
	}
	return lender, nil
}
