package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mcclellann/lendtrack/pkg/store"
)

// The storage sentinels are reused so errors.Is matches at either layer.
var (
	ErrNotFound           = store.ErrNotFound
	ErrConflict           = store.ErrVersionConflict
	ErrLoanCompleted      = store.ErrLoanCompleted
	ErrEmailTaken         = store.ErrDuplicateEmail
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError lists the rejected input fields and why.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
