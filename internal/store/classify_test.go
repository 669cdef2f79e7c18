package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type sqliteError int

func (e sqliteError) Error() string { return fmt.Sprintf("sqlite error %d", int(e)) }
func (e sqliteError) Code() int { return int(e) }

func TestClassify(t *testing.T) {
	ctx := context.Background()
	businessErr := errors.New("insufficient points")

	tests := []struct {
		name string
		err  error
		busy bool
	}{
		{"nil", nil, false},
		{"business error", businessErr, false},
		{"deadline", fmt.Errorf("begin: %w", context.DeadlineExceeded), true},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"query canceled without deadline", &pgconn.PgError{Code: "57014"}, false},
		{"sqlite busy", sqliteError(5), true},
		{"sqlite busy snapshot", sqliteError(517), true},
		{"sqlite constraint", sqliteError(19), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(ctx, tt.err)
			assert.Equal(t, tt.busy, errors.Is(got, ErrBusy))
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}
