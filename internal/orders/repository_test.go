package orders

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/suprimo-erp/suprimo-erp/internal/shared"
)

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

func TestScanOrderClassifiesRowConflicts(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		_, err := scanOrder(errRow{err: &pgconn.PgError{Code: code, Message: "row conflict"}})
		require.ErrorIs(t, err, shared.ErrConcurrency, code)
	}

	_, err := scanOrder(errRow{err: errors.New("broken pipe")})
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrConcurrency)
}
