package postgres

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/megaagent/memcore/internal/memerr"
)

func TestWrapErrorNil(t *testing.T) {
	if err := WrapError(nil, "op"); err != nil {
		t.Errorf("WrapError(nil) = %v", err)
	}
}

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      memerr.Kind
		transient bool
	}{
		{"deadlock", &pgconn.PgError{Code: "40P01"}, memerr.KindStore, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, memerr.KindStore, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, memerr.KindStore, true},
		{"constraint violation", &pgconn.PgError{Code: "23505"}, memerr.KindStore, false},
		{"syntax error", &pgconn.PgError{Code: "42601"}, memerr.KindStore, false},
		{"eof", io.EOF, memerr.KindStore, true},
		{"unexpected eof", io.ErrUnexpectedEOF, memerr.KindStore, true},
		{"cancelled", context.Canceled, memerr.KindCancelled, false},
		{"deadline", context.DeadlineExceeded, memerr.KindCancelled, false},
		{"plain", errors.New("boom"), memerr.KindStore, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError(tc.err, "op")
			if got := memerr.KindOf(wrapped); got != tc.kind {
				t.Errorf("kind = %s, want %s", got, tc.kind)
			}
			if got := memerr.IsTransient(wrapped); got != tc.transient {
				t.Errorf("transient = %v, want %v", got, tc.transient)
			}
			if !errors.Is(wrapped, tc.err) {
				t.Error("cause lost in wrapping")
			}
		})
	}
}
