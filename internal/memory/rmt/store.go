// Package rmt implements per-thread working-memory buffers: small mutable
// slot maps with optional TTL.
package rmt

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/megaagent/memcore/internal/backoff"
	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/internal/postgres"
	"github.com/megaagent/memcore/pkg/models"
)

// Store is the working-memory contract. Writes are last-writer-wins full
// replacements; GetBuffer reports absence with a false second return, not
// an error.
type Store interface {
	SetBuffer(ctx context.Context, threadID string, slots map[string]string, ttl time.Duration) error
	GetBuffer(ctx context.Context, threadID string) (*models.RMTBuffer, bool, error)
	DeleteBuffer(ctx context.Context, threadID string) error
	ListAll(ctx context.Context) ([]*models.RMTBuffer, error)

	// Sweep removes expired buffers and returns how many. Backends with
	// native TTL expiry report zero.
	Sweep(ctx context.Context) (int64, error)

	HealthCheck(ctx context.Context) error
}

// PostgresStore is the canonical database-backed implementation.
type PostgresStore struct {
	pool   *postgres.Pool
	logger *observability.Logger
	policy backoff.Policy
	now    func() time.Time
}

// NewPostgresStore creates a Postgres-backed working-memory store.
func NewPostgresStore(pool *postgres.Pool, logger *observability.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger,
		policy: backoff.StorePolicy(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetBuffer fully replaces a thread's slots. ttl == 0 means no expiry.
func (s *PostgresStore) SetBuffer(ctx context.Context, threadID string, slots map[string]string, ttl time.Duration) error {
	if threadID == "" {
		return memerr.New(memerr.KindValidation, "empty thread_id")
	}
	if slots == nil {
		slots = map[string]string{}
	}
	now := s.now()
	var expires *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expires = &t
	}

	return backoff.RetryVoid(ctx, s.policy, func(ctx context.Context, _ int) error {
		_, err := s.pool.DB().Exec(ctx, `
			INSERT INTO mega_agent.rmt_buffers (thread_id, slots, updated_at, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (thread_id) DO UPDATE SET
				slots = EXCLUDED.slots,
				updated_at = EXCLUDED.updated_at,
				expires_at = EXCLUDED.expires_at`,
			threadID, slots, now, expires)
		return postgres.WrapError(err, "set buffer")
	})
}

// GetBuffer returns the buffer, or (nil, false, nil) when absent or expired.
func (s *PostgresStore) GetBuffer(ctx context.Context, threadID string) (*models.RMTBuffer, bool, error) {
	buf := &models.RMTBuffer{}
	found, err := backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) (bool, error) {
		err := s.pool.DB().QueryRow(ctx, `
			SELECT thread_id, slots, updated_at, expires_at
			FROM mega_agent.rmt_buffers
			WHERE thread_id = $1 AND (expires_at IS NULL OR expires_at > now())`,
			threadID).Scan(&buf.ThreadID, &buf.Slots, &buf.UpdatedAt, &buf.ExpiresAt)
		if err != nil {
			if isNoRows(err) {
				return false, nil
			}
			return false, postgres.WrapError(err, "get buffer")
		}
		return true, nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	return buf, true, nil
}

// DeleteBuffer removes a thread's buffer; deleting a missing buffer is not
// an error.
func (s *PostgresStore) DeleteBuffer(ctx context.Context, threadID string) error {
	return backoff.RetryVoid(ctx, s.policy, func(ctx context.Context, _ int) error {
		_, err := s.pool.DB().Exec(ctx,
			`DELETE FROM mega_agent.rmt_buffers WHERE thread_id = $1`, threadID)
		return postgres.WrapError(err, "delete buffer")
	})
}

// ListAll returns every live buffer.
func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.RMTBuffer, error) {
	return backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) ([]*models.RMTBuffer, error) {
		rows, err := s.pool.DB().Query(ctx, `
			SELECT thread_id, slots, updated_at, expires_at
			FROM mega_agent.rmt_buffers
			WHERE expires_at IS NULL OR expires_at > now()
			ORDER BY thread_id`)
		if err != nil {
			return nil, postgres.WrapError(err, "list buffers")
		}
		defer rows.Close()

		var out []*models.RMTBuffer
		for rows.Next() {
			buf := &models.RMTBuffer{}
			if err := rows.Scan(&buf.ThreadID, &buf.Slots, &buf.UpdatedAt, &buf.ExpiresAt); err != nil {
				return nil, postgres.WrapError(err, "scan buffer")
			}
			out = append(out, buf)
		}
		if err := rows.Err(); err != nil {
			return nil, postgres.WrapError(err, "buffer rows")
		}
		return out, nil
	})
}

// Sweep deletes expired buffers.
func (s *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	return backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) (int64, error) {
		tag, err := s.pool.DB().Exec(ctx,
			`DELETE FROM mega_agent.rmt_buffers WHERE expires_at IS NOT NULL AND expires_at <= now()`)
		if err != nil {
			return 0, postgres.WrapError(err, "sweep buffers")
		}
		return tag.RowsAffected(), nil
	})
}

// HealthCheck verifies database reachability.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.pool.Health(ctx)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
