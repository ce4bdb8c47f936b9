// Package episodic implements the append-only audit-event timeline keyed by
// conversational thread.
package episodic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/megaagent/memcore/internal/backoff"
	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/internal/postgres"
	"github.com/megaagent/memcore/pkg/models"
)

const eventColumns = `event_id, ts, user_id, thread_id, source, action, payload, tags`

// Store is the Postgres-backed episodic store. Events are never rewritten
// after Append.
type Store struct {
	pool    *postgres.Pool
	logger  *observability.Logger
	metrics *observability.Metrics
	policy  backoff.Policy
	now     func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithMetrics attaches store metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an episodic store.
func New(pool *postgres.Pool, logger *observability.Logger, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: logger,
		policy: backoff.StorePolicy(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append validates and writes one event. Missing event_id, timestamp, and
// thread_id are filled in (thread defaults to "global").
func (s *Store) Append(ctx context.Context, event *models.AuditEvent) error {
	if strings.TrimSpace(event.Source) == "" {
		return memerr.New(memerr.KindValidation, "event has empty source")
	}
	if strings.TrimSpace(event.Action) == "" {
		return memerr.New(memerr.KindValidation, "event has empty action")
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if event.ThreadID == "" {
		event.ThreadID = models.GlobalThread
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	return backoff.RetryVoid(ctx, s.policy, func(ctx context.Context, _ int) error {
		_, err := s.pool.DB().Exec(ctx, `
			INSERT INTO mega_agent.episodic_events
				(event_id, ts, user_id, thread_id, source, action, payload, tags)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			event.EventID, event.Timestamp, event.UserID, event.ThreadID,
			event.Source, event.Action, event.Payload, event.Tags)
		return postgres.WrapError(err, "append event")
	})
}

// GetThreadEvents returns a thread's events in chronological order with
// event_id as the tiebreak. A positive limit keeps only the last entries.
func (s *Store) GetThreadEvents(ctx context.Context, threadID string, limit int) ([]*models.AuditEvent, error) {
	if threadID == "" {
		threadID = models.GlobalThread
	}

	query := `
		SELECT ` + eventColumns + `
		FROM mega_agent.episodic_events
		WHERE thread_id = $1
		ORDER BY ts, event_id`
	args := []any{threadID}
	if limit > 0 {
		// Take the newest N, then restore chronological order.
		query = `
			SELECT ` + eventColumns + ` FROM (
				SELECT ` + eventColumns + `
				FROM mega_agent.episodic_events
				WHERE thread_id = $1
				ORDER BY ts DESC, event_id DESC
				LIMIT $2
			) latest ORDER BY ts, event_id`
		args = append(args, limit)
	}

	return s.queryEvents(ctx, query, args...)
}

// GetRecent returns the most recent events across all threads, newest first.
func (s *Store) GetRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM mega_agent.episodic_events
		ORDER BY ts DESC, event_id DESC
		LIMIT $1`, limit)
}

// GetAll returns every event grouped by thread. The result is a fresh copy;
// mutating it never affects the store. Intended for admin tooling only.
func (s *Store) GetAll(ctx context.Context) (map[string][]*models.AuditEvent, error) {
	events, err := s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM mega_agent.episodic_events
		ORDER BY ts, event_id`)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]*models.AuditEvent)
	for _, e := range events {
		grouped[e.ThreadID] = append(grouped[e.ThreadID], e)
	}
	return grouped, nil
}

// Query filters events by thread, user, time window, and tag intersection
// (case-insensitive). Results are chronological; a positive limit keeps the
// latest entries.
func (s *Store) Query(ctx context.Context, q models.EpisodicQuery) ([]*models.AuditEvent, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT ` + eventColumns + `
		FROM mega_agent.episodic_events
		WHERE true`)
	var args []any
	addArg := func(clause string, value any) {
		args = append(args, value)
		fmt.Fprintf(&sb, " AND "+clause, len(args))
	}

	if q.ThreadID != "" {
		addArg("thread_id = $%d", q.ThreadID)
	}
	if q.UserID != "" {
		addArg("user_id = $%d", q.UserID)
	}
	if !q.Since.IsZero() {
		addArg("ts >= $%d", q.Since)
	}
	if !q.Until.IsZero() {
		addArg("ts <= $%d", q.Until)
	}
	if len(q.Tags) > 0 {
		lowered := make([]string, len(q.Tags))
		for i, tag := range q.Tags {
			lowered[i] = strings.ToLower(tag)
		}
		// Intersection, not subset: any shared tag qualifies.
		addArg("EXISTS (SELECT 1 FROM unnest(tags) t WHERE lower(t) = ANY($%d))", lowered)
	}
	sb.WriteString(" ORDER BY ts, event_id")

	events, err := s.queryEvents(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[len(events)-q.Limit:]
	}
	return events, nil
}

// PurgeBefore deletes events older than cutoff. Returns rows deleted.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) (int64, error) {
		tag, err := s.pool.DB().Exec(ctx,
			`DELETE FROM mega_agent.episodic_events WHERE ts < $1`, cutoff)
		if err != nil {
			return 0, postgres.WrapError(err, "purge events")
		}
		return tag.RowsAffected(), nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info(ctx, "purged episodic events", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// HealthCheck verifies database reachability.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Health(ctx)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*models.AuditEvent, error) {
	start := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.StoreOpDuration.WithLabelValues("episodic", "query").Observe(time.Since(start).Seconds())
		}
	}()

	return backoff.Retry(ctx, s.policy, func(ctx context.Context, _ int) ([]*models.AuditEvent, error) {
		rows, err := s.pool.DB().Query(ctx, query, args...)
		if err != nil {
			return nil, postgres.WrapError(err, "query events")
		}
		defer rows.Close()

		var out []*models.AuditEvent
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		if err := rows.Err(); err != nil {
			return nil, postgres.WrapError(err, "event rows")
		}
		return out, nil
	})
}

func scanEvent(rows pgx.Rows) (*models.AuditEvent, error) {
	e := &models.AuditEvent{}
	if err := rows.Scan(&e.EventID, &e.Timestamp, &e.UserID, &e.ThreadID,
		&e.Source, &e.Action, &e.Payload, &e.Tags); err != nil {
		return nil, postgres.WrapError(err, "scan event")
	}
	return e, nil
}
