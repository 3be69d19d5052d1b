package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ageScoresQuery raises every active score below the ceiling ($1) by one and counts
// the records that reached the ceiling
const ageScoresQuery = `
	WITH aged AS (
		UPDATE user_call_scores
		SET current_score = current_score + 1, updated_at = $2
		WHERE is_active AND current_score < $1
		RETURNING current_score
	)
	SELECT COUNT(*), COUNT(*) FILTER (WHERE current_score >= $1) FROM aged
`

// selectCandidatesQuery binds queue type, now, cooling cutoff and window size.
// The window count runs before LIMIT, so every row carries the full eligible population
const selectCandidatesQuery = `
	SELECT user_id, current_score, current_queue_type, is_active, next_call_after, last_outcome, created_at, updated_at,
	       COUNT(*) OVER ()
	FROM user_call_scores
	WHERE current_queue_type = $1
	  AND is_active
	  AND (next_call_after IS NULL OR next_call_after <= $2)
	  AND (current_score = 0 OR created_at <= $3)
	ORDER BY current_score ASC, created_at DESC, user_id ASC
	LIMIT $4
`

const nextDueCallbackQuery = `
	SELECT id, user_id, scheduled_for, callback_reason, preferred_agent_id, original_call_session_id, status
	FROM scheduled_callbacks
	WHERE status = 'pending'
	  AND scheduled_for <= $1
	  AND ($2::text = '' OR preferred_agent_id IS NULL OR preferred_agent_id = '' OR preferred_agent_id = $2)
	ORDER BY scheduled_for ASC, id ASC
	LIMIT 1
`

// PostgresRepository owns the dialler's own tables: the score store,
// the snapshot tables and the callbacks the agent application schedules
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresRepository(ctx context.Context, connString string, logger *slog.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres pool config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres did not answer ping: %w", err)
	}

	logger.Info("Connected to Postgres score store")
	return &PostgresRepository{pool: p, logger: logger}, nil
}

// EnsureSchema creates the dialler tables and indexes when they are missing
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// --- Score store ---

// UpsertLeads creates a score-0 record for every unseen user and only touches
// updated_at for users that already have one. Existing scores are never reset
func (r *PostgresRepository) UpsertLeads(ctx context.Context, leads []models.LeadUpsert, now time.Time) (models.UpsertOutcome, error) {
	var out models.UpsertOutcome
	if len(leads) == 0 {
		return out, nil
	}

	ids := make([]int64, len(leads))
	types := make([]string, len(leads))
	for i, l := range leads {
		ids[i] = l.UserID
		types[i] = string(l.QueueType)
	}

	query := `
		INSERT INTO user_call_scores (user_id, current_score, current_queue_type, is_active, created_at, updated_at)
		SELECT l.user_id, 0, l.queue_type, TRUE, $3, $3
		FROM unnest($1::bigint[], $2::text[]) AS l(user_id, queue_type)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted
	`

	rows, err := r.pool.Query(ctx, query, ids, types, now)
	if err != nil {
		return out, fmt.Errorf("failed to upsert leads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return out, fmt.Errorf("failed to scan upsert result: %w", err)
		}
		if inserted {
			out.Inserted++
		} else {
			out.Existing++
		}
	}
	return out, rows.Err()
}

// AgeScores increments every active score below ceiling in a single statement.
// crossed counts the records that reached the ceiling in this run
func (r *PostgresRepository) AgeScores(ctx context.Context, ceiling int, now time.Time) (aged, crossed int64, err error) {
	if err := r.pool.QueryRow(ctx, ageScoresQuery, ceiling, now).Scan(&aged, &crossed); err != nil {
		return 0, 0, fmt.Errorf("failed to age scores: %w", err)
	}
	return aged, crossed, nil
}

// ListQueueCandidates returns the ordered selection window for one queue type along with
// the size of the whole eligible population, counted before the window limit applies
func (r *PostgresRepository) ListQueueCandidates(ctx context.Context, f models.SelectionFilter) (models.Selection, error) {
	sel := models.Selection{}

	rows, err := r.pool.Query(ctx, selectCandidatesQuery, selectionArgs(f)...)
	if err != nil {
		return sel, fmt.Errorf("failed to select %s candidates: %w", f.QueueType, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec       models.ScoreRecord
			queueType *string
			eligible  int64
		)
		err := rows.Scan(
			&rec.UserID,
			&rec.CurrentScore,
			&queueType,
			&rec.IsActive,
			&rec.NextCallAfter,
			&rec.LastOutcome,
			&rec.CreatedAt,
			&rec.UpdatedAt,
			&eligible,
		)
		if err != nil {
			return sel, fmt.Errorf("failed to scan score record: %w", err)
		}
		if queueType != nil {
			q := models.QueueType(*queueType)
			rec.CurrentQueueType = &q
		}
		sel.Eligible = int(eligible)
		sel.Records = append(sel.Records, rec)
	}
	return sel, rows.Err()
}

// selectionArgs binds a filter to the $1..$4 placeholders of selectCandidatesQuery
func selectionArgs(f models.SelectionFilter) []any {
	limit := f.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}
	return []any{string(f.QueueType), f.Now, f.CoolingCutoff, limit}
}

// DeactivateUser takes a user out of scoring and selection with the reason recorded
func (r *PostgresRepository) DeactivateUser(ctx context.Context, userID int64, reason string, now time.Time) error {
	query := `
		UPDATE user_call_scores
		SET is_active = FALSE, last_outcome = $2, updated_at = $3
		WHERE user_id = $1
	`
	_, err := r.pool.Exec(ctx, query, userID, reason, now)
	return err
}

// SetCooldown keeps the user out of snapshots until the given instant
func (r *PostgresRepository) SetCooldown(ctx context.Context, userID int64, until time.Time, outcome string, now time.Time) error {
	query := `
		UPDATE user_call_scores
		SET next_call_after = $2, last_outcome = $3, updated_at = $4
		WHERE user_id = $1
	`
	_, err := r.pool.Exec(ctx, query, userID, until, outcome, now)
	return err
}

// --- Snapshot tables ---

// ClearSnapshot deletes every row of the queue type's snapshot table
func (r *PostgresRepository) ClearSnapshot(ctx context.Context, q models.QueueType) (int64, error) {
	table, err := q.SnapshotTable()
	if err != nil {
		return 0, err
	}
	tag, err := r.pool.Exec(ctx, "DELETE FROM "+table)
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// InsertSnapshotEntry writes one ranked row and returns its id
func (r *PostgresRepository) InsertSnapshotEntry(ctx context.Context, e models.QueueEntry) (int64, error) {
	table, err := e.QueueType.SnapshotTable()
	if err != nil {
		return 0, err
	}

	var (
		query string
		args  []any
	)
	common := []any{e.UserID, e.ClaimID, e.PriorityScore, e.QueuePosition, string(e.Status), e.QueueReason, e.AvailableFrom, e.CreatedAt}

	switch e.QueueType {
	case models.QueueUnsignedUsers:
		query = `
			INSERT INTO ` + table + ` (user_id, claim_id, priority_score, queue_position, status, queue_reason,
				available_from, created_at, updated_at, signature_missing_since)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
			RETURNING id
		`
		args = append(common, e.SignatureMissingSince)
	case models.QueueOutstandingRequests:
		types := e.RequirementTypes
		if types == nil {
			types = []string{}
		}
		query = `
			INSERT INTO ` + table + ` (user_id, claim_id, priority_score, queue_position, status, queue_reason,
				available_from, created_at, updated_at, requirement_types, total_requirements, pending_requirements)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9, $10, $11)
			RETURNING id
		`
		args = append(common, types, e.TotalRequirements, e.PendingRequirements)
	}

	var id int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert %s entry for user %d: %w", table, e.UserID, err)
	}
	return id, nil
}

// NextPendingEntry returns the lowest-position unassigned pending row, or nil when the table is drained
func (r *PostgresRepository) NextPendingEntry(ctx context.Context, q models.QueueType) (*models.QueueEntry, error) {
	table, err := q.SnapshotTable()
	if err != nil {
		return nil, err
	}

	specific := "signature_missing_since, NULL::text[], NULL::integer, NULL::integer"
	if q == models.QueueOutstandingRequests {
		specific = "NULL::timestamptz, requirement_types, total_requirements, pending_requirements"
	}

	query := `
		SELECT id, user_id, claim_id, priority_score, queue_position, status, queue_reason,
			assigned_to_agent, assigned_at, available_from, created_at, updated_at, ` + specific + `
		FROM ` + table + `
		WHERE status = 'pending' AND assigned_to_agent IS NULL
		ORDER BY queue_position ASC
		LIMIT 1
	`

	e := models.QueueEntry{QueueType: q, Source: models.SourceSnapshot}
	var status string
	err = r.pool.QueryRow(ctx, query).Scan(
		&e.ID,
		&e.UserID,
		&e.ClaimID,
		&e.PriorityScore,
		&e.QueuePosition,
		&status,
		&e.QueueReason,
		&e.AssignedToAgent,
		&e.AssignedAt,
		&e.AvailableFrom,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.SignatureMissingSince,
		&e.RequirementTypes,
		&e.TotalRequirements,
		&e.PendingRequirements,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch next %s entry: %w", table, err)
	}
	e.Status = models.EntryStatus(status)
	return &e, nil
}

// AssignEntry hands the row to agentID only if it is still pending and unassigned.
// false means another agent won the race
func (r *PostgresRepository) AssignEntry(ctx context.Context, q models.QueueType, entryID int64, agentID string, at time.Time) (bool, error) {
	table, err := q.SnapshotTable()
	if err != nil {
		return false, err
	}
	query := `
		UPDATE ` + table + `
		SET status = 'assigned', assigned_to_agent = $2, assigned_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND assigned_to_agent IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, entryID, agentID, at)
	if err != nil {
		return false, fmt.Errorf("failed to assign %s entry %d: %w", table, entryID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkEntryInactive retires a row whose user failed revalidation
func (r *PostgresRepository) MarkEntryInactive(ctx context.Context, q models.QueueType, entryID int64, now time.Time) error {
	table, err := q.SnapshotTable()
	if err != nil {
		return err
	}
	query := `UPDATE ` + table + ` SET status = 'inactive', updated_at = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, entryID, now); err != nil {
		return fmt.Errorf("failed to deactivate %s entry %d: %w", table, entryID, err)
	}
	return nil
}

// FinishEntry moves an assigned row to a terminal status and returns its user.
// ok is false when the row does not exist or is not assigned
func (r *PostgresRepository) FinishEntry(ctx context.Context, q models.QueueType, entryID int64, status models.EntryStatus, now time.Time) (userID int64, ok bool, err error) {
	table, err := q.SnapshotTable()
	if err != nil {
		return 0, false, err
	}
	query := `
		UPDATE ` + table + `
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'assigned'
		RETURNING user_id
	`
	err = r.pool.QueryRow(ctx, query, entryID, string(status), now).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to finish %s entry %d: %w", table, entryID, err)
	}
	return userID, true, nil
}

// SnapshotStats counts the rows of a snapshot table per status
func (r *PostgresRepository) SnapshotStats(ctx context.Context, q models.QueueType) (models.QueueStats, error) {
	stats := models.QueueStats{QueueType: q}
	table, err := q.SnapshotTable()
	if err != nil {
		return stats, err
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending' AND assigned_to_agent IS NULL),
			COUNT(*) FILTER (WHERE status = 'assigned'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'skipped'),
			COUNT(*) FILTER (WHERE status = 'inactive')
		FROM ` + table

	var pending, assigned, completed, skipped, inactive int64
	if err := r.pool.QueryRow(ctx, query).Scan(&pending, &assigned, &completed, &skipped, &inactive); err != nil {
		return stats, fmt.Errorf("failed to read %s stats: %w", table, err)
	}
	stats.Pending = int(pending)
	stats.Assigned = int(assigned)
	stats.Completed = int(completed)
	stats.Skipped = int(skipped)
	stats.Inactive = int(inactive)
	return stats, nil
}

// --- Callbacks ---

// NextDueCallback returns the earliest pending callback scheduled at or before now.
// With a non-empty agentID, callbacks reserved for other agents are skipped.
// nextDueCallbackQuery is the only place that rule is applied
func (r *PostgresRepository) NextDueCallback(ctx context.Context, now time.Time, agentID string) (*models.Callback, error) {
	var (
		cb     models.Callback
		status string
	)
	err := r.pool.QueryRow(ctx, nextDueCallbackQuery, now, agentID).Scan(
		&cb.ID,
		&cb.UserID,
		&cb.ScheduledFor,
		&cb.CallbackReason,
		&cb.PreferredAgentID,
		&cb.OriginalCallSessionID,
		&status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch due callback: %w", err)
	}
	cb.Status = models.CallbackStatus(status)
	return &cb, nil
}

// ConsumeCallback marks a pending callback as consumed. false means it was already taken
func (r *PostgresRepository) ConsumeCallback(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
		UPDATE scheduled_callbacks
		SET status = 'consumed', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume callback %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping reports whether the pool can still reach Postgres
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	r.logger.Info("Closing Postgres connection pool")
	r.pool.Close()
}
