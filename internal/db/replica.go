package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/mapper"
	"github.com/Guizzs26/go-lead-dialler/internal/models"
	"github.com/Guizzs26/go-lead-dialler/pkg/encoding"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/nakagami/firebirdsql"
)

const replicaQueryTimeout = 10 * time.Second

// ReplicaRepository is the read-only source of truth for users, claims, requirements and signatures.
// Nothing in this type writes to the replica
type ReplicaRepository struct {
	db      *sql.DB
	builder *mapper.SQLBuilder
	logger  *slog.Logger
}

// NewReplicaRepository opens a connection pool for the replica using the given database/sql driver
func NewReplicaRepository(driver, connString string, logger *slog.Logger) (*ReplicaRepository, error) {
	dialect, err := mapper.DialectForDriver(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica connection: %w", err)
	}

	if dialect == mapper.Firebird {
		// Connection pool settings for the legacy server
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("replica ping failed: %w", err)
	}

	logger.Info("Connected to source-of-truth replica", "driver", driver)

	return &ReplicaRepository{
		db:      db,
		builder: mapper.NewSQLBuilder(dialect),
		logger:  logger,
	}, nil
}

// ListCandidates returns up to limit eligible users with an id greater than afterUserID, ordered by id
func (r *ReplicaRepository) ListCandidates(ctx context.Context, q models.QueueType, afterUserID int64, limit int) ([]models.ScoredCandidate, error) {
	return r.queryCandidates(ctx, q, mapper.CandidateFilter{AfterUserID: &afterUserID, Limit: limit})
}

// LookupCandidate evaluates the queue predicate for a single user.
// It returns nil without error when the user is not eligible
func (r *ReplicaRepository) LookupCandidate(ctx context.Context, q models.QueueType, userID int64) (models.ScoredCandidate, error) {
	found, err := r.queryCandidates(ctx, q, mapper.CandidateFilter{UserIDs: []int64{userID}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// CandidateDetails evaluates the queue predicate for a set of users in one round-trip.
// Users that are no longer eligible are absent from the result
func (r *ReplicaRepository) CandidateDetails(ctx context.Context, q models.QueueType, userIDs []int64) (map[int64]models.ScoredCandidate, error) {
	out := make(map[int64]models.ScoredCandidate, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	found, err := r.queryCandidates(ctx, q, mapper.CandidateFilter{UserIDs: userIDs})
	if err != nil {
		return nil, err
	}
	for _, c := range found {
		out[c.Base().UserID] = c
	}
	return out, nil
}

// UserState reads the facts behind both predicates so a rejection can be explained
func (r *ReplicaRepository) UserState(ctx context.Context, userID int64) (models.UserState, error) {
	opCtx, cancel := context.WithTimeout(ctx, replicaQueryTimeout)
	defer cancel()

	query, args := r.builder.BuildUserState(userID)

	var enabled, signatures, openClaims, pending int64
	err := r.db.QueryRowContext(opCtx, query, args...).Scan(&enabled, &signatures, &openClaims, &pending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UserState{UserID: userID}, nil
		}
		return models.UserState{}, fmt.Errorf("failed to read user state %d: %w", userID, err)
	}

	return models.UserState{
		UserID:       userID,
		Found:        true,
		Enabled:      enabled == 1,
		HasSignature: signatures > 0,
		OpenClaims:   int(openClaims),
		PendingReqs:  int(pending),
	}, nil
}

func (r *ReplicaRepository) queryCandidates(ctx context.Context, q models.QueueType, f mapper.CandidateFilter) ([]models.ScoredCandidate, error) {
	query, args, err := r.builder.BuildCandidates(q, f)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, replicaQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(opCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("replica query for %s failed: %w", q, err)
	}
	defer rows.Close()

	var out []models.ScoredCandidate
	for rows.Next() {
		c, err := scanCandidate(rows, q)
		if err != nil {
			return nil, fmt.Errorf("replica scan for %s failed: %w", q, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("replica rows for %s failed: %w", q, err)
	}

	r.logger.Debug("Replica candidates fetched", "queue_type", q, "count", len(out))
	return out, nil
}

func scanCandidate(rows *sql.Rows, q models.QueueType) (models.ScoredCandidate, error) {
	var (
		userID  int64
		claimID sql.NullInt64
	)

	switch q {
	case models.QueueUnsignedUsers:
		var since sql.NullTime
		if err := rows.Scan(&userID, &claimID, &since); err != nil {
			return nil, err
		}
		c := models.UnsignedCandidate{CandidateBase: models.CandidateBase{UserID: userID, ClaimID: nullableID(claimID)}}
		if since.Valid {
			c.SignatureMissingSince = since.Time
		}
		return c, nil

	case models.QueueOutstandingRequests:
		var (
			total, pending sql.NullInt64
			types          []byte
		)
		if err := rows.Scan(&userID, &claimID, &total, &pending, &types); err != nil {
			return nil, err
		}
		return models.OutstandingCandidate{
			CandidateBase:       models.CandidateBase{UserID: userID, ClaimID: nullableID(claimID)},
			RequirementTypes:    encoding.SplitList(types, ","),
			TotalRequirements:   int(total.Int64),
			PendingRequirements: int(pending.Int64),
		}, nil
	}

	return nil, fmt.Errorf("unsupported queue type %q", q)
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

// Close gracefully shuts down the replica connection pool
func (r *ReplicaRepository) Close() error {
	r.logger.Info("Closing replica connection pool")
	return r.db.Close()
}
