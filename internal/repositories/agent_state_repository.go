package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

const agentStateID = 1

type SQLAgentStateRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLAgentStateRepository(db *sql.DB, dialect Dialect) *SQLAgentStateRepository {
	return &SQLAgentStateRepository{db: db, dialect: dialect, now: time.Now}
}

func (r *SQLAgentStateRepository) Get(ctx context.Context) (*models.AgentState, error) {
	state, err := r.load(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		if err := r.seed(ctx); err != nil {
			return nil, err
		}
		state, err = r.load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting agent state: %w", err)
	}
	return state, nil
}

func (r *SQLAgentStateRepository) load(ctx context.Context) (*models.AgentState, error) {
	query := `
		SELECT messages_sent_today, current_day, last_heartbeat, last_active,
			is_active, version, updated_at
		FROM agent_state
		WHERE id = ?`

	state := &models.AgentState{}
	var lastHeartbeat, lastActive sql.NullTime

	err := r.db.QueryRowContext(ctx, query, agentStateID).Scan(
		&state.MessagesSentToday,
		&state.CurrentDay,
		&lastHeartbeat,
		&lastActive,
		&state.IsActive,
		&state.Version,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	state.LastHeartbeat = utils.TimePtr(lastHeartbeat)
	state.LastActive = utils.TimePtr(lastActive)
	state.UpdatedAt = state.UpdatedAt.UTC()
	return state, nil
}

// seed inserts the singleton row; a concurrent seed by another process is not an error.
func (r *SQLAgentStateRepository) seed(ctx context.Context) error {
	query := `INSERT IGNORE INTO agent_state (id, messages_sent_today, current_day, is_active, version, updated_at)
		VALUES (?, 0, '', 1, 0, ?)`
	if r.dialect == DialectSQLite {
		query = `INSERT OR IGNORE INTO agent_state (id, messages_sent_today, current_day, is_active, version, updated_at)
		VALUES (?, 0, '', 1, 0, ?)`
	}
	if _, err := r.db.ExecContext(ctx, query, agentStateID, dbTime(r.now())); err != nil {
		return fmt.Errorf("error creating agent state: %w", err)
	}
	return nil
}

func (r *SQLAgentStateRepository) CompareAndSwap(ctx context.Context, expectedVersion int64, next *models.AgentState) (bool, error) {
	query := `
		UPDATE agent_state SET
			messages_sent_today = ?,
			current_day = ?,
			last_heartbeat = ?,
			last_active = ?,
			is_active = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?`

	updatedAt := dbTime(r.now())
	result, err := r.db.ExecContext(ctx, query,
		next.MessagesSentToday,
		next.CurrentDay,
		utils.NullTime(next.LastHeartbeat),
		utils.NullTime(next.LastActive),
		utils.BoolToInt(next.IsActive),
		updatedAt,
		agentStateID,
		expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("error updating agent state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting affected rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	next.Version = expectedVersion + 1
	next.UpdatedAt = updatedAt
	return true, nil
}
