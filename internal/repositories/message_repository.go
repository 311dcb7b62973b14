package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"outreach-agent/internal/models"
)

type SQLMessageLogRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLMessageLogRepository(db *sql.DB) *SQLMessageLogRepository {
	return &SQLMessageLogRepository{db: db, now: time.Now}
}

func (r *SQLMessageLogRepository) Append(ctx context.Context, prospectID string, direction models.Direction, content string) (*models.MessageLog, error) {
	entry := &models.MessageLog{
		ID:         uuid.NewString(),
		ProspectID: prospectID,
		Direction:  direction,
		Content:    content,
		SentAt:     dbTime(r.now()),
	}

	query := `
		INSERT INTO message_logs (id, prospect_id, direction, content, sent_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ProspectID,
		string(entry.Direction),
		entry.Content,
		entry.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error saving message log: %w", err)
	}
	return entry, nil
}

func (r *SQLMessageLogRepository) ListByProspect(ctx context.Context, prospectID string, limit int) ([]*models.MessageLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, prospect_id, direction, content, sent_at
		FROM message_logs
		WHERE prospect_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, prospectID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying message logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.MessageLog
	for rows.Next() {
		entry := &models.MessageLog{}
		var direction string
		if err := rows.Scan(&entry.ID, &entry.ProspectID, &direction, &entry.Content, &entry.SentAt); err != nil {
			return nil, fmt.Errorf("error scanning message log: %w", err)
		}
		entry.Direction = models.Direction(direction)
		entry.SentAt = entry.SentAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message logs: %w", err)
	}
	return entries, nil
}
