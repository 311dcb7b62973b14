package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

const prospectColumns = `
	id, phone, name, company, sector, city, website, status,
	contact_count, next_contact_at, last_template, external_contact_id, board_card_id,
	created_at, updated_at, first_contact_at, last_contact_at, responded_at, declined_at`

type SQLProspectRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLProspectRepository(db *sql.DB) *SQLProspectRepository {
	return &SQLProspectRepository{db: db, now: time.Now}
}

func (r *SQLProspectRepository) Create(ctx context.Context, prospect *models.Prospect) error {
	if prospect.ID == "" {
		prospect.ID = uuid.NewString()
	}
	if prospect.Status == "" {
		prospect.Status = models.StatusNew
	}
	now := dbTime(r.now())
	if prospect.CreatedAt.IsZero() {
		prospect.CreatedAt = now
	}
	prospect.CreatedAt = dbTime(prospect.CreatedAt)
	prospect.UpdatedAt = now

	query := `INSERT INTO prospects (` + prospectColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		prospect.ID,
		prospect.Phone,
		prospect.Name,
		prospect.Company,
		prospect.Sector,
		prospect.City,
		prospect.Website,
		string(prospect.Status),
		prospect.ContactCount,
		utils.NullTime(prospect.NextContactAt),
		utils.NullString(prospect.LastTemplate),
		utils.NullString(prospect.ExternalContactID),
		utils.NullString(prospect.BoardCardID),
		prospect.CreatedAt,
		prospect.UpdatedAt,
		utils.NullTime(prospect.FirstContactAt),
		utils.NullTime(prospect.LastContactAt),
		utils.NullTime(prospect.RespondedAt),
		utils.NullTime(prospect.DeclinedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("prospect %s: %w", prospect.Phone, models.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("error saving prospect: %w", err)
	}
	return nil
}

func (r *SQLProspectRepository) GetByID(ctx context.Context, id string) (*models.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE id = ?`
	return r.getOne(ctx, query, id)
}

func (r *SQLProspectRepository) GetByPhone(ctx context.Context, phone string) (*models.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE phone = ?`
	return r.getOne(ctx, query, phone)
}

func (r *SQLProspectRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Prospect, error) {
	prospect, err := scanProspect(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting prospect: %w", err)
	}
	return prospect, nil
}

// UpdateFields writes only the fields set in update and stamps updated_at.
func (r *SQLProspectRepository) UpdateFields(ctx context.Context, id string, update models.ProspectUpdate) error {
	var sets []string
	var args []interface{}

	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.ContactCount != nil {
		add("contact_count", *update.ContactCount)
	}
	if update.NextContactAt != nil {
		add("next_contact_at", utils.NullTime(update.NextContactAt))
	} else if update.ClearNextContactAt {
		add("next_contact_at", nil)
	}
	if update.LastTemplate != nil {
		add("last_template", utils.NullString(*update.LastTemplate))
	}
	if update.ExternalContactID != nil {
		add("external_contact_id", utils.NullString(*update.ExternalContactID))
	}
	if update.BoardCardID != nil {
		add("board_card_id", utils.NullString(*update.BoardCardID))
	}
	if update.FirstContactAt != nil {
		add("first_contact_at", utils.NullTime(update.FirstContactAt))
	}
	if update.LastContactAt != nil {
		add("last_contact_at", utils.NullTime(update.LastContactAt))
	}
	if update.RespondedAt != nil {
		add("responded_at", utils.NullTime(update.RespondedAt))
	}
	if update.DeclinedAt != nil {
		add("declined_at", utils.NullTime(update.DeclinedAt))
	}
	add("updated_at", dbTime(r.now()))
	args = append(args, id)

	query := `UPDATE prospects SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating prospect: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting affected rows: %w", err)
	}
	if affected == 0 {
		// MySQL reports 0 for a matched row whose values did not change.
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM prospects WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("error checking prospect: %w", err)
		}
	}
	return nil
}

func (r *SQLProspectRepository) SelectCandidates(ctx context.Context, q models.CandidateQuery) ([]*models.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE status = ?`
	args := []interface{}{string(q.Status)}

	if q.DueBy != nil {
		query += ` AND next_contact_at IS NOT NULL AND next_contact_at <= ?`
		args = append(args, dbTime(*q.DueBy))
	}

	switch q.OrderBy {
	case models.OrderByNextContactAt:
		query += ` ORDER BY next_contact_at ASC, id ASC`
	default:
		query += ` ORDER BY created_at ASC, id ASC`
	}

	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	return r.fetchProspects(ctx, query, args...)
}

func (r *SQLProspectRepository) List(ctx context.Context, q models.ListQuery) ([]*models.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects`
	var args []interface{}
	if q.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	return r.fetchProspects(ctx, query, args...)
}

func (r *SQLProspectRepository) fetchProspects(ctx context.Context, query string, args ...interface{}) ([]*models.Prospect, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying prospects: %w", err)
	}
	defer rows.Close()

	var prospects []*models.Prospect
	for rows.Next() {
		prospect, err := scanProspect(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning prospect: %w", err)
		}
		prospects = append(prospects, prospect)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prospects: %w", err)
	}
	return prospects, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProspect(row rowScanner) (*models.Prospect, error) {
	prospect := &models.Prospect{}
	var status string
	var lastTemplate, externalContactID, boardCardID sql.NullString
	var nextContactAt, firstContactAt, lastContactAt, respondedAt, declinedAt sql.NullTime

	err := row.Scan(
		&prospect.ID,
		&prospect.Phone,
		&prospect.Name,
		&prospect.Company,
		&prospect.Sector,
		&prospect.City,
		&prospect.Website,
		&status,
		&prospect.ContactCount,
		&nextContactAt,
		&lastTemplate,
		&externalContactID,
		&boardCardID,
		&prospect.CreatedAt,
		&prospect.UpdatedAt,
		&firstContactAt,
		&lastContactAt,
		&respondedAt,
		&declinedAt,
	)
	if err != nil {
		return nil, err
	}

	prospect.Status = models.Status(status)
	prospect.LastTemplate = lastTemplate.String
	prospect.ExternalContactID = externalContactID.String
	prospect.BoardCardID = boardCardID.String
	prospect.NextContactAt = utils.TimePtr(nextContactAt)
	prospect.FirstContactAt = utils.TimePtr(firstContactAt)
	prospect.LastContactAt = utils.TimePtr(lastContactAt)
	prospect.RespondedAt = utils.TimePtr(respondedAt)
	prospect.DeclinedAt = utils.TimePtr(declinedAt)
	prospect.CreatedAt = prospect.CreatedAt.UTC()
	prospect.UpdatedAt = prospect.UpdatedAt.UTC()

	return prospect, nil
}

// dbTime normalizes timestamps to what DATETIME(6) can hold.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
