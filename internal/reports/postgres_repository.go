package reports

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository persists reports to a Postgres database.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository constructs a repository backed by sqlx.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const baseSelect = `
SELECT
    id,
    fullname,
    enrollment_number,
    campus,
    program_name,
    email,
    latitude,
    longitude,
    photos,
    audios,
    status,
    description_facts,
    actions_realized,
    created_at,
    updated_at
FROM reports
`

// Create inserts a new row and returns the stored representation.
func (r *PostgresRepository) Create(ctx context.Context, report Report) (Report, error) {
	insert := `INSERT INTO reports (id, fullname, enrollment_number, campus, program_name, email, latitude, longitude, photos, audios, status, description_facts, actions_realized, created_at, updated_at)
VALUES (:id, :fullname, :enrollment_number, :campus, :program_name, :email, :latitude, :longitude, :photos, :audios, :status, :description_facts, :actions_realized, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, insert, report); err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}

	return r.Get(ctx, report.ID)
}

// Get retrieves a row by primary key.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Report, error) {
	var report Report
	if err := r.db.GetContext(ctx, &report, baseSelect+" WHERE id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return Report{}, ErrNotFound
		}
		return Report{}, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

// List returns reports matching the filter, ordered by creation timestamp
// descending.
func (r *PostgresRepository) List(ctx context.Context, filter Filter) ([]Report, error) {
	query := baseSelect
	clauses, args := filterClauses(filter)

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query = query + " ORDER BY created_at DESC, fullname ASC"

	matched := []Report{}
	if err := r.db.SelectContext(ctx, &matched, query, args...); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return matched, nil
}

// Update modifies an existing row.
func (r *PostgresRepository) Update(ctx context.Context, report Report) (Report, error) {
	query := `UPDATE reports
SET fullname = :fullname,
    enrollment_number = :enrollment_number,
    campus = :campus,
    program_name = :program_name,
    email = :email,
    latitude = :latitude,
    longitude = :longitude,
    photos = :photos,
    audios = :audios,
    status = :status,
    description_facts = :description_facts,
    actions_realized = :actions_realized,
    updated_at = :updated_at
WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, report)
	if err != nil {
		return Report{}, fmt.Errorf("update report: %w", err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return Report{}, ErrNotFound
	}

	return r.Get(ctx, report.ID)
}

// Counts aggregates reports per status within the filter.
func (r *PostgresRepository) Counts(ctx context.Context, filter Filter) (StatusCounts, error) {
	query := `SELECT status, COUNT(*) AS count FROM reports`
	clauses, args := filterClauses(filter)

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query = query + " GROUP BY status"

	type statusCount struct {
		Status Status `db:"status"`
		Count  int    `db:"count"`
	}

	rows := []statusCount{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return StatusCounts{}, fmt.Errorf("count reports: %w", err)
	}

	var counts StatusCounts
	for _, row := range rows {
		switch row.Status {
		case StatusPending:
			counts.Pending = row.Count
		case StatusInProgress:
			counts.InProgress = row.Count
		case StatusResolved:
			counts.Resolved = row.Count
		case StatusCancelled:
			counts.Cancelled = row.Count
		}
		counts.Total += row.Count
	}
	return counts, nil
}

func filterClauses(filter Filter) ([]string, []any) {
	clauses := []string{}
	args := []any{}

	if filter.Status != nil {
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.From != nil {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	return clauses, args
}
