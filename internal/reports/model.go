package reports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a report cannot be located.
var ErrNotFound = errors.New("report not found")

// ErrValidation is returned when input validation fails.
var ErrValidation = errors.New("validation error")

// ValidationError wraps a validation message so callers can distinguish
// client errors from internal failures.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Status tracks the handling lifecycle of a panic report.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusCancelled  Status = "cancelled"
)

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// Report is a panic-button alert raised by a student, together with the
// operator's handling record.
type Report struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	FullName         string         `db:"fullname" json:"fullname"`
	EnrollmentNumber string         `db:"enrollment_number" json:"enrollmentNumber"`
	Campus           string         `db:"campus" json:"campus"`
	ProgramName      string         `db:"program_name" json:"programName"`
	Email            string         `db:"email" json:"email"`
	Latitude         *float64       `db:"latitude" json:"latitude,omitempty"`
	Longitude        *float64       `db:"longitude" json:"longitude,omitempty"`
	Photos           pq.StringArray `db:"photos" json:"photos"`
	Audios           pq.StringArray `db:"audios" json:"audios"`
	Status           Status         `db:"status" json:"status"`
	DescriptionFacts string         `db:"description_facts" json:"descriptionFacts"`
	ActionsRealized  string         `db:"actions_realized" json:"actionsRealized"`
	CreatedAt        time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updatedAt"`
}

// CreateReportInput captures the data an incoming alert carries.
type CreateReportInput struct {
	FullName         string
	EnrollmentNumber string
	Campus           string
	ProgramName      string
	Email            string
	Latitude         *float64
	Longitude        *float64
	Photos           []string
	Audios           []string
}

// Resolution carries the operator's written record when closing out a
// report. Both fields are mandatory for the resolved status.
type Resolution struct {
	DescriptionFacts string
	ActionsRealized  string
}

// ListOptions describes filters for listing reports. From and To bound the
// creation timestamp inclusively; a zero Page or PerPage falls back to the
// service defaults.
type ListOptions struct {
	Status  *Status
	From    *time.Time
	To      *time.Time
	Page    int
	PerPage int
}

// Page is one page of a filtered report listing.
type Page struct {
	Reports    []Report `json:"reports"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	PerPage    int      `json:"perPage"`
	TotalPages int      `json:"totalPages"`
}

// StatusCounts aggregates reports per lifecycle state.
type StatusCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Resolved   int `json:"resolved"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// Filter describes repository-level filters without pagination, used for
// both listing and aggregate queries.
type Filter struct {
	Status *Status
	From   *time.Time
	To     *time.Time
}

// Repository defines persistence operations for Reports.
type Repository interface {
	Create(ctx context.Context, report Report) (Report, error)
	Get(ctx context.Context, id uuid.UUID) (Report, error)
	List(ctx context.Context, filter Filter) ([]Report, error)
	Update(ctx context.Context, report Report) (Report, error)
	Counts(ctx context.Context, filter Filter) (StatusCounts, error)
}
