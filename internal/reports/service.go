package reports

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultPerPage = 10

// Service orchestrates validation and persistence for panic reports.
type Service struct {
	repo Repository
}

// NewService wires a Service with the provided repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create validates and persists a newly received alert. Reports always
// enter the lifecycle as pending.
func (s *Service) Create(ctx context.Context, input CreateReportInput) (Report, error) {
	fullName := strings.TrimSpace(input.FullName)
	if fullName == "" {
		return Report{}, validationErr("fullname is required")
	}
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return Report{}, validationErr("email is required")
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return Report{}, validationErr("latitude and longitude must be provided together")
	}

	now := time.Now().UTC()
	report := Report{
		ID:               uuid.New(),
		FullName:         fullName,
		EnrollmentNumber: strings.TrimSpace(input.EnrollmentNumber),
		Campus:           strings.TrimSpace(input.Campus),
		ProgramName:      strings.TrimSpace(input.ProgramName),
		Email:            email,
		Latitude:         input.Latitude,
		Longitude:        input.Longitude,
		Photos:           cleanURLs(input.Photos),
		Audios:           cleanURLs(input.Audios),
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	return s.repo.Create(ctx, report)
}

// List returns one page of reports matching the given filters, newest
// first. The date range is widened to cover the named days in full.
func (s *Service) List(ctx context.Context, opts ListOptions) (Page, error) {
	filter, err := buildFilter(opts.Status, opts.From, opts.To)
	if err != nil {
		return Page{}, err
	}

	matched, err := s.repo.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	slices.SortFunc(matched, compareReportsByCreatedDesc)

	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}

	total := len(matched)
	totalPages := (total + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}

	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return Page{
		Reports:    matched[start:end],
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}, nil
}

// ListAll returns every report matching the filters without pagination,
// newest first. Used by the CSV export.
func (s *Service) ListAll(ctx context.Context, opts ListOptions) ([]Report, error) {
	filter, err := buildFilter(opts.Status, opts.From, opts.To)
	if err != nil {
		return nil, err
	}

	matched, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(matched, compareReportsByCreatedDesc)
	return matched, nil
}

// Get retrieves a report by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Report, error) {
	return s.repo.Get(ctx, id)
}

// UpdateStatus transitions a report to the given lifecycle state. Closing a
// report as resolved requires a written resolution; any other transition
// leaves the existing resolution text untouched.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, resolution *Resolution) (Report, error) {
	if !ValidStatus(status) {
		return Report{}, validationErr("status must be one of pending, in_progress, resolved, or cancelled")
	}

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Report{}, err
	}

	if status == StatusResolved {
		if resolution == nil {
			return Report{}, validationErr("a resolution is required to mark a report resolved")
		}
		facts := strings.TrimSpace(resolution.DescriptionFacts)
		actions := strings.TrimSpace(resolution.ActionsRealized)
		if facts == "" {
			return Report{}, validationErr("descriptionFacts is required to mark a report resolved")
		}
		if actions == "" {
			return Report{}, validationErr("actionsRealized is required to mark a report resolved")
		}
		existing.DescriptionFacts = facts
		existing.ActionsRealized = actions
	}

	existing.Status = status
	existing.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, existing)
}

// Counts aggregates reports per status, honoring the same date filters as
// List.
func (s *Service) Counts(ctx context.Context, from, to *time.Time) (StatusCounts, error) {
	filter, err := buildFilter(nil, from, to)
	if err != nil {
		return StatusCounts{}, err
	}
	return s.repo.Counts(ctx, filter)
}

func validationErr(msg string) error {
	return &ValidationError{Message: msg}
}

// buildFilter validates the status filter and widens the date range so From
// starts at midnight and To runs through the last instant of its day.
func buildFilter(status *Status, from, to *time.Time) (Filter, error) {
	filter := Filter{}

	if status != nil && *status != "" {
		if !ValidStatus(*status) {
			return Filter{}, validationErr("status must be one of pending, in_progress, resolved, or cancelled")
		}
		filter.Status = status
	}

	if from != nil {
		start := startOfDay(*from)
		filter.From = &start
	}
	if to != nil {
		end := endOfDay(*to)
		filter.To = &end
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return Filter{}, validationErr("from date must not be after to date")
	}

	return filter, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999_000_000, t.Location())
}

func cleanURLs(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func compareReportsByCreatedDesc(a, b Report) int {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return strings.Compare(a.FullName, b.FullName)
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return -1
	}
	return 1
}
