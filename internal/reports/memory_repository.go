package reports

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryRepository stores reports in an in-process map, ideal for local
// development or tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	data  map[uuid.UUID]Report
	order []uuid.UUID
}

// NewInMemoryRepository constructs a repository seeded with optional initial reports.
func NewInMemoryRepository(initial []Report) *InMemoryRepository {
	data := make(map[uuid.UUID]Report)
	order := make([]uuid.UUID, 0, len(initial))
	for _, report := range initial {
		data[report.ID] = report
		order = append(order, report.ID)
	}
	return &InMemoryRepository{data: data, order: order}
}

// Create stores a new report.
func (r *InMemoryRepository) Create(_ context.Context, report Report) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[report.ID] = report
	r.order = append(r.order, report.ID)
	return report, nil
}

// Get returns a report by ID.
func (r *InMemoryRepository) Get(_ context.Context, id uuid.UUID) (Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report, ok := r.data[id]
	if !ok {
		return Report{}, ErrNotFound
	}
	return report, nil
}

// List returns stored reports matching the filter.
func (r *InMemoryRepository) List(_ context.Context, filter Filter) ([]Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]Report, 0, len(r.order))
	for _, id := range r.order {
		report, ok := r.data[id]
		if !ok {
			continue
		}
		if matchesFilter(report, filter) {
			matched = append(matched, report)
		}
	}
	return matched, nil
}

// Update replaces an existing report.
func (r *InMemoryRepository) Update(_ context.Context, report Report) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[report.ID]; !ok {
		return Report{}, ErrNotFound
	}
	r.data[report.ID] = report
	return report, nil
}

// Counts aggregates stored reports per status.
func (r *InMemoryRepository) Counts(_ context.Context, filter Filter) (StatusCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var counts StatusCounts
	for _, report := range r.data {
		if !matchesFilter(report, filter) {
			continue
		}
		switch report.Status {
		case StatusPending:
			counts.Pending++
		case StatusInProgress:
			counts.InProgress++
		case StatusResolved:
			counts.Resolved++
		case StatusCancelled:
			counts.Cancelled++
		}
		counts.Total++
	}
	return counts, nil
}

func matchesFilter(report Report, filter Filter) bool {
	if filter.Status != nil && report.Status != *filter.Status {
		return false
	}
	if filter.From != nil && report.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && report.CreatedAt.After(*filter.To) {
		return false
	}
	return true
}
