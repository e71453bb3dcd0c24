package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"panicdesk/internal/exporter"
	"panicdesk/internal/reports"
)

// ReportHandler exposes the panic-report dashboard endpoints.
type ReportHandler struct {
	service  *reports.Service
	exporter *exporter.CSVExporter
	logger   *slog.Logger
}

// NewReportHandler creates a handler.
func NewReportHandler(service *reports.Service, exporter *exporter.CSVExporter, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{service: service, exporter: exporter, logger: logger}
}

// Create receives a new alert from the mobile clients. The endpoint carries
// no console session; the button must work without one.
func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FullName         string   `json:"fullname"`
		EnrollmentNumber string   `json:"enrollmentNumber"`
		Campus           string   `json:"campus"`
		ProgramName      string   `json:"programName"`
		Email            string   `json:"email"`
		Latitude         *float64 `json:"latitude"`
		Longitude        *float64 `json:"longitude"`
		Photos           []string `json:"photos"`
		Audios           []string `json:"audios"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	report, err := h.service.Create(r.Context(), reports.CreateReportInput{
		FullName:         payload.FullName,
		EnrollmentNumber: payload.EnrollmentNumber,
		Campus:           payload.Campus,
		ProgramName:      payload.ProgramName,
		Email:            payload.Email,
		Latitude:         payload.Latitude,
		Longitude:        payload.Longitude,
		Photos:           payload.Photos,
		Audios:           payload.Audios,
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("panic report received",
		"report_id", report.ID,
		"campus", report.Campus,
	)
	writeJSON(w, http.StatusCreated, report)
}

// List returns one page of reports.
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.service.List(r.Context(), opts)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseListOptions(values url.Values) (reports.ListOptions, error) {
	opts := reports.ListOptions{}
	const maxPerPage = 100

	if rawStatus := strings.TrimSpace(values.Get("status")); rawStatus != "" {
		status := reports.Status(rawStatus)
		if !reports.ValidStatus(status) {
			return reports.ListOptions{}, fmt.Errorf("invalid status filter")
		}
		opts.Status = &status
	}

	if rawFrom := strings.TrimSpace(values.Get("from")); rawFrom != "" {
		from, err := time.Parse("2006-01-02", rawFrom)
		if err != nil {
			return reports.ListOptions{}, fmt.Errorf("invalid from date, expected YYYY-MM-DD")
		}
		opts.From = &from
	}

	if rawTo := strings.TrimSpace(values.Get("to")); rawTo != "" {
		to, err := time.Parse("2006-01-02", rawTo)
		if err != nil {
			return reports.ListOptions{}, fmt.Errorf("invalid to date, expected YYYY-MM-DD")
		}
		opts.To = &to
	}

	if rawPage := strings.TrimSpace(values.Get("page")); rawPage != "" {
		value, err := strconv.Atoi(rawPage)
		if err != nil || value <= 0 {
			return reports.ListOptions{}, fmt.Errorf("invalid page")
		}
		opts.Page = value
	}

	if rawPerPage := strings.TrimSpace(values.Get("per_page")); rawPerPage != "" {
		value, err := strconv.Atoi(rawPerPage)
		if err != nil || value <= 0 || value > maxPerPage {
			return reports.ListOptions{}, fmt.Errorf("invalid per_page")
		}
		opts.PerPage = value
	}

	return opts, nil
}

// Get returns a single report.
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	report, err := h.service.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// UpdateStatus transitions a report's lifecycle state.
func (h *ReportHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var payload struct {
		Status           string `json:"status"`
		DescriptionFacts string `json:"descriptionFacts"`
		ActionsRealized  string `json:"actionsRealized"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	var resolution *reports.Resolution
	if payload.DescriptionFacts != "" || payload.ActionsRealized != "" {
		resolution = &reports.Resolution{
			DescriptionFacts: payload.DescriptionFacts,
			ActionsRealized:  payload.ActionsRealized,
		}
	}

	report, err := h.service.UpdateStatus(r.Context(), id, reports.Status(payload.Status), resolution)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Export streams the filtered report list as a CSV download.
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	matched, err := h.service.ListAll(r.Context(), opts)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	filename := fmt.Sprintf("panic-reports-%s.csv", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.exporter.Export(w, matched); err != nil {
		h.logger.Error("csv export failed", "error", err)
	}
}

// Stats returns per-status report counts for the dashboard summary.
func (h *ReportHandler) Stats(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	counts, err := h.service.Counts(r.Context(), opts.From, opts.To)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, counts)
}
