package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-live-attendance/internal/models"
	appErrors "github.com/noah-isme/sma-live-attendance/pkg/errors"
	"github.com/noah-isme/sma-live-attendance/pkg/export"
)

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string)
}

type sessionDayLister interface {
	ListDays(ctx context.Context, classID string, limit int) ([]time.Time, error)
}

// DaySummary is the read-side view of one sub-session, consumed by teachers'
// dashboards and the export endpoints.
type DaySummary struct {
	ClassID      string                    `json:"class_id"`
	Day          string                    `json:"day"`
	SessionType  models.SessionType        `json:"session_type"`
	Exists       bool                      `json:"exists"`
	Status       models.SubSessionStatus   `json:"status"`
	PresentCount int                       `json:"present_count"`
	Records      []models.AttendanceRecord `json:"records"`
}

// SummaryService is a read-only consumer of the session store. It never
// mutates attendance state; it only aggregates and caches it.
type SummaryService struct {
	store    *SessionStore
	days     sessionDayLister
	cache    summaryCache
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	enabled  bool
	cacheTTL time.Duration
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewSummaryService constructs the summary service. cache may be nil.
func NewSummaryService(store *SessionStore, days sessionDayLister, cache summaryCache, enabled bool, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &SummaryService{
		store:    store,
		days:     days,
		cache:    cache,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		enabled:  enabled,
		cacheTTL: cacheTTL,
		metrics:  metrics,
		logger:   logger,
	}
}

// Summary returns the attendance view for one class day and session type. A
// day without any session document yields an empty, non-existent summary
// rather than an error.
func (s *SummaryService) Summary(ctx context.Context, classID string, day time.Time, sessionType models.SessionType) (*DaySummary, error) {
	if !sessionType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid session type")
	}

	key := summaryKey(classID, day, sessionType)
	if s.cacheEnabled() {
		var cached DaySummary
		start := time.Now()
		err := s.cache.Get(ctx, key, &cached)
		s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		if err == nil {
			return &cached, nil
		}
		if !appErrors.Is(err, appErrors.ErrCacheMiss.Code) {
			s.logger.Warn("summary cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	summary := &DaySummary{
		ClassID:     classID,
		Day:         day.Format("2006-01-02"),
		SessionType: sessionType,
		Status:      models.SubSessionInactive,
		Records:     []models.AttendanceRecord{},
	}

	session, err := s.store.Get(ctx, classID, day)
	switch {
	case err == nil:
		sub := session.Sub(sessionType)
		summary.Exists = true
		summary.Status = sub.Status
		summary.Records = sub.Records
		for _, record := range sub.Records {
			if record.Outcome == models.OutcomePresent {
				summary.PresentCount++
			}
		}
	case appErrors.Is(err, appErrors.ErrNotFound.Code):
		// No document for this day yet; report the empty view.
	default:
		return nil, err
	}

	if s.cacheEnabled() {
		if err := s.cache.Set(ctx, key, summary, s.cacheTTL); err != nil {
			s.logger.Warn("summary cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return summary, nil
}

// Days lists the most recent days with attendance documents for a class.
func (s *SummaryService) Days(ctx context.Context, classID string, limit int) ([]string, error) {
	days, err := s.days.ListDays(ctx, classID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list session days")
	}
	out := make([]string, len(days))
	for i, day := range days {
		out[i] = day.Format("2006-01-02")
	}
	return out, nil
}

// ExportSheet renders the day's attendance as a downloadable sheet. Format
// is "csv" or "pdf".
func (s *SummaryService) ExportSheet(ctx context.Context, classID string, day time.Time, sessionType models.SessionType, format string) ([]byte, string, string, error) {
	summary, err := s.Summary(ctx, classID, day, sessionType)
	if err != nil {
		return nil, "", "", err
	}

	sheet := export.Sheet{Headers: []string{"Participant", "Outcome", "Recorded By", "Recorded At"}}
	for _, record := range summary.Records {
		sheet.Rows = append(sheet.Rows, map[string]string{
			"Participant": record.ParticipantID,
			"Outcome":     string(record.Outcome),
			"Recorded By": record.RecordedBy,
			"Recorded At": record.RecordedAt.Format(time.RFC3339),
		})
	}

	name := fmt.Sprintf("attendance_%s_%s_%s", classID, summary.Day, sessionType)
	switch strings.ToLower(format) {
	case "csv", "":
		data, err := s.csv.Render(sheet)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return data, "text/csv", name + ".csv", nil
	case "pdf":
		title := fmt.Sprintf("%s attendance %s", sessionType, summary.Day)
		data, err := s.pdf.Render(sheet, title)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return data, "application/pdf", name + ".pdf", nil
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

// InvalidateDay drops cached summaries for both session types of a class
// day. Called after every accepted mutation.
func (s *SummaryService) InvalidateDay(ctx context.Context, classID string, day time.Time) {
	if !s.cacheEnabled() {
		return
	}
	s.cache.Delete(ctx,
		summaryKey(classID, day, models.SessionLecture),
		summaryKey(classID, day, models.SessionLab),
	)
}

func (s *SummaryService) cacheEnabled() bool {
	return s.enabled && s.cache != nil
}

func summaryKey(classID string, day time.Time, sessionType models.SessionType) string {
	return fmt.Sprintf("summary:%s:%s:%s", classID, day.Format("2006-01-02"), sessionType)
}
