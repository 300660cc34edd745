// Package notification aggregates everything a run records into a summary,
// raises immediate alerts on errors and sends the completion report.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/rs/zerolog/log"
)

// defaultAlertTimeout bounds each delivery so a stuck provider cannot hold
// the run that raised the alert
const defaultAlertTimeout = 30 * time.Second

const (
	errorSubject      = "❌ Calibration Error Alert"
	completionSubject = "✅ Calibration Process Complete"
)

// Sink receives everything a run records. It is safe for concurrent use.
type Sink interface {
	LogError(ctx context.Context, msg string, cause error)
	LogWarning(msg string)
	LogMeasurement(result models.Result)
	SendCompletionNotification(ctx context.Context) error
	Snapshot() models.RunSummary
}

// NotificationError is returned when an alert or report could not be delivered
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("%s notification failed: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Manager is the Sink used by calibration runs
type Manager struct {
	mailer Mailer
	texter Texter
	now    func() time.Time
	// alertTimeout caps each alert or report delivery
	alertTimeout time.Duration

	mu        sync.Mutex
	summary   models.RunSummary
	completed bool
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithTexter enables SMS alerts
func WithTexter(t Texter) ManagerOption {
	return func(m *Manager) { m.texter = t }
}

// WithNow sets the clock used for record timestamps
func WithNow(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithAlertTimeout bounds how long one alert or report may take to deliver
func WithAlertTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.alertTimeout = d }
}

// NewManager returns a Manager delivering through mailer. The summary start
// time is taken when the manager is created.
func NewManager(mailer Mailer, opts ...ManagerOption) *Manager {
	m := &Manager{mailer: mailer, now: time.Now, alertTimeout: defaultAlertTimeout}
	for _, opt := range opts {
		opt(m)
	}
	if m.mailer == nil {
		m.mailer = NoopMailer{}
	}
	m.summary.StartTime = m.now()
	return m
}

// LogError records an error and alerts operators right away. Delivery
// failures are logged and otherwise ignored.
func (m *Manager) LogError(ctx context.Context, msg string, cause error) {
	rec := models.ErrorRecord{Timestamp: m.now(), Message: msg}
	if cause != nil {
		rec.Trace = fmt.Sprintf("%+v", cause)
	}

	m.mu.Lock()
	m.summary.Errors = append(m.summary.Errors, rec)
	m.mu.Unlock()

	log.Error().Str("trace", rec.Trace).Msg(msg)

	body := fmt.Sprintf("\nError detected in calibration process:\nTimestamp: %s\nError: %s\nStack Trace: %s\n",
		rec.Timestamp.Format(reportTimeLayout), msg, rec.Trace)

	ctx, cancel := context.WithTimeout(ctx, m.alertTimeout)
	defer cancel()
	if err := m.mailer.Send(ctx, errorSubject, body); err != nil {
		log.Warn().Err(&NotificationError{Channel: "email", Err: err}).Msg("Failed to send error alert")
	}
	if m.texter != nil {
		if err := m.texter.Send(ctx, "Calibration Error: "+msg); err != nil {
			log.Warn().Err(&NotificationError{Channel: "sms", Err: err}).Msg("Failed to send error SMS")
		}
	}
}

// LogWarning records a warning without alerting
func (m *Manager) LogWarning(msg string) {
	m.mu.Lock()
	m.summary.Warnings = append(m.summary.Warnings, models.WarningRecord{Timestamp: m.now(), Message: msg})
	m.mu.Unlock()

	log.Warn().Msg(msg)
}

// LogMeasurement adds a result to its class in the summary
func (m *Manager) LogMeasurement(result models.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.summary.TotalMeasurements++
	if result.Kind == models.KindLevel {
		m.summary.Level = append(m.summary.Level, result)
	} else {
		m.summary.Modulation = append(m.summary.Modulation, result)
	}
}

// Snapshot returns a copy of the summary that later records do not change
func (m *Manager) Snapshot() models.RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.summary
	s.Errors = append([]models.ErrorRecord(nil), m.summary.Errors...)
	s.Warnings = append([]models.WarningRecord(nil), m.summary.Warnings...)
	s.Modulation = append([]models.Result(nil), m.summary.Modulation...)
	s.Level = append([]models.Result(nil), m.summary.Level...)
	return s
}

// SendCompletionNotification mails the summary report. Only the first call
// sends anything.
func (m *Manager) SendCompletionNotification(ctx context.Context) error {
	m.mu.Lock()
	if m.completed {
		m.mu.Unlock()
		return nil
	}
	m.completed = true
	m.mu.Unlock()

	snapshot := m.Snapshot()
	end := m.now()
	report := GenerateReport(snapshot, end)

	ctx, cancel := context.WithTimeout(ctx, m.alertTimeout)
	defer cancel()

	if m.texter != nil {
		brief := fmt.Sprintf("Calibration completed at %s\nTotal measurements: %d\nErrors: %d\nWarnings: %d",
			end.Format(reportTimeLayout), snapshot.TotalMeasurements, len(snapshot.Errors), len(snapshot.Warnings))
		if err := m.texter.Send(ctx, brief); err != nil {
			log.Warn().Err(&NotificationError{Channel: "sms", Err: err}).Msg("Failed to send completion SMS")
		}
	}

	if err := m.mailer.Send(ctx, completionSubject, report); err != nil {
		return &NotificationError{Channel: "email", Err: err}
	}
	log.Info().
		Int("measurements", snapshot.TotalMeasurements).
		Int("errors", len(snapshot.Errors)).
		Int("warnings", len(snapshot.Warnings)).
		Msg("Completion notification sent")
	return nil
}
