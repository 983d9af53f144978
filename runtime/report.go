package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klaki892/chunked-dc/metrics"
	"github.com/klaki892/chunked-dc/unchunk"
)

// Report is the structured summary written by --report.
type Report struct {
	SessionID  string        `json:"session_id"`
	Source     string        `json:"source"`
	Variant    string        `json:"variant"`
	Outcome    OutcomeStatus `json:"outcome"`
	Message    string        `json:"message"`
	ExitCode   int           `json:"exit_code"`
	DurationMs int64         `json:"duration_ms"`

	FramesReceived    int64         `json:"frames_received"`
	MessagesDelivered int64         `json:"messages_delivered"`
	Pending           unchunk.Stats `json:"pending"`

	Policy  *ReportPolicy     `json:"policy"`
	Metrics *metrics.Snapshot `json:"metrics"`
}

// ReportPolicy holds policy stats in the report.
type ReportPolicy struct {
	Name              string `json:"name"`
	MessagesReceived  int64  `json:"messages_received"`
	MessagesPersisted int64  `json:"messages_persisted"`
	MessagesDropped   int64  `json:"messages_dropped"`
	BytesPersisted    int64  `json:"bytes_persisted"`
	Flushes           int64  `json:"flushes"`
	Errors            int64  `json:"errors"`
}

// BuildReport composes a Report from a SessionResult and metrics snapshot.
func BuildReport(result *SessionResult, snap metrics.Snapshot, policyName string) *Report {
	return &Report{
		SessionID:         result.Meta.SessionID,
		Source:            result.Meta.Source,
		Variant:           result.Meta.Variant,
		Outcome:           result.Outcome.Status,
		Message:           result.Outcome.Message,
		ExitCode:          result.Outcome.Status.ExitCode(),
		DurationMs:        result.Duration.Milliseconds(),
		FramesReceived:    result.FramesReceived,
		MessagesDelivered: result.MessagesDelivered,
		Pending:           result.Pending,
		Policy: &ReportPolicy{
			Name:              policyName,
			MessagesReceived:  result.PolicyStats.TotalMessages,
			MessagesPersisted: result.PolicyStats.MessagesPersisted,
			MessagesDropped:   result.PolicyStats.MessagesDropped,
			BytesPersisted:    result.PolicyStats.BytesPersisted,
			Flushes:           result.PolicyStats.FlushCount,
			Errors:            result.PolicyStats.Errors,
		},
		Metrics: &snap,
	}
}

// WriteReport writes the report as JSON to path. If path is "-", writes to
// stderr.
func WriteReport(report *Report, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func marshalReport(report *Report) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// writeReportTo writes report JSON to any writer.
func writeReportTo(report *Report, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
