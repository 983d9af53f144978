package runtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klaki892/chunked-dc/metrics"
	"github.com/klaki892/chunked-dc/policy"
	"github.com/klaki892/chunked-dc/types"
	"github.com/klaki892/chunked-dc/unchunk"
)

func testResult() *SessionResult {
	return &SessionResult{
		Meta:              &types.SessionMeta{SessionID: "sess-42", Source: "redis", Variant: "blob"},
		Outcome:           &Outcome{Status: OutcomePolicyFailure, Message: "policy failure: disk full"},
		Duration:          1500 * time.Millisecond,
		FramesReceived:    30,
		MessagesDelivered: 9,
		Pending:           unchunk.Stats{PendingMessages: 1, PendingChunks: 2, PendingBytes: 64},
		PolicyStats:       policy.Stats{TotalMessages: 9, MessagesPersisted: 8, BytesPersisted: 800, FlushCount: 2, Errors: 1},
	}
}

func TestBuildReport(t *testing.T) {
	snap := metrics.Snapshot{Variant: "blob", FramesReceived: 30}
	r := BuildReport(testResult(), snap, "buffered")

	if r.SessionID != "sess-42" || r.Variant != "blob" || r.Source != "redis" {
		t.Errorf("identity = %s/%s/%s", r.SessionID, r.Variant, r.Source)
	}
	if r.Outcome != OutcomePolicyFailure || r.ExitCode != ExitCodePolicy {
		t.Errorf("outcome = %s exit %d", r.Outcome, r.ExitCode)
	}
	if r.DurationMs != 1500 || r.Pending.PendingChunks != 2 {
		t.Errorf("report = %+v", r)
	}
	if r.Policy.Name != "buffered" || r.Policy.MessagesPersisted != 8 || r.Policy.Flushes != 2 {
		t.Errorf("policy = %+v", r.Policy)
	}
	if r.Metrics.FramesReceived != 30 {
		t.Errorf("metrics = %+v", r.Metrics)
	}
}

func TestWriteReport(t *testing.T) {
	r := BuildReport(testResult(), metrics.Snapshot{}, "strict")

	var buf bytes.Buffer
	if err := writeReportTo(r, &buf); err != nil {
		t.Fatalf("writeReportTo failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if decoded["outcome"] != "policy_failure" || decoded["exit_code"] != float64(3) {
		t.Errorf("decoded = %v", decoded)
	}
	pending, _ := decoded["pending"].(map[string]any)
	if pending["pending_bytes"] != float64(64) {
		t.Errorf("pending = %v", pending)
	}

	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteReport(r, path); err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.Equal(data, buf.Bytes()) {
		t.Error("file report differs from writer report")
	}

	if err := WriteReport(r, ""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestDetermineOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want OutcomeStatus
		code int
	}{
		{nil, OutcomeSuccess, ExitCodeSuccess},
		{&IngestionError{Kind: IngestionErrorCanceled, Err: errors.New("canceled")}, OutcomeCanceled, ExitCodeSuccess},
		{&IngestionError{Kind: IngestionErrorPolicy, Err: errors.New("p")}, OutcomePolicyFailure, ExitCodePolicy},
		{&IngestionError{Kind: IngestionErrorStream, Err: errors.New("s")}, OutcomeStreamError, ExitCodeStream},
		{&IngestionError{Kind: IngestionErrorChunk, Err: errors.New("c")}, OutcomeStreamError, ExitCodeStream},
	}
	for _, tt := range tests {
		got := DetermineOutcome(tt.err)
		if got.Status != tt.want || got.Status.ExitCode() != tt.code {
			t.Errorf("DetermineOutcome(%v) = %s/%d, want %s/%d", tt.err, got.Status, got.Status.ExitCode(), tt.want, tt.code)
		}
	}
}

func TestIngestionErrorKind_String(t *testing.T) {
	for kind, want := range map[IngestionErrorKind]string{
		IngestionErrorStream:   "stream",
		IngestionErrorChunk:    "chunk",
		IngestionErrorPolicy:   "policy",
		IngestionErrorCanceled: "canceled",
		IngestionErrorKind(99): "unknown",
	} {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
