// Package lode persists reassembled messages to Lode datasets.
//
// Records are JSONL, Hive-partitioned by source, day, session_id and
// record_kind. Storage is the local filesystem, memory (tests) or S3.
package lode

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/klaki892/chunked-dc/metrics"
	"github.com/klaki892/chunked-dc/policy"
	"github.com/klaki892/chunked-dc/types"
)

// Record kinds, stored in the record_kind partition.
const (
	RecordKindMessage = "message"
	RecordKindSummary = "session_summary"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "messages"

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"source", "day", "session_id", "record_kind"}

// DeriveDay computes the partition day from session start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config holds Lode sink configuration. All partition keys are required.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// Source is the partition key for the chunk transport.
	Source string
	// Day is the partition key derived from session start (YYYY-MM-DD UTC).
	Day string
	// SessionID is the partition key for the session.
	SessionID string
}

// Validate checks that every partition key is set.
func (c *Config) Validate() error {
	switch {
	case c.Dataset == "":
		return errors.New("lode dataset is required")
	case c.Source == "":
		return errors.New("lode source partition is required")
	case c.Day == "":
		return errors.New("lode day partition is required")
	case c.SessionID == "":
		return errors.New("lode session_id partition is required")
	}
	return nil
}

// Sink is a Lode-backed policy.Sink. Each WriteMessages call commits one
// snapshot holding one record per message.
type Sink struct {
	dataset lode.Dataset
	config  Config
}

// NewSink creates a sink with filesystem storage rooted at root.
func NewSink(cfg Config, root string) (*Sink, error) {
	return NewSinkWithFactory(cfg, lode.NewFSFactory(root))
}

// NewSinkWithFactory creates a sink over a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewSinkWithFactory(cfg Config, factory lode.StoreFactory) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, err := NewDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &Sink{dataset: ds, config: cfg}, nil
}

// NewDataset opens a dataset with the message layout and codec. The read
// path must use the same layout as the write path.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// WriteMessages implements policy.Sink. Bodies are read in full and stored
// base64-encoded alongside their SHA-256.
func (s *Sink) WriteMessages(ctx context.Context, msgs []*types.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	records := make([]any, 0, len(msgs))
	for _, m := range msgs {
		record, err := s.messageRecord(m)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	_, err := s.dataset.Write(ctx, records, lode.Metadata{})
	return WrapWriteError(err, s.path(RecordKindMessage))
}

// WriteSummary records the session's final counters.
func (s *Sink) WriteSummary(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	record := s.baseRecord(RecordKindSummary)
	record["completed_at"] = completedAt.UTC().Format(time.RFC3339Nano)
	record["variant"] = snap.Variant
	record["policy"] = snap.Policy
	record["frames_received"] = snap.FramesReceived
	record["chunks_accepted"] = snap.ChunksAccepted
	record["chunks_duplicate"] = snap.ChunksDuplicate
	record["chunk_parse_errors"] = snap.ChunkParseErrors
	record["messages_delivered"] = snap.MessagesDelivered
	record["merge_errors"] = snap.MergeErrors
	record["chunks_collected"] = snap.ChunksCollected
	record["messages_persisted"] = snap.MessagesPersisted
	record["bytes_persisted"] = snap.BytesPersisted

	_, err := s.dataset.Write(ctx, []any{record}, lode.Metadata{})
	return WrapWriteError(err, s.path(RecordKindSummary))
}

// Close implements policy.Sink.
func (s *Sink) Close() error {
	return nil
}

func (s *Sink) baseRecord(kind string) map[string]any {
	return map[string]any{
		"record_kind": kind,
		"source":      s.config.Source,
		"day":         s.config.Day,
		"session_id":  s.config.SessionID,
	}
}

func (s *Sink) messageRecord(m *types.Message) (map[string]any, error) {
	body, err := m.Bytes()
	if err != nil {
		return nil, fmt.Errorf("lode sink: %w", err)
	}
	sum := sha256.Sum256(body)

	frames := make([]map[string]any, 0, len(m.Frames))
	for _, f := range m.Frames {
		frames = append(frames, map[string]any{
			"source": f.Source,
			"seq":    f.Seq,
			"size":   f.Size,
		})
	}

	record := s.baseRecord(RecordKindMessage)
	record["seq"] = m.Seq
	record["size"] = m.Size
	record["delivered_at"] = m.DeliveredAt.UTC().Format(time.RFC3339Nano)
	record["frames"] = frames
	record["sha256"] = hex.EncodeToString(sum[:])
	record["body"] = base64.StdEncoding.EncodeToString(body)
	return record, nil
}

func (s *Sink) path(kind string) string {
	return fmt.Sprintf("%s/session_id=%s/record_kind=%s", s.config.Dataset, s.config.SessionID, kind)
}

// ReadRecords returns every record of the given kind written for sessionID,
// in snapshot order.
func ReadRecords(ctx context.Context, ds lode.Dataset, sessionID, kind string) ([]map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID()))
	}

	var out []map[string]any
	for _, snap := range snapshots {
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if record["record_kind"] != kind || record["session_id"] != sessionID {
				continue
			}
			out = append(out, record)
		}
	}
	return out, nil
}

// DecodeBody returns the message body of a message record, verifying its
// checksum.
func DecodeBody(record map[string]any) ([]byte, error) {
	encoded, _ := record["body"].(string)
	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	sum := sha256.Sum256(body)
	if want, _ := record["sha256"].(string); want != hex.EncodeToString(sum[:]) {
		return nil, fmt.Errorf("body checksum mismatch for message %v", record["seq"])
	}
	return body, nil
}

var _ policy.Sink = (*Sink)(nil)
