package ipc

import (
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/klaki892/chunked-dc/types"
)

func TestRecord_Message(t *testing.T) {
	payload, err := EncodeRecord(&MessageRecord{
		Type:      MessageRecordType,
		Version:   types.RecordVersion,
		SessionID: "sess-1",
		Seq:       7,
		Size:      10,
		Frames: []types.FrameRef{
			{Source: "stdin", Seq: 3, Size: 13},
			{Source: "stdin", Seq: 1, Size: 13},
		},
		DeliveredAt: "2026-01-01T00:00:00Z",
		Body:        []byte("aaaabbbbcc"),
	})
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}

	decoded, err := DecodeRecord(payload)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	got, ok := decoded.(*MessageRecord)
	if !ok {
		t.Fatalf("decoded %T, want *MessageRecord", decoded)
	}
	if got.Seq != 7 || got.SessionID != "sess-1" || string(got.Body) != "aaaabbbbcc" {
		t.Errorf("decoded = %+v", got)
	}
	if len(got.Frames) != 2 || got.Frames[0].Seq != 3 {
		t.Errorf("Frames = %+v, want serial order preserved", got.Frames)
	}
}

func TestRecord_SessionEnd(t *testing.T) {
	payload, err := EncodeRecord(&SessionEndRecord{Type: SessionEndType, SessionID: "s", Messages: 2, Bytes: 20})
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	decoded, err := DecodeRecord(payload)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if end, ok := decoded.(*SessionEndRecord); !ok || end.Messages != 2 || end.Bytes != 20 {
		t.Errorf("decoded = %#v", decoded)
	}
}

func TestDecodeRecord_Rejects(t *testing.T) {
	unknown, _ := msgpack.Marshal(map[string]any{"type": "checkpoint"})
	wrongShape, _ := msgpack.Marshal(map[string]any{"type": MessageRecordType, "seq": "seven"})

	for name, payload := range map[string][]byte{
		"malformed":   {0xFF, 0xFF, 0xFF},
		"unknown":     unknown,
		"wrong shape": wrongShape,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord(payload)
			if !errors.Is(err, ErrBadRecord) {
				t.Fatalf("err = %v, want ErrBadRecord", err)
			}
			if IsFatalFrameError(err) {
				t.Error("a bad record leaves framing intact")
			}
		})
	}
}
