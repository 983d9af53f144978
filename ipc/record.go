package ipc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/klaki892/chunked-dc/types"
)

// Record type discriminants.
const (
	// MessageRecordType marks a delivered message.
	MessageRecordType = "message"
	// SessionEndType marks the trailer written when a sink closes.
	SessionEndType = "session_end"
)

// MessageRecord is the msgpack form of a delivered message.
type MessageRecord struct {
	Type        string           `msgpack:"type"`
	Version     string           `msgpack:"version"`
	SessionID   string           `msgpack:"session_id"`
	Seq         uint64           `msgpack:"seq"`
	Size        int64            `msgpack:"size"`
	Frames      []types.FrameRef `msgpack:"frames"`
	DeliveredAt string           `msgpack:"delivered_at"`
	Body        []byte           `msgpack:"body"`
}

// SessionEndRecord is the trailer frame closing a message stream.
type SessionEndRecord struct {
	Type      string `msgpack:"type"`
	SessionID string `msgpack:"session_id"`
	Messages  int64  `msgpack:"messages"`
	Bytes     int64  `msgpack:"bytes"`
}

// recordTypeProbe is used to peek at the type field without full decode.
type recordTypeProbe struct {
	Type string `msgpack:"type"`
}

// EncodeRecord marshals a record with msgpack.
func EncodeRecord(rec any) ([]byte, error) {
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// DecodeRecord decodes a payload and returns either a *MessageRecord or a
// *SessionEndRecord, discriminated by the type field.
func DecodeRecord(payload []byte) (any, error) {
	var probe recordTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, badRecord("type probe", err)
	}

	switch probe.Type {
	case MessageRecordType:
		var rec MessageRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return nil, badRecord(MessageRecordType, err)
		}
		return &rec, nil
	case SessionEndType:
		var rec SessionEndRecord
		if err := msgpack.Unmarshal(payload, &rec); err != nil {
			return nil, badRecord(SessionEndType, err)
		}
		return &rec, nil
	default:
		return nil, badRecord(fmt.Sprintf("unknown type %q", probe.Type), nil)
	}
}

func badRecord(detail string, err error) error {
	return &FrameError{Kind: ErrBadRecord, Offset: -1, Detail: detail, Err: err}
}
