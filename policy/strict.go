package policy

import (
	"context"
	"sync"

	"github.com/klaki892/chunked-dc/types"
)

// StrictPolicy writes each message to the sink before Deliver returns.
// The ingestion loop waits on sink latency, and a sink error fails the
// session.
type StrictPolicy struct {
	sink  Sink
	stats statsRecorder

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// NewStrictPolicy returns a strict policy over sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink, closed: make(chan struct{})}
}

// Deliver writes msg as a batch of one.
func (p *StrictPolicy) Deliver(ctx context.Context, msg *types.Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	p.stats.incTotal()

	if err := p.sink.WriteMessages(ctx, []*types.Message{msg}); err != nil {
		p.stats.incErrors()
		return err
	}
	p.stats.incPersisted(1, msg.Size)
	return nil
}

// Flush only counts the call; nothing is ever held back.
func (p *StrictPolicy) Flush(context.Context) error {
	p.stats.incFlush()
	return nil
}

// Close closes the sink once. Later calls return the first result.
func (p *StrictPolicy) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.closeErr = p.sink.Close()
	})
	return p.closeErr
}

func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*StrictPolicy)(nil)
