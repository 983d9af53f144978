package policy

import (
	"context"
	"sync/atomic"

	"github.com/klaki892/chunked-dc/types"
)

// NoopPolicy drops every message. A dry run with it measures reassembly
// alone: TotalMessages equals MessagesDropped and nothing is persisted.
type NoopPolicy struct {
	stats  statsRecorder
	closed atomic.Bool
}

func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{}
}

// Deliver counts msg as dropped.
func (p *NoopPolicy) Deliver(context.Context, *types.Message) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.stats.incTotal()
	p.stats.incDropped()
	return nil
}

func (p *NoopPolicy) Flush(context.Context) error {
	p.stats.incFlush()
	return nil
}

func (p *NoopPolicy) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}

var _ Policy = (*NoopPolicy)(nil)
