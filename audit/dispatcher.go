package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// DispatcherConfig controls asynchronous recording.
type DispatcherConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// dispatcher forwards entries to a recording function on one goroutine.
type dispatcher struct {
	cfg       DispatcherConfig
	record    func(context.Context, Entry)
	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newDispatcher(cfg DispatcherConfig, record func(context.Context, Entry)) *dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &dispatcher{
		cfg:    cfg,
		record: record,
		ch:     make(chan Entry, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.record(context.Background(), entry)
		case <-d.done:
			for {
				select {
				case entry := <-d.ch:
					d.record(context.Background(), entry)
				default:
					return
				}
			}
		}
	}
}

// emit queues entry. It reports false when the entry was not queued.
func (d *dispatcher) emit(ctx context.Context, entry Entry) bool {
	if d.closed.Load() {
		return false
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- entry:
			return true
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return false
	}

	select {
	case d.ch <- entry:
		return true
	case <-ctx.Done():
	case <-d.done:
	}
	return false
}

// close drains queued entries and waits for the worker to exit.
func (d *dispatcher) close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}
