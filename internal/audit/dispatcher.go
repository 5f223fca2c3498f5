package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Dispatcher is a Sink that forwards events to another sink on a background
// goroutine, so slow sinks (remote collectors, files) cannot stall an auth
// flow. Events are dropped, and counted, when the buffer is full.
type Dispatcher struct {
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewDispatcher starts the forwarding goroutine.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit enqueues the event without blocking the caller.
func (d *Dispatcher) Emit(_ context.Context, event Event) {
	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close drains buffered events and stops the forwarding goroutine.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
