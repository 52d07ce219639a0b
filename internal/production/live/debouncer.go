// Package live turns bursts of row-level changes into one timeline rebuild
// per order and pushes the result to connected clients.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FireFunc runs once per order after its burst of changes has settled.
type FireFunc func(ctx context.Context, orderID uuid.UUID)

// Debouncer coalesces triggers per order id: fire runs window after the
// last trigger of that order, never concurrently for the same order.
type Debouncer struct {
	window time.Duration
	fire   FireFunc
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[uuid.UUID]*time.Timer
	running map[uuid.UUID]bool
	again   map[uuid.UUID]bool
	stopped bool
	wg      sync.WaitGroup
}

func NewDebouncer(window time.Duration, fire FireFunc) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		window:  window,
		fire:    fire,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[uuid.UUID]*time.Timer),
		running: make(map[uuid.UUID]bool),
		again:   make(map[uuid.UUID]bool),
	}
}

// Trigger (re)starts the window of orderID.
func (d *Debouncer) Trigger(orderID uuid.UUID) {
	if orderID == uuid.Nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[orderID]; ok {
		t.Reset(d.window)
		return
	}
	d.timers[orderID] = time.AfterFunc(d.window, func() { d.run(orderID) })
}

func (d *Debouncer) run(orderID uuid.UUID) {
	d.mu.Lock()
	delete(d.timers, orderID)
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.running[orderID] {
		// a rebuild is in flight; run once more when it finishes
		d.again[orderID] = true
		d.mu.Unlock()
		return
	}
	d.running[orderID] = true
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	for {
		d.fire(d.ctx, orderID)

		d.mu.Lock()
		if !d.again[orderID] || d.stopped {
			delete(d.running, orderID)
			delete(d.again, orderID)
			d.mu.Unlock()
			return
		}
		delete(d.again, orderID)
		d.mu.Unlock()
	}
}

// Pending reports how many orders have an open window.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop drops every open window and waits for in-flight rebuilds.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}
