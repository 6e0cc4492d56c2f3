package handler

import (
	"log/slog"

	"github.com/coffersTech/grandoutput/internal/dispatch"
	"github.com/coffersTech/grandoutput/internal/model"
	"github.com/coffersTech/grandoutput/internal/route"
)

// Queue accepts events for asynchronous dispatch. A rejected event must be
// released by the queue.
type Queue interface {
	Enqueue(r dispatch.Receiver, ev *model.Event) bool
}

// FinalReceiver delivers an event to the common sink and to the handlers of
// one route, then releases the configuration lock the event holds.
type FinalReceiver struct {
	route    string
	common   Handler
	handlers []Handler
	lock     *ConfigurationLock
	logger   *slog.Logger
}

// Dispatch runs in the dispatcher goroutine. Handler errors and panics are
// logged; the lock is released whatever happens.
func (r *FinalReceiver) Dispatch(ev *model.Event) {
	defer r.lock.Unlock()
	if r.common != nil {
		if err := safeHandle(r.common, ev, true); err != nil {
			r.logger.Error("common sink failed", "topic", ev.Topic, "error", err)
		}
	}
	for _, h := range r.handlers {
		if err := safeHandle(h, ev, r.common != nil); err != nil {
			r.logger.Error("handler failed", "route", r.route, "topic", ev.Topic, "error", err)
		}
	}
}

// Release is called when the event is rejected before dispatch.
func (r *FinalReceiver) Release() {
	r.lock.Unlock()
}

// Channel is the runtime form of one resolved route.
//
// Producers call PreHandleLock before committing to a channel, then either
// Handle the event or CancelPreHandleLock when they switch to a newer
// channel.
type Channel struct {
	route    *route.Resolved
	receiver *FinalReceiver
	queue    Queue
}

// Route returns the resolved route served by the channel.
func (c *Channel) Route() *route.Resolved {
	return c.route
}

// PreHandleLock acquires the configuration lock. It fails once the
// channel's configuration has been replaced.
func (c *Channel) PreHandleLock() bool {
	return c.receiver.lock.TryLock()
}

// CancelPreHandleLock releases a lock acquired by PreHandleLock without
// handling any event.
func (c *Channel) CancelPreHandleLock() {
	c.receiver.lock.Unlock()
}

// Handle enqueues ev. The caller must hold a lock from PreHandleLock; it
// is released exactly once, after dispatch or on rejection.
func (c *Channel) Handle(ev *model.Event) bool {
	return c.queue.Enqueue(c.receiver, ev)
}
