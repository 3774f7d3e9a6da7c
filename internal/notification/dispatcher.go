package notification

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultTimeout = 5 * time.Second

// Dispatcher fans an event out to every sender on its own goroutine.
// Failures and panics are logged and never reach the caller.
type Dispatcher struct {
	senders []Sender
	timeout time.Duration
	log     logrus.FieldLogger
	wg      sync.WaitGroup
}

func NewDispatcher(log logrus.FieldLogger, timeout time.Duration, senders ...Sender) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{senders: senders, timeout: timeout, log: log}
}

func (d *Dispatcher) Notify(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	// the request context is usually cancelled as soon as the handler returns
	base := context.WithoutCancel(ctx)
	for _, s := range d.senders {
		d.wg.Add(1)
		go d.deliver(base, s, e)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s Sender, e Event) {
	defer d.wg.Done()
	entry := d.log.WithFields(logrus.Fields{"type": e.Type, "user_id": e.UserID})
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("notification sender panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := s.Send(ctx, e); err != nil {
		entry.WithError(err).Warn("notification not delivered")
	}
}

// Wait blocks until in-flight deliveries finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LogSender writes events to the application log.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s LogSender) Send(_ context.Context, e Event) error {
	s.Log.WithFields(logrus.Fields{
		"type":    e.Type,
		"user_id": e.UserID,
		"data":    e.Data,
	}).Info(e.Message)
	return nil
}
