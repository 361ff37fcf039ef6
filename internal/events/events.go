// Package events dispatches domain events to side-effect handlers
// (mail, last-login stamps) without making the caller wait for them.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tokenauth/internal/lib/sl"
)

type Name string

const (
	UserRegistered             Name = "user.registered"
	UserLoggedIn               Name = "user.logged_in"
	PasswordResetRequested     Name = "password.reset_requested"
	PasswordChanged            Name = "password.changed"
	EmailVerificationRequested Name = "email.verification_requested"
)

type Event interface {
	EventName() Name
}

type UserRegisteredEvent struct {
	UserID    int64
	Username  string
	Email     string
	FirstName string
}

func (UserRegisteredEvent) EventName() Name { return UserRegistered }

type UserLoggedInEvent struct {
	UserID   int64
	Username string
	At       time.Time
}

func (UserLoggedInEvent) EventName() Name { return UserLoggedIn }

// PasswordResetRequestedEvent carries the reset token for out-of-band
// delivery. It must never be logged.
type PasswordResetRequestedEvent struct {
	Username  string
	Email     string
	Token     string
	ExpiresAt time.Time
}

func (PasswordResetRequestedEvent) EventName() Name { return PasswordResetRequested }

type PasswordChangedEvent struct {
	Username        string
	Email           string
	Reason          string
	SessionsRevoked bool
}

func (PasswordChangedEvent) EventName() Name { return PasswordChanged }

type EmailVerificationRequestedEvent struct {
	Username  string
	Email     string
	Token     string
	ExpiresAt time.Time
}

func (EmailVerificationRequestedEvent) EventName() Name { return EmailVerificationRequested }

type Handler func(ctx context.Context, e Event) error

// Dispatcher runs every handler subscribed to an event in its own
// goroutine. Handler errors are logged and go nowhere else.
type Dispatcher struct {
	log     *slog.Logger
	timeout time.Duration

	mu       sync.RWMutex
	handlers map[Name][]Handler
	closed   bool

	wg sync.WaitGroup
}

func NewDispatcher(log *slog.Logger, handlerTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		log:      log,
		timeout:  handlerTimeout,
		handlers: make(map[Name][]Handler),
	}
}

func (d *Dispatcher) Subscribe(name Name, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[name] = append(d.handlers[name], h)
}

// Publish hands e to its handlers and returns immediately. Handlers run
// on a context detached from ctx's cancellation so a finished request
// does not abort them; values such as request ids are kept.
func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	const op = "events.Publish"

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn("dispatcher closed, event dropped",
			slog.String("op", op),
			slog.String("event", string(e.EventName())),
		)
		return
	}

	base := context.WithoutCancel(ctx)
	for _, h := range d.handlers[e.EventName()] {
		d.wg.Add(1)
		go d.run(base, h, e)
	}
}

func (d *Dispatcher) run(ctx context.Context, h Handler, e Event) {
	const op = "events.run"
	defer d.wg.Done()

	log := d.log.With(slog.String("op", op), slog.String("event", string(e.EventName())))

	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panicked", slog.Any("panic", r))
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := h(ctx, e); err != nil {
		log.Error("event handler failed", sl.Err(err))
	}
}

// Close stops accepting events and waits for running handlers, or for
// ctx to be done, whichever comes first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
