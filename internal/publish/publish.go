// Package publish periodically pushes a rotating list of messages to a
// characteristic while a central is connected.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chaz8081/blebeacon/internal/ble"
)

// Target is the notification sink. *ble.Peripheral satisfies it.
type Target interface {
	IsClientConnected() bool
	Notify(characteristicUUID string, payload ble.Payload) error
}

// Options configures a Publisher.
type Options struct {
	Characteristic string
	Schedule       string // cron expression or duration, e.g. "1s"
	Messages       []string
	MaxChunk       int // split messages into notifications of at most this many bytes; 0 disables
	Logger         *slog.Logger
}

// Publisher notifies Options.Messages in rotation on a schedule.
type Publisher struct {
	target   Target
	opts     Options
	schedule cron.Schedule
	logger   *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	// tickMu serializes Tick so a message is never sent twice.
	tickMu sync.Mutex
	next   int

	sent atomic.Int64
}

// New creates a Publisher. Panics if target is nil (programmer error).
func New(target Target, opts Options) (*Publisher, error) {
	if target == nil {
		panic("publish: New called with nil target")
	}
	if opts.Characteristic == "" {
		return nil, errors.New("publish: characteristic must not be empty")
	}
	if len(opts.Messages) == 0 {
		return nil, errors.New("publish: at least one message is required")
	}
	schedule, err := ParseSchedule(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("publish: invalid schedule %q: %w", opts.Schedule, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		target:   target,
		opts:     opts,
		schedule: schedule,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}, nil
}

// Start runs the schedule until Stop or until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cron.Schedule(p.schedule, cron.FuncJob(p.run))
	p.cron.Start()
	p.started = true

	p.logger.Info("[PUB] started", "characteristic", p.opts.Characteristic, "schedule", p.opts.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.started = false
	p.mu.Unlock()

	<-p.cron.Stop().Done()
	for _, e := range p.cron.Entries() {
		p.cron.Remove(e.ID)
	}
	p.logger.Info("[PUB] stopped", "sent", p.Sent())
}

func (p *Publisher) run() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	err := p.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ble.ErrNotConnected):
		p.logger.Debug("[PUB] no client connected, skipping")
	default:
		p.logger.Warn("[PUB] notify failed", "error", err)
	}
}

// Tick notifies the next message. The rotation only advances when every
// piece of the message was delivered.
func (p *Publisher) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	if !p.target.IsClientConnected() {
		return ble.ErrNotConnected
	}

	msg := p.opts.Messages[p.next]

	for _, piece := range Chunk(msg, p.opts.MaxChunk) {
		if err := p.target.Notify(p.opts.Characteristic, ble.Text(piece)); err != nil {
			return err
		}
	}

	p.next = (p.next + 1) % len(p.opts.Messages)
	p.sent.Add(1)

	p.logger.Info("[PUB] notification sent", "message", msg, "at", time.Now().Format(time.RFC3339))
	return nil
}

// Sent returns the number of messages delivered.
func (p *Publisher) Sent() int64 {
	return p.sent.Load()
}

// WaitForClient polls until a central is connected or ctx is done.
func WaitForClient(ctx context.Context, target interface{ IsClientConnected() bool }, poll time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if poll <= 0 {
		poll = time.Second
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for !target.IsClientConnected() {
		logger.Info("[PUB] waiting for client to connect...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	logger.Info("[PUB] client connected, ready to send notifications")
	return nil
}

// ParseSchedule parses a standard five-field cron expression or
// descriptor ("@every 5s", "@hourly"), falling back to a Go duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, errors.New("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires every d. Unlike cron.Every it keeps sub-second
// precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
