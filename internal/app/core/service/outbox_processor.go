package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/R3E-Network/proofwork/internal/app/domain/outbox"
	"github.com/R3E-Network/proofwork/internal/app/storage"
	"github.com/sirupsen/logrus"
)

// maxBackoff caps outbox retry delay at 10 minutes per the full-jitter
// exponential schedule.
const maxBackoff = 10 * time.Minute

// Handler processes one outbox event's payload. A returned error is
// classified transient (retried with backoff) unless the handler itself
// decides the failure is terminal and returns an error satisfying
// TerminalError.
type Handler func(ctx context.Context, payload map[string]any) error

// TerminalError marks a handler failure that should go straight to
// deadletter instead of being retried.
type TerminalError struct{ Err error }

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// OutboxProcessor claims pending rows for a fixed topic set and dispatches
// them to registered handlers. Multiple processor instances (any replica
// count) may run the same topic set safely: claiming relies on
// SELECT ... FOR UPDATE SKIP LOCKED in the Store.
type OutboxProcessor struct {
	InstanceName string
	Store        storage.Store
	Topics       []string
	BatchSize    int
	PollInterval time.Duration
	Handlers     map[string]Handler

	log    *logrus.Entry
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOutboxProcessor(name string, store storage.Store, topics []string, handlers map[string]Handler, log *logrus.Entry) *OutboxProcessor {
	return &OutboxProcessor{
		InstanceName: name,
		Store:        store,
		Topics:       topics,
		BatchSize:    10,
		PollInterval: 2 * time.Second,
		Handlers:     handlers,
		log:          log,
	}
}

// Name identifies this processor instance to the system.Manager and is used
// as the Store's locked_by column value.
func (p *OutboxProcessor) Name() string { return p.InstanceName }

func (p *OutboxProcessor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)
	return nil
}

func (p *OutboxProcessor) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *OutboxProcessor) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

// drainOnce claims and dispatches one batch; exported via loop only, but
// kept as its own method so tests can call it directly without a ticker.
func (p *OutboxProcessor) drainOnce(ctx context.Context) {
	events, err := p.Store.ClaimPending(ctx, p.Topics, p.InstanceName, p.BatchSize)
	if err != nil {
		if p.log != nil {
			p.log.WithError(err).Warn("outbox: claim failed")
		}
		return
	}
	for _, e := range events {
		p.dispatch(ctx, e)
	}
}

func (p *OutboxProcessor) dispatch(ctx context.Context, e outbox.Event) {
	handler, ok := p.Handlers[e.Topic]
	if !ok {
		_ = p.Store.MarkDeadletter(ctx, e.ID, fmt.Sprintf("no handler registered for topic %s", e.Topic))
		return
	}
	err := handler(ctx, e.Payload)
	if err == nil {
		if markErr := p.Store.MarkSent(ctx, e.ID); markErr != nil && p.log != nil {
			p.log.WithError(markErr).Warn("outbox: mark sent failed")
		}
		return
	}

	var terminal *TerminalError
	isTerminal := errors.As(err, &terminal)

	if isTerminal || e.Attempts >= outbox.MaxAttempts {
		_ = p.Store.MarkDeadletter(ctx, e.ID, err.Error())
		return
	}

	next := time.Now().Add(backoffWithFullJitter(e.Attempts)).Unix()
	if markErr := p.Store.MarkRetry(ctx, e.ID, next, err.Error()); markErr != nil && p.log != nil {
		p.log.WithError(markErr).Warn("outbox: mark retry failed")
	}
}

// backoffWithFullJitter implements exponential backoff with full jitter,
// capped at maxBackoff: delay = random(0, min(cap, base*2^attempts)).
func backoffWithFullJitter(attempts int) time.Duration {
	base := float64(time.Second)
	exp := math.Min(float64(maxBackoff), base*math.Pow(2, float64(attempts)))
	return time.Duration(rand.Int63n(int64(exp) + 1))
}
