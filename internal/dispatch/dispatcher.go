// Package dispatch delivers workflow replies and notifications over chat
// channels, rate limited per recipient.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fieldwalk/fieldwalk/internal/channel"
	"github.com/fieldwalk/fieldwalk/internal/config"
	"github.com/fieldwalk/fieldwalk/internal/workflow"
)

// TriggerHandler executes the side effect behind a workflow trigger (e.g. the
// report generator behind generate_report).
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, trigger workflow.Trigger) error
}

// Dispatcher sends outbound messages through channel adapters. Each recipient
// gets its own token bucket so one noisy conversation cannot starve others.
// Non-notification triggers go to their registered TriggerHandlers.
type Dispatcher struct {
	channels      *channel.Registry
	ratePerSecond float64
	burst         int
	notifyNumbers []string
	logger        *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	handlers map[workflow.TriggerKind][]TriggerHandler
}

// NewDispatcher creates a dispatcher from config.
func NewDispatcher(log *slog.Logger, channels *channel.Registry, cfg config.DispatchConfig) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	ratePerSecond := cfg.RatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		channels:      channels,
		ratePerSecond: ratePerSecond,
		burst:         burst,
		notifyNumbers: cfg.NotifyNumbers,
		logger:        log.With(slog.String("service", "dispatch")),
		limiters:      map[string]*rate.Limiter{},
		handlers:      map[workflow.TriggerKind][]TriggerHandler{},
	}
}

// RegisterTriggerHandler attaches a handler to a trigger kind. Register before
// the first Deliver; registration is not synchronized against it.
func (d *Dispatcher) RegisterTriggerHandler(kind workflow.TriggerKind, handler TriggerHandler) {
	d.handlers[kind] = append(d.handlers[kind], handler)
}

func (d *Dispatcher) limiter(recipient string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[recipient]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.ratePerSecond), d.burst)
		d.limiters[recipient] = l
	}
	return l
}

// Send delivers one text message, waiting on the recipient's rate limit.
func (d *Dispatcher) Send(ctx context.Context, channelType channel.Type, to, text string) error {
	adapter, ok := d.channels.Get(channelType)
	if !ok {
		return fmt.Errorf("no adapter for channel %s", channelType)
	}
	if err := d.limiter(to).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if err := adapter.Send(ctx, to, text); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// Deliver sends all replies of a workflow result. Failures are logged and do
// not stop later replies; the workflow state is already committed, so delivery
// is best effort.
func (d *Dispatcher) Deliver(ctx context.Context, channelType channel.Type, result workflow.Result) {
	for _, reply := range result.Replies {
		if err := d.Send(ctx, channelType, reply.To, reply.Text); err != nil {
			d.logger.Error("reply delivery failed",
				slog.String("to", reply.To), slog.Any("error", err))
		}
	}
	d.handleTriggers(ctx, channelType, result.Triggers)
}

// handleTriggers executes each trigger: notify kinds become text messages,
// everything else goes to its registered handlers.
func (d *Dispatcher) handleTriggers(ctx context.Context, channelType channel.Type, triggers []workflow.Trigger) {
	for _, trigger := range triggers {
		d.logger.Info("workflow event",
			slog.String("kind", string(trigger.Kind)),
			slog.String("work_order_id", trigger.WorkOrderID))

		switch trigger.Kind {
		case workflow.TriggerNotifyAdmin:
			text := formatNotification(trigger)
			for _, number := range d.notifyNumbers {
				if err := d.Send(ctx, channelType, number, text); err != nil {
					d.logger.Error("notification delivery failed",
						slog.String("to", number), slog.Any("error", err))
				}
			}
		case workflow.TriggerNotifyCustomer:
			if trigger.To == "" {
				d.logger.Warn("customer notification without recipient",
					slog.String("work_order_id", trigger.WorkOrderID))
				continue
			}
			if err := d.Send(ctx, channelType, trigger.To, formatNotification(trigger)); err != nil {
				d.logger.Error("notification delivery failed",
					slog.String("to", trigger.To), slog.Any("error", err))
			}
		default:
			handlers := d.handlers[trigger.Kind]
			if len(handlers) == 0 {
				d.logger.Warn("no handler for trigger",
					slog.String("kind", string(trigger.Kind)))
				continue
			}
			for _, handler := range handlers {
				if err := handler.HandleTrigger(ctx, trigger); err != nil {
					d.logger.Error("trigger handler failed",
						slog.String("kind", string(trigger.Kind)), slog.Any("error", err))
				}
			}
		}
	}
}

func formatNotification(trigger workflow.Trigger) string {
	if trigger.Note != "" {
		return fmt.Sprintf("%s (work order %s)", trigger.Note, trigger.WorkOrderID)
	}
	return fmt.Sprintf("Update on work order %s", trigger.WorkOrderID)
}
