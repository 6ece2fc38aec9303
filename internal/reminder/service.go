// Package reminder sends inspectors a morning summary of the day's work orders.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/fieldwalk/fieldwalk/internal/channel"
	"github.com/fieldwalk/fieldwalk/internal/config"
	"github.com/fieldwalk/fieldwalk/internal/identity"
	"github.com/fieldwalk/fieldwalk/internal/workorder"
)

// Sender delivers a text message to a phone number on a channel.
type Sender interface {
	Send(ctx context.Context, channelType channel.Type, to, text string) error
}

// Service runs the daily reminder cron job.
type Service struct {
	cfg    config.ReminderConfig
	pool   *pgxpool.Pool
	users  *identity.Service
	orders *workorder.Service
	sender Sender
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the reminder service.
func NewService(log *slog.Logger, cfg config.ReminderConfig, pool *pgxpool.Pool,
	users *identity.Service, orders *workorder.Service, sender Sender,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		pool:   pool,
		users:  users,
		orders: orders,
		sender: sender,
		cron:   cron.New(),
		logger: log.With(slog.String("service", "reminder")),
		now:    time.Now,
	}
}

// Start registers and starts the cron job. Disabled config is a no-op.
func (s *Service) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("daily reminders disabled")
		return nil
	}
	_, err := s.cron.AddFunc(s.cfg.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("daily reminder run failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reminder cron pattern %q: %w", s.cfg.Cron, err)
	}
	s.cron.Start()
	s.logger.Info("daily reminders scheduled", slog.String("cron", s.cfg.Cron))
	return nil
}

// Stop stops the cron scheduler and waits for a running job to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce sends today's job summary to every inspector with open work orders.
func (s *Service) RunOnce(ctx context.Context) error {
	users, err := s.users.List(ctx, s.pool)
	if err != nil {
		return err
	}

	day := s.now()
	sent := 0
	for _, user := range users {
		if user.Role != identity.RoleInspector || user.Phone == "" {
			continue
		}
		orders, err := s.orders.ListForInspector(ctx, s.pool, user.ID, day)
		if err != nil {
			s.logger.Error("list work orders for reminder failed",
				slog.String("user_id", user.ID), slog.Any("error", err))
			continue
		}
		if len(orders) == 0 {
			continue
		}
		if err := s.sender.Send(ctx, channel.TypeWhatsApp, user.Phone, formatReminder(orders)); err != nil {
			s.logger.Error("reminder delivery failed",
				slog.String("user_id", user.ID), slog.Any("error", err))
			continue
		}
		sent++
	}
	s.logger.Info("daily reminders sent", slog.Int("count", sent))
	return nil
}

func formatReminder(orders []workorder.WorkOrder) string {
	text := fmt.Sprintf("Good morning! You have %d inspection(s) today:\n", len(orders))
	for _, wo := range orders {
		line := fmt.Sprintf("#%d %s", wo.Code, wo.Title)
		if wo.PropertyRef != "" {
			line += " @ " + wo.PropertyRef
		}
		text += line + "\n"
	}
	text += "Reply \"my jobs\" anytime for the list."
	return text
}
