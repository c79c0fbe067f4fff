// Package reminders implements the reminder scheduler's background loop
// (spec.md §4.8): a singleton poller that delivers time-type reminders and
// serves the IRC client's join-check pull.
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// IRCCallback is the subset of ircclient.Client the scheduler needs, kept as
// an interface so tests can substitute a stub instead of an HTTP server.
type IRCCallback interface {
	UserStatus(ctx context.Context, channel, nick string) (online bool, err error)
	SendMessage(ctx context.Context, channel, text string) error
}

// Config tunes the scheduler's cadence.
type Config struct {
	// StartupGrace delays the first poll after Start, so the HTTP boundary
	// has time to come up first (spec.md §4.6's migration job uses the same
	// "let the boundary start first" reasoning).
	StartupGrace time.Duration
	// PollInterval is the steady-state tick period.
	PollInterval time.Duration
}

// Scheduler is the singleton reminder delivery loop.
type Scheduler struct {
	store  storage.ReminderStore
	irc    IRCCallback
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Scheduler. cfg zero values default to spec.md §4.8's 10s
// grace / 15s poll.
func New(store storage.ReminderStore, irc IRCCallback, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: store, irc: irc, cfg: cfg, logger: logger.With("component", "reminder-scheduler")}
}

// Start begins the background loop. Calling Start twice is a no-op, matching
// the "singleton" requirement in spec.md §4.8.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(loopCtx)
}

// Stop cancels the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.StartupGrace):
	}

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one delivery pass. It never panics or returns an error to the
// caller: the scheduler loop must survive a single bad reminder or a
// transient store error (spec.md §5: "catches all exceptions per tick").
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reminder tick panicked", "recover", r)
		}
	}()

	now := time.Now()

	if n, err := s.store.ExpirePending(ctx, now); err != nil {
		s.logger.Error("expire stale reminders", "error", err)
	} else if n > 0 {
		s.logger.Info("expired stale reminders", "count", n)
	}

	due, err := s.store.ListDueTime(ctx, now)
	if err != nil {
		s.logger.Error("list due reminders", "error", err)
		return
	}
	for _, r := range due {
		s.deliverOne(ctx, r)
	}
}

func (s *Scheduler) deliverOne(ctx context.Context, r *models.Reminder) {
	online, err := s.irc.UserStatus(ctx, r.Channel, r.TargetNick)
	if err != nil {
		s.logger.Error("check user status", "reminder_id", r.ID, "error", err)
		return
	}

	if !online {
		r.DeliveryAttempts++
		if r.DeliveryAttempts >= models.MaxDeliveryAttempts {
			r.Status = models.ReminderFailed
		}
		if err := s.store.Update(ctx, r); err != nil {
			s.logger.Error("update offline reminder", "reminder_id", r.ID, "error", err)
		}
		return
	}

	if err := s.irc.SendMessage(ctx, r.Channel, deliveryLine(r)); err != nil {
		s.logger.Error("send reminder", "reminder_id", r.ID, "error", err)
		return
	}

	switch {
	case r.IsRecurring() && (r.ExpiresAt.IsZero() || time.Now().Before(r.ExpiresAt)):
		r.Advance()
	case r.IsRecurring():
		r.Status = models.ReminderCancelled
	default:
		r.Status = models.ReminderDelivered
		r.DeliveredAt = time.Now()
	}
	if err := s.store.Update(ctx, r); err != nil {
		s.logger.Error("update delivered reminder", "reminder_id", r.ID, "error", err)
	}
}

// deliveryLine formats the IRC line for a delivered reminder, prefixing the
// sender when the creator asked on someone else's behalf (spec.md §4.8).
func deliveryLine(r *models.Reminder) string {
	if r.CreatorNick != "" && !strings.EqualFold(r.CreatorNick, r.TargetNick) {
		return fmt.Sprintf("%s: Reminder from %s: %s", r.TargetNick, r.CreatorNick, r.Message)
	}
	return fmt.Sprintf("%s: Reminder: %s", r.TargetNick, r.Message)
}

// JoinCheck serves the IRC client's pull-based join delivery (spec.md §4.8):
// atomically claims and returns all pending join-type reminders for
// (nick, channel), marking each delivered.
func JoinCheck(ctx context.Context, store storage.ReminderStore, nick, channel string) ([]*models.Reminder, error) {
	return store.PullJoinReminders(ctx, nick, channel)
}
