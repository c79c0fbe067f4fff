// Package storage is the single relational store for messages, the usage
// ledger, bug tickets, and reminders (spec.md §4.6). Two interchangeable
// backends implement the same interfaces: an embedded modernc.org/sqlite
// store (the single-process default) and an optional lib/pq-over-Postgres
// store for operators who already run Postgres for the KB vector index.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// MessageQuery narrows a MessageStore.Query/Stats call to a channel, an
// optional nick/search-term filter, and a time window (query_chat_history's
// keyword mode, spec.md §4.4).
type MessageQuery struct {
	Channel    string
	Nick       string // optional, case-insensitive exact match
	SearchTerm string // optional, case-insensitive substring match
	Since      time.Time
	Until      time.Time // zero means "no upper bound"
	Limit      int
}

// NickCount is one row of the count_only top-contributors breakdown.
type NickCount struct {
	Nick  string
	Count int
}

// MessageStore persists immutable channel lines and IRC events, and
// supports the query_chat_history tool's keyword mode.
type MessageStore interface {
	Append(ctx context.Context, msg *models.Message) (int64, error)
	SearchKeyword(ctx context.Context, channel, like string, limit int) ([]*models.Message, error)
	// Query runs query_chat_history's full keyword-mode filter set, returning
	// matching messages oldest-first plus the total count before limit was
	// applied (so the tool can report "found N, showing M").
	Query(ctx context.Context, q MessageQuery) (messages []*models.Message, total int, err error)
	// Stats answers query_chat_history's count_only mode: the total matching
	// count, and (when q.Nick is empty) the top 10 contributors by message
	// count within the window.
	Stats(ctx context.Context, q MessageQuery) (total int, topContributors []NickCount, err error)
	// MaxID returns the highest persisted message id, for the KB migration
	// job's "id > max indexed id" idempotence check (spec.md §4.6).
	MaxID(ctx context.Context) (int64, error)
	// Since returns messages with id greater than afterID, oldest first, for
	// the migration job to embed.
	Since(ctx context.Context, afterID int64, limit int) ([]*models.Message, error)
}

// UsageStore is the append-only usage ledger.
type UsageStore interface {
	Record(ctx context.Context, rec *models.UsageRecord) error
}

// BugStore persists bug_report tickets.
type BugStore interface {
	Create(ctx context.Context, b *models.BugReport) (int64, error)
	Get(ctx context.Context, id int64) (*models.BugReport, error)
	List(ctx context.Context, status models.BugStatus, limit int) ([]*models.BugReport, error)
	Update(ctx context.Context, b *models.BugReport) error
	Delete(ctx context.Context, id int64) error
}

// ReminderStore persists reminders and implements the scheduler's query
// shapes (spec.md §4.8).
type ReminderStore interface {
	Create(ctx context.Context, r *models.Reminder) (int64, error)
	Get(ctx context.Context, id int64) (*models.Reminder, error)
	Update(ctx context.Context, r *models.Reminder) error
	Cancel(ctx context.Context, id int64, creatorNick string) error
	CountPending(ctx context.Context, creatorNick string) (int, error)
	ListDueTime(ctx context.Context, now time.Time) ([]*models.Reminder, error)
	// PullJoinReminders atomically claims and returns all pending
	// join-type reminders for (nick, channel), marking them delivered.
	PullJoinReminders(ctx context.Context, nick, channel string) ([]*models.Reminder, error)
	ListPendingForUser(ctx context.Context, nick string) ([]*models.Reminder, error)
	// ExpirePending marks every still-pending reminder whose ExpiresAt has
	// passed as failed (spec.md §4.8: join-reminders expire after 30 days,
	// recurring reminders after 365, unless cancelled first). Returns the
	// number of reminders expired.
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

// StoreSet groups the relational store dependencies.
type StoreSet struct {
	Messages  MessageStore
	Usage     UsageStore
	Bugs      BugStore
	Reminders ReminderStore
	closer    func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
