package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL,
	channel TEXT NOT NULL,
	nick TEXT NOT NULL,
	content TEXT NOT NULL,
	is_bot INTEGER NOT NULL DEFAULT 0,
	event_type TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel);

CREATE TABLE IF NOT EXISTS usage_tracking (
	ts DATETIME NOT NULL,
	request_id TEXT NOT NULL,
	nick TEXT NOT NULL,
	channel TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	cached_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	tool_calls INTEGER NOT NULL,
	web_search_calls INTEGER NOT NULL,
	code_interpreter_calls INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bugs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reporter TEXT NOT NULL,
	channel TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	priority TEXT NOT NULL DEFAULT 'normal',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	resolved_by TEXT NOT NULL DEFAULT '',
	resolution_note TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS reminders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	creator_nick TEXT NOT NULL,
	target_nick TEXT NOT NULL,
	channel TEXT NOT NULL,
	message TEXT NOT NULL,
	type TEXT NOT NULL,
	deliver_at DATETIME,
	recurrence TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL,
	delivered_at DATETIME,
	delivery_attempts INTEGER NOT NULL DEFAULT 0,
	expires_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_reminders_status_type ON reminders(status, type);
`

// NewSQLiteStores opens (creating if absent) a modernc.org/sqlite database
// at path and runs the idempotent CREATE IF NOT EXISTS migrations. This is
// the default single-process backend: pure Go, no cgo, matching spec.md's
// single-writer assumption directly.
func NewSQLiteStores(path string) (StoreSet, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer, serialize via one connection

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("migrate sqlite: %w", err)
	}

	return StoreSet{
		Messages:  &sqlMessageStore{db: db},
		Usage:     &sqlUsageStore{db: db},
		Bugs:      &sqlBugStore{db: db},
		Reminders: &sqlReminderStore{db: db},
		closer:    db.Close,
	}, nil
}

type sqlMessageStore struct{ db *sql.DB }

func (s *sqlMessageStore) Append(ctx context.Context, msg *models.Message) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (ts, channel, nick, content, is_bot, event_type) VALUES (?,?,?,?,?,?)`,
		msg.Timestamp, msg.Channel, msg.Nick, msg.Content, msg.IsBot, string(msg.EventType),
	)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqlMessageStore) SearchKeyword(ctx context.Context, channel, like string, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type FROM messages
		 WHERE channel = ? AND content LIKE ? ORDER BY ts DESC LIMIT ?`,
		channel, "%"+like+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *sqlMessageStore) Query(ctx context.Context, q MessageQuery) ([]*models.Message, int, error) {
	where, params := messageQueryFilter(q)

	var total int
	countRow := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, params...)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type FROM messages
		 WHERE `+where+` ORDER BY ts DESC LIMIT ?`,
		append(append([]any{}, params...), q.Limit)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	reverseMessages(messages)
	return messages, total, nil
}

func (s *sqlMessageStore) Stats(ctx context.Context, q MessageQuery) (int, []NickCount, error) {
	where, params := messageQueryFilter(q)

	var total int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, params...)
	if err := row.Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count messages: %w", err)
	}

	var top []NickCount
	if q.Nick == "" && total > 0 {
		rows, err := s.db.QueryContext(ctx,
			`SELECT nick, COUNT(*) as msg_count FROM messages WHERE `+where+`
			 GROUP BY LOWER(nick) ORDER BY msg_count DESC LIMIT 10`, params...)
		if err != nil {
			return 0, nil, fmt.Errorf("top contributors: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var nc NickCount
			if err := rows.Scan(&nc.Nick, &nc.Count); err != nil {
				return 0, nil, err
			}
			top = append(top, nc)
		}
		if err := rows.Err(); err != nil {
			return 0, nil, err
		}
	}
	return total, top, nil
}

// messageQueryFilter builds the shared WHERE clause and parameter list for
// Query and Stats; both accept '?' placeholders so the same helper serves
// sqlite's driver.
func messageQueryFilter(q MessageQuery) (string, []any) {
	where := "channel = ? AND ts >= ?"
	params := []any{q.Channel, q.Since}
	if !q.Until.IsZero() {
		where += " AND ts < ?"
		params = append(params, q.Until)
	}
	if q.Nick != "" {
		where += " AND LOWER(nick) = LOWER(?)"
		params = append(params, q.Nick)
	}
	if q.SearchTerm != "" {
		where += " AND content LIKE ?"
		params = append(params, "%"+q.SearchTerm+"%")
	}
	return where, params
}

// reverseMessages flips a DESC-ordered slice into chronological order for
// reading, matching chat_history.py's "reversed(messages)" step.
func reverseMessages(messages []*models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

func (s *sqlMessageStore) MaxID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM messages`).Scan(&max); err != nil {
		return 0, fmt.Errorf("max message id: %w", err)
	}
	return max.Int64, nil
}

func (s *sqlMessageStore) Since(ctx context.Context, afterID int64, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type FROM messages
		 WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages since: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var out []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var eventType string
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.Channel, &m.Nick, &m.Content, &m.IsBot, &eventType); err != nil {
			return nil, err
		}
		m.EventType = models.EventType(eventType)
		out = append(out, m)
	}
	return out, rows.Err()
}

type sqlUsageStore struct{ db *sql.DB }

func (s *sqlUsageStore) Record(ctx context.Context, rec *models.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_tracking (ts, request_id, nick, channel, model, input_tokens, cached_tokens,
		 output_tokens, cost_usd, tool_calls, web_search_calls, code_interpreter_calls)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.Timestamp, rec.RequestID, rec.Nick, rec.Channel, rec.Model,
		rec.InputTokens, rec.CachedTokens, rec.OutputTokens, rec.CostUSD,
		rec.ToolCalls, rec.WebSearchCalls, rec.CodeInterpreterCalls,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

type sqlBugStore struct{ db *sql.DB }

func (s *sqlBugStore) Create(ctx context.Context, b *models.BugReport) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bugs (reporter, channel, description, status, priority, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?)`,
		b.Reporter, b.Channel, b.Description, b.Status, b.Priority, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("create bug: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqlBugStore) Get(ctx context.Context, id int64) (*models.BugReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note
		 FROM bugs WHERE id = ?`, id)
	b := &models.BugReport{}
	var status, priority string
	if err := row.Scan(&b.ID, &b.Reporter, &b.Channel, &b.Description, &status, &priority,
		&b.CreatedAt, &b.UpdatedAt, &b.ResolvedBy, &b.ResolutionNote); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bug: %w", err)
	}
	b.Status, b.Priority = models.BugStatus(status), models.BugPriority(priority)
	return b, nil
}

func (s *sqlBugStore) List(ctx context.Context, status models.BugStatus, limit int) ([]*models.BugReport, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note
			 FROM bugs ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note
			 FROM bugs WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	defer rows.Close()

	var out []*models.BugReport
	for rows.Next() {
		b := &models.BugReport{}
		var st, pr string
		if err := rows.Scan(&b.ID, &b.Reporter, &b.Channel, &b.Description, &st, &pr,
			&b.CreatedAt, &b.UpdatedAt, &b.ResolvedBy, &b.ResolutionNote); err != nil {
			return nil, err
		}
		b.Status, b.Priority = models.BugStatus(st), models.BugPriority(pr)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqlBugStore) Update(ctx context.Context, b *models.BugReport) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bugs SET status=?, priority=?, updated_at=?, resolved_by=?, resolution_note=? WHERE id=?`,
		b.Status, b.Priority, b.UpdatedAt, b.ResolvedBy, b.ResolutionNote, b.ID,
	)
	return err
}

func (s *sqlBugStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bugs WHERE id=?`, id)
	return err
}

type sqlReminderStore struct{ db *sql.DB }

func (s *sqlReminderStore) Create(ctx context.Context, r *models.Reminder) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (creator_nick, target_nick, channel, message, type, deliver_at,
		 recurrence, status, created_at, delivery_attempts, expires_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.CreatorNick, r.TargetNick, r.Channel, r.Message, r.Type, nullTime(r.DeliverAt),
		r.Recurrence, r.Status, r.CreatedAt, r.DeliveryAttempts, nullTime(r.ExpiresAt),
	)
	if err != nil {
		return 0, fmt.Errorf("create reminder: %w", err)
	}
	return res.LastInsertId()
}

func (s *sqlReminderStore) Get(ctx context.Context, id int64) (*models.Reminder, error) {
	row := s.db.QueryRowContext(ctx, reminderSelect+` WHERE id = ?`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *sqlReminderStore) Update(ctx context.Context, r *models.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET deliver_at=?, recurrence=?, status=?, delivered_at=?, delivery_attempts=? WHERE id=?`,
		nullTime(r.DeliverAt), r.Recurrence, r.Status, nullTime(r.DeliveredAt), r.DeliveryAttempts, r.ID,
	)
	return err
}

func (s *sqlReminderStore) Cancel(ctx context.Context, id int64, creatorNick string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status='cancelled' WHERE id=? AND creator_nick=? AND status='pending'`,
		id, creatorNick)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlReminderStore) CountPending(ctx context.Context, creatorNick string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminders WHERE creator_nick=? AND status='pending'`, creatorNick).Scan(&n)
	return n, err
}

func (s *sqlReminderStore) ListDueTime(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		reminderSelect+` WHERE type='time' AND status='pending' AND deliver_at <= ?`, now)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *sqlReminderStore) PullJoinReminders(ctx context.Context, nick, channel string) ([]*models.Reminder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		reminderSelect+` WHERE type='join' AND status='pending' AND LOWER(target_nick)=LOWER(?) AND channel=?`,
		nick, channel)
	if err != nil {
		return nil, err
	}
	list, err := scanReminders(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	for _, r := range list {
		if _, err := tx.ExecContext(ctx, `UPDATE reminders SET status='delivered', delivered_at=? WHERE id=?`,
			time.Now().UTC(), r.ID); err != nil {
			return nil, err
		}
	}
	return list, tx.Commit()
}

func (s *sqlReminderStore) ListPendingForUser(ctx context.Context, nick string) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		reminderSelect+` WHERE status='pending' AND LOWER(creator_nick)=LOWER(?)`, nick)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *sqlReminderStore) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status='failed' WHERE status='pending' AND expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const reminderSelect = `SELECT id, creator_nick, target_nick, channel, message, type, deliver_at,
	recurrence, status, created_at, delivered_at, delivery_attempts, expires_at FROM reminders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*models.Reminder, error) {
	r := &models.Reminder{}
	var rtype, recurrence, status string
	var deliverAt, deliveredAt, expiresAt sql.NullTime
	if err := row.Scan(&r.ID, &r.CreatorNick, &r.TargetNick, &r.Channel, &r.Message, &rtype,
		&deliverAt, &recurrence, &status, &r.CreatedAt, &deliveredAt, &r.DeliveryAttempts, &expiresAt); err != nil {
		return nil, err
	}
	r.Type, r.Recurrence, r.Status = models.ReminderType(rtype), models.Recurrence(recurrence), models.ReminderStatus(status)
	r.DeliverAt, r.DeliveredAt, r.ExpiresAt = deliverAt.Time, deliveredAt.Time, expiresAt.Time
	return r, nil
}

func scanReminders(rows *sql.Rows) ([]*models.Reminder, error) {
	var out []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
