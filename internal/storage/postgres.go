package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	channel TEXT NOT NULL,
	nick TEXT NOT NULL,
	content TEXT NOT NULL,
	is_bot BOOLEAN NOT NULL DEFAULT FALSE,
	event_type TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel);

CREATE TABLE IF NOT EXISTS usage_tracking (
	ts TIMESTAMPTZ NOT NULL,
	request_id TEXT NOT NULL,
	nick TEXT NOT NULL,
	channel TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens BIGINT NOT NULL,
	cached_tokens BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	cost_usd DOUBLE PRECISION NOT NULL,
	tool_calls INTEGER NOT NULL,
	web_search_calls INTEGER NOT NULL,
	code_interpreter_calls INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bugs (
	id BIGSERIAL PRIMARY KEY,
	reporter TEXT NOT NULL,
	channel TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	priority TEXT NOT NULL DEFAULT 'normal',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	resolved_by TEXT NOT NULL DEFAULT '',
	resolution_note TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS reminders (
	id BIGSERIAL PRIMARY KEY,
	creator_nick TEXT NOT NULL,
	target_nick TEXT NOT NULL,
	channel TEXT NOT NULL,
	message TEXT NOT NULL,
	type TEXT NOT NULL,
	deliver_at TIMESTAMPTZ,
	recurrence TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL,
	delivered_at TIMESTAMPTZ,
	delivery_attempts INTEGER NOT NULL DEFAULT 0,
	expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_reminders_status_type ON reminders(status, type);
`

// NewPostgresStores opens a lib/pq connection to dsn, applies pool settings,
// pings, and runs the idempotent migration. Operators who already run
// Postgres for the knowledge base's pgvector index can point this at the
// same database instead of running a second, embedded sqlite file.
func NewPostgresStores(dsn string, pool *PoolConfig) (StoreSet, error) {
	if pool == nil {
		pool = DefaultPoolConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pool.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("migrate postgres: %w", err)
	}

	return StoreSet{
		Messages:  &pgMessageStore{db: db},
		Usage:     &pgUsageStore{db: db},
		Bugs:      &pgBugStore{db: db},
		Reminders: &pgReminderStore{db: db},
		closer:    db.Close,
	}, nil
}

// isDuplicateKey reports whether err is a Postgres unique-violation error.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if ok := errorsAs(err, &pqErr); ok {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key")
}

// errorsAs is a tiny local indirection so this file only needs one import
// line changed if the driver's error type changes.
func errorsAs(err error, target **pq.Error) bool {
	for err != nil {
		if e, ok := err.(*pq.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

type pgMessageStore struct{ db *sql.DB }

func (s *pgMessageStore) Append(ctx context.Context, msg *models.Message) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (ts, channel, nick, content, is_bot, event_type) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		msg.Timestamp, msg.Channel, msg.Nick, msg.Content, msg.IsBot, string(msg.EventType),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return id, nil
}

func (s *pgMessageStore) SearchKeyword(ctx context.Context, channel, like string, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type FROM messages
		 WHERE channel = $1 AND content ILIKE $2 ORDER BY ts DESC LIMIT $3`,
		channel, "%"+like+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()
	return scanPGMessages(rows)
}

func (s *pgMessageStore) Query(ctx context.Context, q MessageQuery) ([]*models.Message, int, error) {
	where, params := pgMessageQueryFilter(q)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	limitPlaceholder := fmt.Sprintf("$%d", len(params)+1)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type FROM messages
		 WHERE `+where+` ORDER BY ts DESC LIMIT `+limitPlaceholder,
		append(append([]any{}, params...), q.Limit)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	messages, err := scanPGMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	reverseMessages(messages)
	return messages, total, nil
}

func (s *pgMessageStore) Stats(ctx context.Context, q MessageQuery) (int, []NickCount, error) {
	where, params := pgMessageQueryFilter(q)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, params...).Scan(&total); err != nil {
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

// pgMessageQueryFilter mirrors sqlite's messageQueryFilter but with $N
// placeholders and ILIKE for case-insensitive substring search.
func pgMessageQueryFilter(q MessageQuery) (string, []any) {
	where := "channel = $1 AND ts >= $2"
	params := []any{q.Channel, q.Since}
	if !q.Until.IsZero() {
		params = append(params, q.Until)
		where += fmt.Sprintf(" AND ts < $%d", len(params))
	}
	if q.Nick != "" {
		params = append(params, q.Nick)
		where += fmt.Sprintf(" AND LOWER(nick) = LOWER($%d)", len(params))
	}
	if q.SearchTerm != "" {
		params = append(params, "%"+q.SearchTerm+"%")
		where += fmt.Sprintf(" AND content ILIKE $%d", len(params))
	}
	return where, params
}

func (s *pgMessageStore) MaxID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM messages`).Scan(&max); err != nil {
		return 0, fmt.Errorf("max message id: %w", err)
	}
	return max.Int64, nil
}

func (s *pgMessageStore) Since(ctx context.Context, afterID int64, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, channel, nick, content, is_bot, event_type FROM messages
		 WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages since: %w", err)
	}
	defer rows.Close()
	return scanPGMessages(rows)
}

func scanPGMessages(rows *sql.Rows) ([]*models.Message, error) {
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

type pgUsageStore struct{ db *sql.DB }

func (s *pgUsageStore) Record(ctx context.Context, rec *models.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_tracking (ts, request_id, nick, channel, model, input_tokens, cached_tokens,
		 output_tokens, cost_usd, tool_calls, web_search_calls, code_interpreter_calls)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.Timestamp, rec.RequestID, rec.Nick, rec.Channel, rec.Model,
		rec.InputTokens, rec.CachedTokens, rec.OutputTokens, rec.CostUSD,
		rec.ToolCalls, rec.WebSearchCalls, rec.CodeInterpreterCalls,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

type pgBugStore struct{ db *sql.DB }

func (s *pgBugStore) Create(ctx context.Context, b *models.BugReport) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO bugs (reporter, channel, description, status, priority, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		b.Reporter, b.Channel, b.Description, b.Status, b.Priority, b.CreatedAt, b.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create bug: %w", err)
	}
	return id, nil
}

func (s *pgBugStore) Get(ctx context.Context, id int64) (*models.BugReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note
		 FROM bugs WHERE id = $1`, id)
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

func (s *pgBugStore) List(ctx context.Context, status models.BugStatus, limit int) ([]*models.BugReport, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note
			 FROM bugs ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, reporter, channel, description, status, priority, created_at, updated_at, resolved_by, resolution_note
			 FROM bugs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
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

func (s *pgBugStore) Update(ctx context.Context, b *models.BugReport) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bugs SET status=$1, priority=$2, updated_at=$3, resolved_by=$4, resolution_note=$5 WHERE id=$6`,
		b.Status, b.Priority, b.UpdatedAt, b.ResolvedBy, b.ResolutionNote, b.ID,
	)
	return err
}

func (s *pgBugStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bugs WHERE id=$1`, id)
	return err
}

type pgReminderStore struct{ db *sql.DB }

func (s *pgReminderStore) Create(ctx context.Context, r *models.Reminder) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reminders (creator_nick, target_nick, channel, message, type, deliver_at,
		 recurrence, status, created_at, delivery_attempts, expires_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		r.CreatorNick, r.TargetNick, r.Channel, r.Message, r.Type, nullTime(r.DeliverAt),
		r.Recurrence, r.Status, r.CreatedAt, r.DeliveryAttempts, nullTime(r.ExpiresAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create reminder: %w", err)
	}
	return id, nil
}

func (s *pgReminderStore) Get(ctx context.Context, id int64) (*models.Reminder, error) {
	row := s.db.QueryRowContext(ctx, pgReminderSelect+` WHERE id = $1`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *pgReminderStore) Update(ctx context.Context, r *models.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET deliver_at=$1, recurrence=$2, status=$3, delivered_at=$4, delivery_attempts=$5 WHERE id=$6`,
		nullTime(r.DeliverAt), r.Recurrence, r.Status, nullTime(r.DeliveredAt), r.DeliveryAttempts, r.ID,
	)
	return err
}

func (s *pgReminderStore) Cancel(ctx context.Context, id int64, creatorNick string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status='cancelled' WHERE id=$1 AND creator_nick=$2 AND status='pending'`,
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

func (s *pgReminderStore) CountPending(ctx context.Context, creatorNick string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminders WHERE creator_nick=$1 AND status='pending'`, creatorNick).Scan(&n)
	return n, err
}

func (s *pgReminderStore) ListDueTime(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		pgReminderSelect+` WHERE type='time' AND status='pending' AND deliver_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *pgReminderStore) PullJoinReminders(ctx context.Context, nick, channel string) ([]*models.Reminder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		pgReminderSelect+` WHERE type='join' AND status='pending' AND LOWER(target_nick)=LOWER($1) AND channel=$2
		 FOR UPDATE`, nick, channel)
	if err != nil {
		return nil, err
	}
	list, err := scanReminders(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	for _, r := range list {
		if _, err := tx.ExecContext(ctx, `UPDATE reminders SET status='delivered', delivered_at=$1 WHERE id=$2`,
			time.Now().UTC(), r.ID); err != nil {
			return nil, err
		}
	}
	return list, tx.Commit()
}

func (s *pgReminderStore) ListPendingForUser(ctx context.Context, nick string) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		pgReminderSelect+` WHERE status='pending' AND LOWER(creator_nick)=LOWER($1)`, nick)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (s *pgReminderStore) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status='failed' WHERE status='pending' AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const pgReminderSelect = `SELECT id, creator_nick, target_nick, channel, message, type, deliver_at,
	recurrence, status, created_at, delivered_at, delivery_attempts, expires_at FROM reminders`
