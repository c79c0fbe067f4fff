package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *pgReminderStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return mock, &pgReminderStore{db: db}
}

func TestPGReminderStore_Create(t *testing.T) {
	mock, store := setupMockDB(t)
	r := &models.Reminder{
		CreatorNick: "alice",
		TargetNick:  "alice",
		Channel:     "#chan",
		Message:     "stand up",
		Type:        models.ReminderTime,
		DeliverAt:   time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		Status:      models.ReminderPending,
		CreatedAt:   time.Now(),
	}

	mock.ExpectQuery("INSERT INTO reminders").
		WithArgs(r.CreatorNick, r.TargetNick, r.Channel, r.Message, r.Type, r.DeliverAt,
			r.Recurrence, r.Status, sqlmock.AnyArg(), r.DeliveryAttempts, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := store.Create(context.Background(), r)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPGReminderStore_Get_NotFound(t *testing.T) {
	mock, store := setupMockDB(t)

	mock.ExpectQuery("SELECT .* FROM reminders WHERE id").
		WithArgs(int64(99)).
		WillReturnError(errors.New("sql: no rows in result set"))

	_, err := store.Get(context.Background(), 99)
	if err == nil {
		t.Fatal("expected an error for missing reminder")
	}
}

func TestPGReminderStore_Cancel_NotFoundWhenNoRowsAffected(t *testing.T) {
	mock, store := setupMockDB(t)

	mock.ExpectExec("UPDATE reminders SET status='cancelled'").
		WithArgs(int64(5), "alice").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Cancel(context.Background(), 5, "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGReminderStore_ExpirePending(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Now()

	mock.ExpectExec("UPDATE reminders SET status='failed'").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ExpirePending(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpirePending returned error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 expired, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	if isDuplicateKey(nil) {
		t.Error("nil error should not be a duplicate key")
	}
	if !isDuplicateKey(errors.New("pq: duplicate key value violates unique constraint")) {
		t.Error("message containing 'duplicate key' should be detected")
	}
}
