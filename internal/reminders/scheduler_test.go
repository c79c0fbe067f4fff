package reminders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

type fakeStore struct {
	mu        sync.Mutex
	reminders map[int64]*models.Reminder
	nextID    int64
}

func newFakeStore() *fakeStore { return &fakeStore{reminders: map[int64]*models.Reminder{}} }

func (s *fakeStore) Create(ctx context.Context, r *models.Reminder) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.ID = s.nextID
	cp := *r
	s.reminders[r.ID] = &cp
	return r.ID, nil
}

func (s *fakeStore) Get(ctx context.Context, id int64) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) Update(ctx context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.reminders[r.ID] = &cp
	return nil
}

func (s *fakeStore) Cancel(ctx context.Context, id int64, creatorNick string) error { return nil }

func (s *fakeStore) CountPending(ctx context.Context, creatorNick string) (int, error) { return 0, nil }

func (s *fakeStore) ListDueTime(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reminder
	for _, r := range s.reminders {
		if r.Type == models.ReminderTime && r.Status == models.ReminderPending && !r.DeliverAt.After(now) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) PullJoinReminders(ctx context.Context, nick, channel string) ([]*models.Reminder, error) {
	return nil, nil
}

func (s *fakeStore) ListPendingForUser(ctx context.Context, nick string) ([]*models.Reminder, error) {
	return nil, nil
}

func (s *fakeStore) ExpirePending(ctx context.Context, now time.Time) (int, error) { return 0, nil }

type fakeIRC struct {
	mu        sync.Mutex
	online    map[string]bool
	sent      []string
	statusErr error
}

func (f *fakeIRC) UserStatus(ctx context.Context, channel, nick string) (bool, error) {
	if f.statusErr != nil {
		return false, f.statusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[nick], nil
}

func (f *fakeIRC) SendMessage(ctx context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func TestScheduler_DeliversWhenOnlineAndMarksDelivered(t *testing.T) {
	store := newFakeStore()
	id, _ := store.Create(context.Background(), &models.Reminder{
		CreatorNick: "bob", TargetNick: "bob", Channel: "#x", Message: "tea",
		Type: models.ReminderTime, DeliverAt: time.Now().Add(-time.Second), Status: models.ReminderPending,
	})
	irc := &fakeIRC{online: map[string]bool{"bob": true}}
	sched := New(store, irc, Config{}, nil)

	sched.tick(context.Background())

	got, _ := store.Get(context.Background(), id)
	if got.Status != models.ReminderDelivered {
		t.Fatalf("expected delivered, got %s", got.Status)
	}
	if len(irc.sent) != 1 || irc.sent[0] != "bob: Reminder: tea" {
		t.Fatalf("unexpected sent messages: %v", irc.sent)
	}
}

func TestScheduler_IncrementsAttemptsWhenOffline(t *testing.T) {
	store := newFakeStore()
	id, _ := store.Create(context.Background(), &models.Reminder{
		CreatorNick: "bob", TargetNick: "bob", Channel: "#x", Message: "tea",
		Type: models.ReminderTime, DeliverAt: time.Now().Add(-time.Second), Status: models.ReminderPending,
	})
	irc := &fakeIRC{online: map[string]bool{}}
	sched := New(store, irc, Config{}, nil)

	sched.tick(context.Background())

	got, _ := store.Get(context.Background(), id)
	if got.Status != models.ReminderPending {
		t.Fatalf("expected still pending, got %s", got.Status)
	}
	if got.DeliveryAttempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.DeliveryAttempts)
	}
}

func TestScheduler_FailsAfterMaxAttempts(t *testing.T) {
	store := newFakeStore()
	id, _ := store.Create(context.Background(), &models.Reminder{
		CreatorNick: "bob", TargetNick: "bob", Channel: "#x", Message: "tea",
		Type: models.ReminderTime, DeliverAt: time.Now().Add(-time.Second), Status: models.ReminderPending,
		DeliveryAttempts: models.MaxDeliveryAttempts - 1,
	})
	irc := &fakeIRC{online: map[string]bool{}}
	sched := New(store, irc, Config{}, nil)

	sched.tick(context.Background())

	got, _ := store.Get(context.Background(), id)
	if got.Status != models.ReminderFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestScheduler_RecurringAdvancesDeliverAtFromItself(t *testing.T) {
	store := newFakeStore()
	original := time.Now().Add(-time.Second)
	id, _ := store.Create(context.Background(), &models.Reminder{
		CreatorNick: "bob", TargetNick: "bob", Channel: "#x", Message: "standup",
		Type: models.ReminderTime, DeliverAt: original, Status: models.ReminderPending,
		Recurrence: models.RecurrenceDaily,
	})
	irc := &fakeIRC{online: map[string]bool{"bob": true}}
	sched := New(store, irc, Config{}, nil)

	sched.tick(context.Background())

	got, _ := store.Get(context.Background(), id)
	if got.Status != models.ReminderPending {
		t.Fatalf("expected recurring reminder to stay pending, got %s", got.Status)
	}
	if !got.DeliverAt.Equal(original.Add(24 * time.Hour)) {
		t.Fatalf("expected deliver_at advanced from itself, got %v want %v", got.DeliverAt, original.Add(24*time.Hour))
	}
}

func TestScheduler_PrefixesMessageWhenCreatorDiffersFromTarget(t *testing.T) {
	store := newFakeStore()
	store.Create(context.Background(), &models.Reminder{
		CreatorNick: "alice", TargetNick: "bob", Channel: "#x", Message: "meeting",
		Type: models.ReminderTime, DeliverAt: time.Now().Add(-time.Second), Status: models.ReminderPending,
	})
	irc := &fakeIRC{online: map[string]bool{"bob": true}}
	sched := New(store, irc, Config{}, nil)

	sched.tick(context.Background())

	if len(irc.sent) != 1 || irc.sent[0] != "bob: Reminder from alice: meeting" {
		t.Fatalf("unexpected sent messages: %v", irc.sent)
	}
}

func TestScheduler_StartStopIsIdempotentAndStoppable(t *testing.T) {
	store := newFakeStore()
	irc := &fakeIRC{}
	sched := New(store, irc, Config{StartupGrace: time.Millisecond, PollInterval: time.Millisecond}, nil)

	sched.Start(context.Background())
	sched.Start(context.Background()) // second Start is a no-op
	time.Sleep(5 * time.Millisecond)
	sched.Stop()
	sched.Stop() // second Stop is a no-op
}
