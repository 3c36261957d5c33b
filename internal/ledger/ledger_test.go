package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dreamforge/dreamforge/internal/models"
)

type fakeStore struct {
	mu         sync.Mutex
	profile    *models.Profile
	hiddenFor  int
	finds      int
	findErr    error
	setErr     error
	rewardErr  error
	setCalls   int
	setCredits int
}

func (f *fakeStore) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.finds <= f.hiddenFor {
		return nil, nil
	}
	if f.profile == nil {
		return nil, nil
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeStore) SetCredits(ctx context.Context, id string, credits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.setCalls++
	f.setCredits = credits
	if f.profile != nil {
		f.profile.Credits = credits
	}
	return nil
}

func (f *fakeStore) ApplyReward(ctx context.Context, id string, reward int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rewardErr != nil {
		return f.rewardErr
	}
	f.profile.Credits += reward
	t := at
	f.profile.LastCreditRewardAt = &t
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(store *fakeStore) *Ledger {
	return New(store, discardLogger(), RetryPolicy{MaxAttempts: 4, Delay: time.Millisecond}, 5, 100)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestInitializeGrantsFirstReward(t *testing.T) {
	store := &fakeStore{profile: &models.Profile{ID: "u1", Credits: 0}}
	l := newTestLedger(store)

	balance, err := l.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if balance != 5 {
		t.Fatalf("balance = %d, want 5", balance)
	}
	if store.profile.LastCreditRewardAt == nil {
		t.Fatal("last reward timestamp not set")
	}
}

func TestInitializeRewardsYesterdayFreeUser(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.Local)
	store := &fakeStore{profile: &models.Profile{
		ID:                 "u1",
		Credits:            3,
		LastCreditRewardAt: timePtr(now.AddDate(0, 0, -1)),
	}}
	l := newTestLedger(store)
	l.now = func() time.Time { return now }

	balance, err := l.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if balance != 8 {
		t.Fatalf("balance = %d, want 8", balance)
	}
	if got := store.profile.LastCreditRewardAt; got == nil || !got.Equal(now) {
		t.Fatalf("last reward = %v, want %v", got, now)
	}
}

func TestInitializeIdempotentWithinDay(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.Local)
	store := &fakeStore{profile: &models.Profile{ID: "u1", Credits: 3}}
	l := newTestLedger(store)
	l.now = func() time.Time { return now }

	first, err := l.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("first Initialize: %v", err)
	}
	second, err := l.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if first != 8 || second != 8 {
		t.Fatalf("balances = %d, %d, want 8, 8 (reward granted at most once per day)", first, second)
	}
}

func TestInitializeLateSameDayDoesNotReward(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 59, 0, 0, time.Local)
	store := &fakeStore{profile: &models.Profile{
		ID:                 "u1",
		Credits:            7,
		LastCreditRewardAt: timePtr(time.Date(2026, 3, 10, 0, 1, 0, 0, time.Local)),
	}}
	l := newTestLedger(store)
	l.now = func() time.Time { return now }

	balance, err := l.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if balance != 7 {
		t.Fatalf("balance = %d, want 7 (same calendar day)", balance)
	}
}

func TestInitializeProReward(t *testing.T) {
	store := &fakeStore{profile: &models.Profile{ID: "u1", Credits: 1, IsPro: true}}
	l := newTestLedger(store)

	balance, err := l.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if balance != 101 {
		t.Fatalf("balance = %d, want 101", balance)
	}
}

func TestInitializeRewardWriteFailureDegrades(t *testing.T) {
	store := &fakeStore{
		profile:   &models.Profile{ID: "u1", Credits: 3},
		rewardErr: errors.New("write rejected"),
	}
	l := newTestLedger(store)

	balance, err := l.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Initialize should not fail on reward write error, got %v", err)
	}
	if balance != 3 {
		t.Fatalf("balance = %d, want un-rewarded 3", balance)
	}
}

func TestInitializeRetriesUntilProfileVisible(t *testing.T) {
	store := &fakeStore{
		profile:   &models.Profile{ID: "u1", Credits: 2},
		hiddenFor: 2,
	}
	l := newTestLedger(store)

	balance, err := l.Initialize(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if balance != 7 {
		t.Fatalf("balance = %d, want 7", balance)
	}
	if store.finds != 3 {
		t.Fatalf("finds = %d, want 3", store.finds)
	}
}

func TestInitializeExhaustsRetries(t *testing.T) {
	store := &fakeStore{hiddenFor: 100}
	l := newTestLedger(store)

	balance, err := l.Initialize(context.Background(), "u1")
	if !errors.Is(err, ErrProfileNotVisible) {
		t.Fatalf("err = %v, want ErrProfileNotVisible", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0 on failure", balance)
	}
	if store.finds != 4 {
		t.Fatalf("finds = %d, want 4 attempts", store.finds)
	}
}

func TestChargeWritesNewBalance(t *testing.T) {
	store := &fakeStore{profile: &models.Profile{ID: "u1", Credits: 5}}
	l := newTestLedger(store)

	balance, err := l.Charge(context.Background(), "u1", 5, 1)
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if balance != 4 {
		t.Fatalf("balance = %d, want 4", balance)
	}
	if store.setCredits != 4 {
		t.Fatalf("stored = %d, want 4", store.setCredits)
	}
}

func TestChargeNeverStoresNegative(t *testing.T) {
	store := &fakeStore{profile: &models.Profile{ID: "u1", Credits: 3}}
	l := newTestLedger(store)

	if _, err := l.Charge(context.Background(), "u1", 3, 3); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if store.setCredits < 0 {
		t.Fatalf("stored balance %d is negative", store.setCredits)
	}
}

func TestChargeSurfacesWriteFailure(t *testing.T) {
	store := &fakeStore{
		profile: &models.Profile{ID: "u1", Credits: 5},
		setErr:  errors.New("write rejected"),
	}
	l := newTestLedger(store)

	balance, err := l.Charge(context.Background(), "u1", 5, 1)
	if err == nil {
		t.Fatal("expected error from failed charge write")
	}
	if balance != 5 {
		t.Fatalf("balance = %d, want untouched 5", balance)
	}
}
