package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dreamforge/dreamforge/internal/models"
)

// ErrProfileNotVisible is returned when the profile row is still missing
// after the retry budget is exhausted. Fresh sign-ups provision the row
// asynchronously, so a short window of absence is expected.
var ErrProfileNotVisible = errors.New("profile not visible yet, please refresh and try again")

// Store is the minimal profile persistence surface the ledger needs.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	SetCredits(ctx context.Context, id string, credits int) error
	ApplyReward(ctx context.Context, id string, reward int, at time.Time) error
}

// RetryPolicy bounds the profile fetch retry loop.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy matches the provisioning window observed in practice.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, Delay: 1500 * time.Millisecond}

// Ledger maintains the user's spendable credit balance and applies the
// daily reward rule.
type Ledger struct {
	store      Store
	log        *slog.Logger
	retry      RetryPolicy
	freeReward int
	proReward  int
	now        func() time.Time
}

func New(store Store, log *slog.Logger, retry RetryPolicy, freeReward, proReward int) *Ledger {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	return &Ledger{
		store:      store,
		log:        log,
		retry:      retry,
		freeReward: freeReward,
		proReward:  proReward,
		now:        time.Now,
	}
}

// Initialize loads the profile and applies the daily reward when due.
// It returns the current balance, post-reward if one was granted. A failed
// reward write degrades to the un-rewarded balance rather than failing the
// whole call.
func (l *Ledger) Initialize(ctx context.Context, userID string) (int, error) {
	profile, err := l.fetchWithRetry(ctx, userID)
	if err != nil {
		return 0, err
	}

	if !rewardDue(profile.LastCreditRewardAt, l.now()) {
		return profile.Credits, nil
	}

	reward := l.freeReward
	if profile.IsPro {
		reward = l.proReward
	}
	if err := l.store.ApplyReward(ctx, userID, reward, l.now()); err != nil {
		l.log.Error("daily reward write failed, keeping un-rewarded balance", "user", userID, "err", err)
		return profile.Credits, nil
	}
	return profile.Credits + reward, nil
}

// Charge writes the post-spend balance. The caller validates sufficiency
// beforehand; there is no server-side guard against concurrent double-spend
// from multiple sessions, which is an accepted limitation.
func (l *Ledger) Charge(ctx context.Context, userID string, currentBalance, cost int) (int, error) {
	newBalance := currentBalance - cost
	if err := l.store.SetCredits(ctx, userID, newBalance); err != nil {
		return currentBalance, fmt.Errorf("charge credits: %w", err)
	}
	return newBalance, nil
}

func (l *Ledger) fetchWithRetry(ctx context.Context, userID string) (*models.Profile, error) {
	for attempt := 1; ; attempt++ {
		profile, err := l.store.FindByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("fetch profile: %w", err)
		}
		if profile != nil {
			return profile, nil
		}
		if attempt >= l.retry.MaxAttempts {
			return nil, ErrProfileNotVisible
		}
		l.log.Info("profile not visible yet, retrying", "user", userID, "attempt", attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry.Delay):
		}
	}
}

// rewardDue reports whether the daily reward should be granted: never
// rewarded before, or last rewarded on a calendar day strictly before
// today's (local time, midnight aligned).
func rewardDue(lastRewardAt *time.Time, now time.Time) bool {
	if lastRewardAt == nil {
		return true
	}
	last := lastRewardAt.In(now.Location())
	lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, now.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return lastDay.Before(today)
}
