package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dreamforge/dreamforge/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	created  chan string
	roleErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: make(map[string]*models.Profile),
		created:  make(chan string, 8),
	}
}

func (f *fakeStore) FindByEmail(ctx context.Context, email string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Create(ctx context.Context, profile *models.Profile) (*models.Profile, error) {
	f.mu.Lock()
	f.profiles[profile.ID] = profile
	f.mu.Unlock()
	f.created <- profile.ID
	return profile, nil
}

func (f *fakeStore) Role(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return "", f.roleErr
	}
	p, ok := f.profiles[id]
	if !ok {
		// Missing row reads as empty role, mirroring the repository.
		return "", nil
	}
	return p.Role, nil
}

func (f *fakeStore) addUser(t *testing.T, email, password, role string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	id := "user-" + email
	f.mu.Lock()
	f.profiles[id] = &models.Profile{ID: id, Email: email, PasswordHash: string(hash), Role: role}
	f.mu.Unlock()
	return id
}

func newTestController(store Store) *Controller {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(store, log, "test-secret", time.Hour)
}

func TestSignUpPasswordMismatch(t *testing.T) {
	c := newTestController(newFakeStore())
	err := c.SignUp(context.Background(), "fox@example.com", "secret", "different")
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("err = %v, want ErrPasswordMismatch", err)
	}
}

func TestSignUpProvisionsProfileAsynchronously(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store)
	if err := c.SignUp(context.Background(), "fox@example.com", "secret", "secret"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	select {
	case <-store.created:
	case <-time.After(2 * time.Second):
		t.Fatal("profile was never provisioned")
	}
	p, err := store.FindByEmail(context.Background(), "fox@example.com")
	if err != nil || p == nil {
		t.Fatalf("profile not found after provisioning: %v", err)
	}
	if p.PasswordHash == "secret" {
		t.Fatal("password stored in plain text")
	}
}

func TestSignInAndResolve(t *testing.T) {
	store := newFakeStore()
	id := store.addUser(t, "fox@example.com", "secret", "")
	c := newTestController(store)

	token, sess, err := c.SignIn(context.Background(), "fox@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.UserID != id || sess.IsAdmin {
		t.Fatalf("session = %+v", sess)
	}

	resolved, err := c.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.UserID != id || resolved.Email != "fox@example.com" {
		t.Fatalf("resolved = %+v", resolved)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "fox@example.com", "secret", "")
	c := newTestController(store)

	if _, _, err := c.SignIn(context.Background(), "fox@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAdminRoleResolution(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "admin@example.com", "secret", models.RoleAdmin)
	c := newTestController(store)

	_, sess, err := c.SignIn(context.Background(), "admin@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !sess.IsAdmin {
		t.Fatal("expected admin session")
	}
}

func TestRoleCheckErrorDegradesToNonAdmin(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "admin@example.com", "secret", models.RoleAdmin)
	store.roleErr = errors.New("read rejected")
	c := newTestController(store)

	_, sess, err := c.SignIn(context.Background(), "admin@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn should succeed despite role check failure, got %v", err)
	}
	if sess.IsAdmin {
		t.Fatal("role check failure must degrade to non-admin")
	}
}

func TestSignOutRevokesToken(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "fox@example.com", "secret", "")
	c := newTestController(store)

	token, _, err := c.SignIn(context.Background(), "fox@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	c.SignOut(token)
	if _, err := c.Resolve(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken after sign-out", err)
	}
}

func TestSubscribeDeliversTransitions(t *testing.T) {
	store := newFakeStore()
	store.addUser(t, "fox@example.com", "secret", "")
	c := newTestController(store)

	var mu sync.Mutex
	var changes []Change
	unsubscribe := c.Subscribe(func(ch Change) {
		mu.Lock()
		changes = append(changes, ch)
		mu.Unlock()
	})

	token, _, err := c.SignIn(context.Background(), "fox@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	c.SignOut(token)

	mu.Lock()
	got := append([]Change(nil), changes...)
	mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("changes = %d, want 2", len(got))
	}
	if got[0].Session == nil || got[0].Session.Email != "fox@example.com" {
		t.Fatalf("first change = %+v, want signed-in session", got[0])
	}
	if got[1].Session != nil {
		t.Fatalf("second change = %+v, want empty session", got[1])
	}

	unsubscribe()
	if _, _, err := c.SignIn(context.Background(), "fox@example.com", "secret"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	mu.Lock()
	after := len(changes)
	mu.Unlock()
	if after != 2 {
		t.Fatalf("changes after unsubscribe = %d, want 2", after)
	}
}

func TestResolveRejectsGarbageToken(t *testing.T) {
	c := newTestController(newFakeStore())
	if _, err := c.Resolve(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
