package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dreamforge/dreamforge/internal/models"
)

var (
	// ErrInvalidCredentials is returned for unknown emails or wrong passwords.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrPasswordMismatch is returned when sign-up passwords do not match.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("email is already registered")
	// ErrInvalidToken is returned for expired or malformed session tokens.
	ErrInvalidToken = errors.New("invalid or expired session")
)

// Store is the profile persistence surface the controller needs.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*models.Profile, error)
	Create(ctx context.Context, profile *models.Profile) (*models.Profile, error)
	Role(ctx context.Context, id string) (string, error)
}

// Session identifies an authenticated user for the duration of a token.
type Session struct {
	UserID  string
	Email   string
	IsAdmin bool
}

// Change describes one session transition delivered to subscribers.
// Session is nil on sign-out.
type Change struct {
	Session *Session
}

// Controller issues session tokens, resolves roles and notifies
// subscribers on every session transition.
type Controller struct {
	store  Store
	log    *slog.Logger
	secret []byte
	ttl    time.Duration

	mu          sync.Mutex
	subscribers map[int]func(Change)
	nextSubID   int
	revoked     map[string]time.Time
}

func NewController(store Store, log *slog.Logger, secret string, ttl time.Duration) *Controller {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Controller{
		store:       store,
		log:         log,
		secret:      []byte(secret),
		ttl:         ttl,
		subscribers: make(map[int]func(Change)),
		revoked:     make(map[string]time.Time),
	}
}

// Subscribe registers a handler invoked on every session transition and
// returns an unsubscribe func.
func (c *Controller) Subscribe(handler func(Change)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = handler
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify(change Change) {
	c.mu.Lock()
	handlers := make([]func(Change), 0, len(c.subscribers))
	for _, h := range c.subscribers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(change)
	}
}

// SignUp registers a new user. The profile row is provisioned
// asynchronously, so callers reading it right away may briefly see no row.
func (c *Controller) SignUp(ctx context.Context, email, password, confirm string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return ErrInvalidCredentials
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	existing, err := c.store.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	profile := &models.Profile{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
	}

	go func() {
		if _, err := c.store.Create(context.Background(), profile); err != nil {
			c.log.Error("profile provisioning failed", "email", email, "err", err)
		}
	}()
	return nil
}

// SignIn verifies credentials and issues a session token.
func (c *Controller) SignIn(ctx context.Context, email, password string) (string, *Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	profile, err := c.store.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("find profile: %w", err)
	}
	if profile == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := c.issueToken(profile.ID, profile.Email)
	if err != nil {
		return "", nil, err
	}
	sess := &Session{
		UserID:  profile.ID,
		Email:   profile.Email,
		IsAdmin: c.resolveAdmin(ctx, profile.ID),
	}
	c.notify(Change{Session: sess})
	return token, sess, nil
}

// SignOut revokes the token and notifies subscribers of the empty session.
func (c *Controller) SignOut(token string) {
	c.mu.Lock()
	c.revoked[token] = time.Now().Add(c.ttl)
	for t, exp := range c.revoked {
		if time.Now().After(exp) {
			delete(c.revoked, t)
		}
	}
	c.mu.Unlock()
	c.notify(Change{Session: nil})
}

// Resolve validates a token and re-derives the session, including the
// admin role, from the current profile row.
func (c *Controller) Resolve(ctx context.Context, token string) (*Session, error) {
	c.mu.Lock()
	_, revoked := c.revoked[token]
	c.mu.Unlock()
	if revoked {
		return nil, ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	email := ""
	if len(claims.Audience) > 0 {
		email = claims.Audience[0]
	}
	return &Session{
		UserID:  claims.Subject,
		Email:   email,
		IsAdmin: c.resolveAdmin(ctx, claims.Subject),
	}, nil
}

// resolveAdmin reads the profile role. A missing row means not admin; any
// other read error is logged and also degrades to not admin.
func (c *Controller) resolveAdmin(ctx context.Context, userID string) bool {
	role, err := c.store.Role(ctx, userID)
	if err != nil {
		c.log.Error("role check failed, assuming non-admin", "user", userID, "err", err)
		return false
	}
	return role == models.RoleAdmin
}

func (c *Controller) issueToken(userID, email string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  jwt.ClaimStrings{email},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
