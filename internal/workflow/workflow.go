package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dreamforge/dreamforge/internal/forge"
	"github.com/dreamforge/dreamforge/internal/history"
	"github.com/dreamforge/dreamforge/internal/models"
)

// ErrInsufficientCredits is returned when the balance cannot cover the
// generation cost. The collaborator is never invoked in that case.
var ErrInsufficientCredits = errors.New("not enough credits")

// Phase is one step of the per-request state machine:
// Idle → Validating → InFlight → {Succeeded, Failed} → Idle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseInFlight
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseValidating:
		return "validating"
	case PhaseInFlight:
		return "in_flight"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Generator is the generation collaborator.
type Generator interface {
	Generate(ctx context.Context, req forge.Request) (*forge.Image, error)
}

// Charger decrements the credit ledger after a successful generation.
type Charger interface {
	Charge(ctx context.Context, userID string, currentBalance, cost int) (int, error)
}

// Archiver uploads image bytes for a public URL. Optional.
type Archiver interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// AuditLog records successful generations server-side. Optional.
type AuditLog interface {
	Log(ctx context.Context, profileID, model, prompt string) error
}

// Request is one generation attempt. BalanceKnown false means the balance
// is still loading; validation fails closed in that case.
type Request struct {
	UserID       string
	Email        string
	Prompt       string
	Model        string
	Balance      int
	BalanceKnown bool

	// OnPhase and OnElapsed are observational hooks for UI feedback and
	// carry no correctness semantics.
	OnPhase   func(Phase)
	OnElapsed func(time.Duration)
}

// Result is the outcome of a successful (possibly partial) generation.
type Result struct {
	ImageURL     string
	Mime         string
	ArchiveURL   string
	NewBalance   int
	BalanceStale bool
	Elapsed      time.Duration
	HistoryItem  models.HistoryItem
}

// Workflow orchestrates a single generate-image request end to end.
type Workflow struct {
	log      *slog.Logger
	gen      Generator
	ledger   Charger
	history  *history.Store
	audit    AuditLog
	archiver Archiver
	cost     int
	tick     time.Duration
	now      func() time.Time
}

func New(log *slog.Logger, gen Generator, ledger Charger, hist *history.Store, audit AuditLog, archiver Archiver, cost int) *Workflow {
	if cost <= 0 {
		cost = 1
	}
	return &Workflow{
		log:      log,
		gen:      gen,
		ledger:   ledger,
		history:  hist,
		audit:    audit,
		archiver: archiver,
		cost:     cost,
		tick:     100 * time.Millisecond,
		now:      time.Now,
	}
}

// Cost returns the per-generation credit cost.
func (w *Workflow) Cost() int {
	return w.cost
}

// Run walks the request through the state machine. There is no
// cancellation once the collaborator call is dispatched: the request runs
// to completion or failure.
func (w *Workflow) Run(ctx context.Context, req Request) (*Result, error) {
	setPhase := func(p Phase) {
		if req.OnPhase != nil {
			req.OnPhase(p)
		}
	}
	defer setPhase(PhaseIdle)

	setPhase(PhaseValidating)
	if !req.BalanceKnown || req.Balance < w.cost {
		setPhase(PhaseFailed)
		return nil, ErrInsufficientCredits
	}
	if req.Prompt == "" {
		setPhase(PhaseFailed)
		return nil, fmt.Errorf("prompt cannot be empty")
	}
	if req.Model == "" {
		setPhase(PhaseFailed)
		return nil, fmt.Errorf("model cannot be empty")
	}

	setPhase(PhaseInFlight)
	start := w.now()
	stopTimer := w.startElapsedTimer(start, req.OnElapsed)

	image, err := w.gen.Generate(ctx, forge.Request{
		Prompt: req.Prompt,
		Model:  req.Model,
		Email:  req.Email,
	})
	stopTimer()
	if err != nil {
		setPhase(PhaseFailed)
		return nil, fmt.Errorf("generate image: %w", err)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", image.Mime, base64.StdEncoding.EncodeToString(image.Bytes))
	item := history.NewItem(req.Prompt, req.Model, dataURL, w.now())
	w.history.Append(req.UserID, item)

	if w.audit != nil {
		if err := w.audit.Log(ctx, req.UserID, req.Model, req.Prompt); err != nil {
			w.log.Error("audit log failed", "user", req.UserID, "err", err)
		}
	}

	result := &Result{
		ImageURL:    dataURL,
		Mime:        image.Mime,
		Elapsed:     w.now().Sub(start),
		HistoryItem: item,
	}

	if w.archiver != nil {
		url, err := w.archiver.Upload(ctx, image.Bytes, image.Mime)
		if err != nil {
			w.log.Error("image archival failed", "user", req.UserID, "err", err)
		} else {
			result.ArchiveURL = url
		}
	}

	newBalance, err := w.ledger.Charge(ctx, req.UserID, req.Balance, w.cost)
	if err != nil {
		// Partial failure: the image is already delivered, so keep it and
		// report that the balance may be stale.
		w.log.Error("charge after generation failed", "user", req.UserID, "err", err)
		result.NewBalance = req.Balance
		result.BalanceStale = true
	} else {
		result.NewBalance = newBalance
	}

	setPhase(PhaseSucceeded)
	return result, nil
}

// startElapsedTimer samples elapsed time at a fixed interval for UI
// feedback. The returned stop func is safe on every exit path.
func (w *Workflow) startElapsedTimer(start time.Time, onElapsed func(time.Duration)) func() {
	if onElapsed == nil {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.tick)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case t := <-ticker.C:
				onElapsed(t.Sub(start))
			}
		}
	}()
	var once bool
	return func() {
		if once {
			return
		}
		once = true
		close(done)
		<-stopped
	}
}
