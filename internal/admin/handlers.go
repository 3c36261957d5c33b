package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dreamforge/dreamforge/internal/models"
)

// Store is the profile persistence surface the admin panel needs.
type Store interface {
	ListWithEmail(ctx context.Context) ([]models.Profile, error)
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	SetCredits(ctx context.Context, id string, credits int) error
	SetPro(ctx context.Context, id string, isPro bool) error
}

// Activity is the generation audit surface backing the per-profile
// usage view.
type Activity interface {
	CountForDay(ctx context.Context, profileID string, day time.Time) (int, error)
	ListForDay(ctx context.Context, profileID string, day time.Time) ([]models.GenerationLog, error)
}

// Handlers implements the admin panel: bulk view of all profiles,
// per-row credit/tier mutations and a per-profile usage view. Callers
// must mount it behind an admin-only middleware.
type Handlers struct {
	log      *slog.Logger
	store    Store
	activity Activity
	now      func() time.Time
}

func New(log *slog.Logger, store Store, activity Activity) *Handlers {
	return &Handlers{log: log, store: store, activity: activity, now: time.Now}
}

func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/profiles", h.handleListProfiles)
	r.Get("/profiles/{id}/generations", h.handleGenerations)
	r.Put("/profiles/{id}/credits", h.handleSetCredits)
	r.Put("/profiles/{id}/pro", h.handleSetPro)
	return r
}

type profileResponse struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	Credits            int        `json:"credits"`
	IsPro              bool       `json:"is_pro"`
	Role               string     `json:"role,omitempty"`
	LastCreditRewardAt *time.Time `json:"last_credit_reward_at,omitempty"`
}

func toProfileResponse(p models.Profile) profileResponse {
	return profileResponse{
		ID:                 p.ID,
		Email:              p.Email,
		Credits:            p.Credits,
		IsPro:              p.IsPro,
		Role:               p.Role,
		LastCreditRewardAt: p.LastCreditRewardAt,
	}
}

// handleListProfiles lists every profile with a non-empty email, ordered
// by email ascending. The optional q parameter narrows the response by
// case-insensitive email substring without touching the underlying set.
func (h *Handlers) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListWithEmail(r.Context())
	if err != nil {
		h.internalError(w, err)
		return
	}

	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	out := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		if q != "" && !strings.Contains(strings.ToLower(p.Email), q) {
			continue
		}
		out = append(out, toProfileResponse(p))
	}
	h.writeJSON(w, http.StatusOK, out)
}

type generationResponse struct {
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

type activityResponse struct {
	Count int                  `json:"count"`
	Items []generationResponse `json:"items"`
}

// handleGenerations reports the profile's generations for the current
// day: a total count plus the individual records, most recent first.
func (h *Handlers) handleGenerations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	profile, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if profile == nil {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}

	day := h.now()
	count, err := h.activity.CountForDay(r.Context(), id, day)
	if err != nil {
		h.internalError(w, err)
		return
	}
	logs, err := h.activity.ListForDay(r.Context(), id, day)
	if err != nil {
		h.internalError(w, err)
		return
	}

	resp := activityResponse{Count: count, Items: make([]generationResponse, 0, len(logs))}
	for _, l := range logs {
		resp.Items = append(resp.Items, generationResponse{Model: l.Model, Prompt: l.Prompt, CreatedAt: l.CreatedAt})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type creditsRequest struct {
	// Credits arrives as a string straight from the panel's input field.
	Credits string `json:"credits"`
}

func (h *Handlers) handleSetCredits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req creditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	credits, err := strconv.Atoi(strings.TrimSpace(req.Credits))
	if err != nil || credits < 0 {
		http.Error(w, "please enter a valid non-negative number for credits", http.StatusBadRequest)
		return
	}

	profile, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if profile == nil {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}

	if err := h.store.SetCredits(r.Context(), id, credits); err != nil {
		http.Error(w, "failed to update credits (details: "+err.Error()+")", http.StatusInternalServerError)
		return
	}
	profile.Credits = credits
	h.writeJSON(w, http.StatusOK, toProfileResponse(*profile))
}

type proRequest struct {
	// Nil toggles the current value; a concrete value sets it.
	IsPro *bool `json:"is_pro"`
}

func (h *Handlers) handleSetPro(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req proRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	profile, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if profile == nil {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}

	newIsPro := !profile.IsPro
	if req.IsPro != nil {
		newIsPro = *req.IsPro
	}

	if err := h.store.SetPro(r.Context(), id, newIsPro); err != nil {
		http.Error(w, "failed to update pro status (details: "+err.Error()+")", http.StatusInternalServerError)
		return
	}
	profile.IsPro = newIsPro
	h.writeJSON(w, http.StatusOK, toProfileResponse(*profile))
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) internalError(w http.ResponseWriter, err error) {
	h.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
