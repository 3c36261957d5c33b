package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dreamforge/dreamforge/internal/admin"
	"github.com/dreamforge/dreamforge/internal/history"
	"github.com/dreamforge/dreamforge/internal/ledger"
	"github.com/dreamforge/dreamforge/internal/models"
	"github.com/dreamforge/dreamforge/internal/session"
	"github.com/dreamforge/dreamforge/internal/workflow"
)

// ModelCatalog lists the available image models.
type ModelCatalog interface {
	ImageModels(ctx context.Context) ([]models.HordeModel, error)
}

// Deps bundles the services the API handlers orchestrate.
type Deps struct {
	Catalog       ModelCatalog
	Ledger        *ledger.Ledger
	Workflow      *workflow.Workflow
	History       *history.Store
	AdminStore    admin.Store
	AdminActivity admin.Activity
}

type signUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.sessions.SignUp(r.Context(), req.Email, req.Password, req.ConfirmPassword); err != nil {
		switch {
		case errors.Is(err, session.ErrPasswordMismatch),
			errors.Is(err, session.ErrEmailTaken),
			errors.Is(err, session.ErrInvalidCredentials):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.internalError(w, err)
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "account created, you can sign in now",
	})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	token, sess, err := s.sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"user_id":  sess.UserID,
		"email":    sess.Email,
		"is_admin": sess.IsAdmin,
	})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	s.sessions.SignOut(bearerToken(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Catalog.ImageModels(r.Context())
	if err != nil {
		s.log.Error("fetch models failed", "err", err)
		http.Error(w, "failed to fetch available models, please try again later", http.StatusBadGateway)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleCredits initializes the ledger for the session's user, applying
// the daily reward when due, and returns the current balance.
func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	balance, err := s.deps.Ledger.Initialize(r.Context(), sess.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrProfileNotVisible) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"credits": balance,
		"cost":    s.deps.Workflow.Cost(),
	})
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	balance, balanceKnown := 0, false
	if b, err := s.deps.Ledger.Initialize(r.Context(), sess.UserID); err == nil {
		balance, balanceKnown = b, true
	} else {
		s.log.Error("balance load before generation failed", "user", sess.UserID, "err", err)
	}

	result, err := s.deps.Workflow.Run(r.Context(), workflow.Request{
		UserID:       sess.UserID,
		Email:        sess.Email,
		Prompt:       req.Prompt,
		Model:        req.Model,
		Balance:      balance,
		BalanceKnown: balanceKnown,
	})
	if err != nil {
		if errors.Is(err, workflow.ErrInsufficientCredits) {
			http.Error(w, "not enough credits", http.StatusPaymentRequired)
			return
		}
		s.log.Error("generation failed", "user", sess.UserID, "err", err)
		http.Error(w, "an error occurred during image generation, please check your inputs and try again", http.StatusBadGateway)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"image_url":     result.ImageURL,
		"archive_url":   result.ArchiveURL,
		"credits":       result.NewBalance,
		"balance_stale": result.BalanceStale,
		"elapsed_ms":    result.Elapsed.Milliseconds(),
		"history_item":  result.HistoryItem,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	items := s.deps.History.List(sess.UserID)
	if items == nil {
		items = []models.HistoryItem{}
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("api handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
