package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gearflow/listing"
	"gearflow/session"
)

type sessionCommands interface {
	Signup(ctx context.Context, params session.SignupParams) (session.AuthResult, error)
	Login(ctx context.Context, email, password string) (session.AuthResult, error)
	SignInWithGoogle(ctx context.Context, requestedRole session.Role) (session.AuthResult, error)
	ResetPassword(ctx context.Context, email string) error
	Logout(ctx context.Context) error
	Snapshot() session.Snapshot
}

type tokenIssuer interface {
	IssueToken(ident session.Identity) (string, error)
	VerifyToken(tokenString string) (string, string, error)
}

type listingService interface {
	GetByID(ctx context.Context, id string) (listing.Listing, error)
	List(ctx context.Context, ownerUID string, limit int) ([]listing.Listing, error)
}

// Server exposes the coordinator's command surface and the listings read
// surface over HTTP.
type Server struct {
	sessions sessionCommands
	tokens   tokenIssuer
	listings listingService
	logger   *slog.Logger
}

func newServer(sessions sessionCommands, tokens tokenIssuer, listings listingService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions: sessions,
		tokens:   tokens,
		listings: listings,
		logger:   logger,
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/signup", s.handleSignup)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/auth/google", s.handleGoogle)
	mux.HandleFunc("/api/auth/logout", s.handleLogout)
	mux.HandleFunc("/api/auth/reset", s.handleReset)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/listings", s.handleListings)
	mux.HandleFunc("/api/listings/", s.handleListingDetail)
	return mux
}

type signupRequest struct {
	Email       string            `json:"email"`
	Password    string            `json:"password"`
	DisplayName string            `json:"displayName"`
	Role        string            `json:"role"`
	Extras      map[string]string `json:"extras,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleRequest struct {
	Role string `json:"role"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type authResponse struct {
	Token         string `json:"token"`
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
	Role          string `json:"role"`
}

type sessionResponse struct {
	Identity     *identityResponse `json:"identity"`
	Role         string            `json:"role,omitempty"`
	Initializing bool              `json:"initializing"`
	Ready        bool              `json:"ready"`
}

type identityResponse struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
}

type listingResponse struct {
	ID        string  `json:"id"`
	OwnerUID  string  `json:"ownerUid"`
	Title     string  `json:"title"`
	Category  string  `json:"category"`
	DailyRate float64 `json:"dailyRate"`
	Available bool    `json:"available"`
	CreatedAt string  `json:"createdAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := s.sessions.Signup(r.Context(), session.SignupParams{
		Email:         req.Email,
		Password:      req.Password,
		DisplayName:   req.DisplayName,
		RequestedRole: session.Role(req.Role),
		Extras:        req.Extras,
	})
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.writeAuthResult(w, http.StatusCreated, result)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	result, err := s.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.writeAuthResult(w, http.StatusOK, result)
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req googleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	result, err := s.sessions.SignInWithGoogle(r.Context(), session.Role(req.Role))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.writeAuthResult(w, http.StatusOK, result)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := s.sessions.Logout(r.Context()); err != nil {
		s.writeAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := s.sessions.ResetPassword(r.Context(), req.Email); err != nil {
		s.writeAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap := s.sessions.Snapshot()
	resp := sessionResponse{
		Role:         string(snap.Role),
		Initializing: snap.Initializing,
		Ready:        snap.Ready,
	}
	if snap.Identity != nil {
		resp.Identity = &identityResponse{
			UID:           snap.Identity.UID,
			Email:         snap.Identity.Email,
			DisplayName:   snap.Identity.DisplayName,
			EmailVerified: snap.Identity.EmailVerified,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	owner := ""
	if r.URL.Query().Get("owner") == "me" {
		uid, ok := s.bearerUID(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "valid bearer token required")
			return
		}
		owner = uid
	}

	listings, err := s.listings.List(r.Context(), owner, limit)
	if err != nil {
		s.logger.Error("list listings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		items = append(items, toListingResponse(l))
	}

	writeJSON(w, http.StatusOK, struct {
		Items []listingResponse `json:"items"`
		Total int               `json:"total"`
	}{Items: items, Total: len(items)})
}

func (s *Server) handleListingDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/listings/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "listing id is required")
		return
	}

	l, err := s.listings.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		s.logger.Error("get listing failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, toListingResponse(l))
}

// bearerUID extracts and verifies the Authorization bearer token.
func (s *Server) bearerUID(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	uid, _, err := s.tokens.VerifyToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return "", false
	}
	return uid, true
}

func (s *Server) writeAuthResult(w http.ResponseWriter, status int, result session.AuthResult) {
	token, err := s.tokens.IssueToken(result.Identity)
	if err != nil {
		s.logger.Error("issue token failed", "uid", result.Identity.UID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, status, authResponse{
		Token:         token,
		UID:           result.Identity.UID,
		Email:         result.Identity.Email,
		DisplayName:   result.Identity.DisplayName,
		EmailVerified: result.Identity.EmailVerified,
		Role:          string(result.Role),
	})
}

// writeAuthError maps the session error taxonomy onto HTTP statuses:
// credential problems belong to the caller, provider problems are upstream.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	var ce *session.CredentialError
	if errors.As(err, &ce) {
		status := http.StatusUnauthorized
		if strings.Contains(ce.Reason, "already registered") {
			status = http.StatusConflict
		}
		writeError(w, status, ce.Reason)
		return
	}

	var pe *session.ProviderError
	if errors.As(err, &pe) {
		s.logger.Error("provider failure", "op", pe.Op, "error", pe.Err)
		writeError(w, http.StatusBadGateway, "identity provider unavailable")
		return
	}

	s.logger.Error("unexpected auth failure", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func toListingResponse(l listing.Listing) listingResponse {
	return listingResponse{
		ID:        l.ID,
		OwnerUID:  l.OwnerUID,
		Title:     l.Title,
		Category:  l.Category,
		DailyRate: l.DailyRate,
		Available: l.Available,
		CreatedAt: l.CreatedAt.Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
