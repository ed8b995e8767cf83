// Package web exposes the JSON API: login plus reservation CRUD for the
// authenticated user.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/gym-scheduler/internal/auth"
	"github.com/example/gym-scheduler/internal/db"
	"github.com/example/gym-scheduler/internal/engine"
	"github.com/example/gym-scheduler/internal/occurrence"
	"github.com/example/gym-scheduler/internal/reservations"
)

// Store is the subset of the reservations repository the API needs.
type Store interface {
	UserByEmail(ctx context.Context, email string) (reservations.User, error)
	UserByID(ctx context.Context, id int64) (reservations.User, error)
	UpsertUser(ctx context.Context, email, passwordEnc string) (reservations.User, error)
	Create(ctx context.Context, res reservations.Reservation) (int64, error)
	GetByID(ctx context.Context, id int64) (reservations.Reservation, error)
	ListByUser(ctx context.Context, userID int64) ([]reservations.Reservation, error)
	LogsByReservation(ctx context.Context, reservationID int64, limit int) ([]reservations.LogEntry, error)
}

// Lifecycle wires reservations into the scheduler and provider.
type Lifecycle interface {
	OnCreate(ctx context.Context, res reservations.Reservation) error
	OnDelete(ctx context.Context, res reservations.Reservation) error
	SetActive(ctx context.Context, res reservations.Reservation, active bool) error
}

// Vault encrypts stored provider passwords and decrypts them for comparison.
type Vault interface {
	EncryptToString(plaintext string) (string, error)
	DecryptString(ciphertext string) (string, error)
}

type Server struct {
	Store    Store
	Life     Lifecycle
	Vault    Vault
	Provider engine.Provider
	Tokens   *auth.Tokens
	Now      func() time.Time
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.Tokens.Middleware)
			r.Post("/reservations", s.handleReservationCreate)
			r.Get("/reservations", s.handleReservationList)
			r.Put("/reservations/{id}", s.handleReservationSetActive)
			r.Delete("/reservations/{id}", s.handleReservationDelete)
			r.Get("/reservations/{id}/logs", s.handleReservationLogs)
		})
	})

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

// handleLogin authenticates against the gym provider on first login and
// whenever the supplied password differs from the stored one. A returning user
// with an unchanged password skips the provider round trip.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		jsonError(w, "email and password are required", http.StatusBadRequest)
		return
	}

	verify := true
	user, err := s.Store.UserByEmail(r.Context(), req.Email)
	switch {
	case err == nil:
		stored, derr := s.Vault.DecryptString(user.PasswordEnc)
		if derr == nil && stored == req.Password {
			verify = false
		}
	case db.IsNotFound(err):
		// first login, provider check below
	default:
		log.Printf("web: login lookup %s: %v", req.Email, err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	if verify {
		if _, err := s.Provider.Authenticate(r.Context(), req.Email, req.Password); err != nil {
			jsonError(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		enc, err := s.Vault.EncryptToString(req.Password)
		if err != nil {
			log.Printf("web: encrypt password: %v", err)
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		user, err = s.Store.UpsertUser(r.Context(), req.Email, enc)
		if err != nil {
			log.Printf("web: upsert user %s: %v", req.Email, err)
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	token, err := s.Tokens.Issue(user.ID, user.Email)
	if err != nil {
		log.Printf("web: issue token: %v", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: user.ID, Email: user.Email})
}

type createReservationRequest struct {
	Weekday   string `json:"weekday"`
	ClassTime string `json:"class_time"`
	Center    string `json:"center"`
	ClassName string `json:"class_name"`
}

type reservationResponse struct {
	ID          int64      `json:"id"`
	Weekday     string     `json:"weekday"`
	ClassTime   string     `json:"class_time"`
	Center      string     `json:"center"`
	CenterName  string     `json:"center_name"`
	ClassName   string     `json:"class_name"`
	Active      bool       `json:"active"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

func (s *Server) toResponse(res reservations.Reservation) reservationResponse {
	return reservationResponse{
		ID:          res.ID,
		Weekday:     res.Weekday,
		ClassTime:   res.ClassTime,
		Center:      res.Center,
		CenterName:  reservations.CenterName(res.Center),
		ClassName:   res.ClassName,
		Active:      res.Active,
		Confirmed:   reservations.Confirmed(res, s.now()),
		ConfirmedAt: res.ConfirmedAt,
	}
}

func (s *Server) handleReservationCreate(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Weekday = strings.ToLower(strings.TrimSpace(req.Weekday))
	req.ClassTime = strings.TrimSpace(req.ClassTime)
	req.ClassName = strings.TrimSpace(req.ClassName)

	if _, err := occurrence.ParseWeekday(req.Weekday); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, _, err := occurrence.ParseClock(req.ClassTime); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	center, ok := reservations.CenterCode(strings.ToLower(strings.TrimSpace(req.Center)))
	if !ok {
		jsonError(w, fmt.Sprintf("unknown center %q", req.Center), http.StatusBadRequest)
		return
	}
	if !reservations.ValidClass(req.ClassName) {
		jsonError(w, fmt.Sprintf("unknown class %q", req.ClassName), http.StatusBadRequest)
		return
	}

	res := reservations.Reservation{
		UserID:    uid,
		Weekday:   req.Weekday,
		ClassTime: req.ClassTime,
		Center:    center,
		ClassName: req.ClassName,
		Active:    true,
	}
	id, err := s.Store.Create(r.Context(), res)
	if err != nil {
		log.Printf("web: create reservation: %v", err)
		jsonError(w, "failed to create reservation", http.StatusInternalServerError)
		return
	}
	res.ID = id

	// The row and its weekly trigger outlive an immediate-attempt failure;
	// the client learns the attempt failed but the recurrence stands.
	if err := s.Life.OnCreate(r.Context(), res); err != nil {
		log.Printf("web: reservation %d immediate attempt: %v", id, err)
		jsonError(w, "reservation created but the immediate booking attempt failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusCreated, s.toResponse(res))
}

func (s *Server) handleReservationList(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	list, err := s.Store.ListByUser(r.Context(), uid)
	if err != nil {
		log.Printf("web: list reservations: %v", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]reservationResponse, 0, len(list))
	for _, res := range list {
		out = append(out, s.toResponse(res))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": out})
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleReservationSetActive(w http.ResponseWriter, r *http.Request) {
	res, ok := s.ownedReservation(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		jsonError(w, "body must carry an active flag", http.StatusBadRequest)
		return
	}
	if err := s.Life.SetActive(r.Context(), res, *req.Active); err != nil {
		log.Printf("web: set reservation %d active=%v: %v", res.ID, *req.Active, err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	res.Active = *req.Active
	writeJSON(w, http.StatusOK, s.toResponse(res))
}

func (s *Server) handleReservationDelete(w http.ResponseWriter, r *http.Request) {
	res, ok := s.ownedReservation(w, r)
	if !ok {
		return
	}
	if err := s.Life.OnDelete(r.Context(), res); err != nil {
		log.Printf("web: delete reservation %d: %v", res.ID, err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReservationLogs(w http.ResponseWriter, r *http.Request) {
	res, ok := s.ownedReservation(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := s.Store.LogsByReservation(r.Context(), res.ID, limit)
	if err != nil {
		log.Printf("web: logs for reservation %d: %v", res.ID, err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

// ownedReservation loads the path reservation and enforces that it belongs to
// the authenticated user. A false return means the response is already written.
func (s *Server) ownedReservation(w http.ResponseWriter, r *http.Request) (reservations.Reservation, bool) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonError(w, "invalid reservation id", http.StatusBadRequest)
		return reservations.Reservation{}, false
	}
	res, err := s.Store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			jsonError(w, "reservation not found", http.StatusNotFound)
		} else {
			log.Printf("web: load reservation %d: %v", id, err)
			jsonError(w, "internal error", http.StatusInternalServerError)
		}
		return reservations.Reservation{}, false
	}
	if res.UserID != uid {
		jsonError(w, "reservation belongs to another user", http.StatusForbidden)
		return reservations.Reservation{}, false
	}
	return res, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Start serves h on addr until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Printf("web: listening on %s", addr)
	return srv.ListenAndServe()
}
