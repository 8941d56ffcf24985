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

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/lendtrack/pkg/auth"
	"github.com/mcclellann/lendtrack/pkg/ledger"
	"github.com/mcclellann/lendtrack/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the ledger instance.
type Server struct {
	ledger *ledger.Ledger
	issuer *auth.Issuer
	logger *slog.Logger
}

func NewServer(l *ledger.Ledger, issuer *auth.Issuer, logger *slog.Logger) *Server {
	return &Server{
		ledger: l,
		issuer: issuer,
		logger: logger,
	}
}

// Routes builds the router. Everything under /api except health and the
// auth endpoints requires a bearer token.
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	router.Use(s.recoverMiddleware, s.observeMiddleware)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondFail(w, http.StatusNotFound, "Route not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondFail(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.healthHandler).Methods("GET")
	api.HandleFunc("/auth/register", s.registerHandler).Methods("POST")
	api.HandleFunc("/auth/login", s.loginHandler).Methods("POST")

	private := api.NewRoute().Subrouter()
	private.Use(s.authMiddleware)
	private.HandleFunc("/auth/profile", s.profileHandler).Methods("GET")
	private.HandleFunc("/lender/profile", s.updateProfileHandler).Methods("PUT")
	private.HandleFunc("/lender/dashboard", s.dashboardHandler).Methods("GET")
	private.HandleFunc("/borrowers", s.listBorrowersHandler).Methods("GET")
	private.HandleFunc("/borrowers", s.createBorrowerHandler).Methods("POST")
	private.HandleFunc("/borrowers/{id}", s.getBorrowerHandler).Methods("GET")
	private.HandleFunc("/borrowers/{id}", s.updateBorrowerHandler).Methods("PUT")
	private.HandleFunc("/borrowers/{id}", s.deleteBorrowerHandler).Methods("DELETE")
	private.HandleFunc("/notifications/due", s.dueNotificationsHandler).Methods("GET")
	private.HandleFunc("/notifications/paid/{id}", s.markPaidHandler).Methods("PUT")

	return router
}

// envelope is the response shape every /api endpoint uses.
type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func respondFail(w http.ResponseWriter, status int, message string, fields map[string]string) {
	writeJSON(w, status, envelope{Success: false, Message: message, Errors: fields})
}

// respondError maps ledger errors onto status codes. Anything unexpected is
// logged and reported without detail.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		respondFail(w, http.StatusBadRequest, "Validation failed", ve.Fields)
	case errors.Is(err, ledger.ErrNotFound):
		respondFail(w, http.StatusNotFound, notFound, nil)
	case errors.Is(err, ledger.ErrLoanCompleted):
		respondFail(w, http.StatusConflict, "Loan is already fully paid", nil)
	case errors.Is(err, ledger.ErrConflict):
		respondFail(w, http.StatusConflict, "Borrower was modified by another request; reload and retry", nil)
	case errors.Is(err, ledger.ErrEmailTaken):
		respondFail(w, http.StatusBadRequest, "Lender with this email already exists", nil)
	case errors.Is(err, ledger.ErrInvalidCredentials):
		respondFail(w, http.StatusUnauthorized, "Invalid email or password", nil)
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		respondFail(w, http.StatusInternalServerError, "Server error", nil)
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func badBody(w http.ResponseWriter, err error) {
	respondFail(w, http.StatusBadRequest, "Invalid request body: "+err.Error(), nil)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondFail(w, http.StatusBadRequest, "Invalid borrower ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// ifMatch reads an optional If-Match version. Zero means no precondition.
func ifMatch(r *http.Request) (int64, error) {
	h := strings.TrimSpace(r.Header.Get("If-Match"))
	if h == "" || h == "*" {
		return 0, nil
	}
	h = strings.Trim(strings.TrimPrefix(h, "W/"), `"`)
	v, err := strconv.ParseInt(h, 10, 64)
	if err != nil || v < 1 {
		return 0, errors.New("If-Match must be a borrower version")
	}
	return v, nil
}

func setETag(w http.ResponseWriter, version int64) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

type ctxKey int

const lenderIDKey ctxKey = iota

func lenderID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(lenderIDKey).(uuid.UUID)
	return id
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			respondFail(w, http.StatusUnauthorized, "Access token is required", nil)
			return
		}
		id, err := s.issuer.Parse(strings.TrimSpace(token))
		if err != nil {
			respondFail(w, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}
		if _, err := s.ledger.GetLender(r.Context(), id); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				respondFail(w, http.StatusUnauthorized, "Invalid token", nil)
				return
			}
			s.respondError(w, r, err, "")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), lenderIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// observeMiddleware logs each request and records its latency by route template.
func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		metrics.HTTPDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
		s.logger.Info("http request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("panic serving request", "path", r.URL.Path, "panic", v)
				respondFail(w, http.StatusInternalServerError, "Something went wrong!", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
