// Package api is the admin HTTP surface: campaign reads, the
// start/cancel/restart lifecycle actions, and a health endpoint
// exposing breaker states and queue depths.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-dispatch/internal/pkg/breaker"
	"github.com/ignite/campaign-dispatch/internal/pkg/httputil"
	"github.com/ignite/campaign-dispatch/internal/queue"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
)

type tenantKey struct{}

// Server holds the API dependencies.
type Server struct {
	campaigns *campaign.Service
	queue     *queue.Queue
	db        *sql.DB
	breakers  []*breaker.Breaker

	allowOrigins []string
}

// NewServer wires the admin API.
func NewServer(campaigns *campaign.Service, q *queue.Queue, db *sql.DB, breakers []*breaker.Breaker, allowOrigins []string) *Server {
	return &Server{
		campaigns:    campaigns,
		queue:        q,
		db:           db,
		breakers:     breakers,
		allowOrigins: allowOrigins,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Tenant-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireTenant)
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Get("/{id}", s.handleGet)
			r.Post("/{id}/start", s.handleStart)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Post("/{id}/restart", s.handleRestart)
		})
	})

	return r
}

// requireTenant pulls the tenant from the X-Tenant-ID header. Every
// /api route is tenant-scoped.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			httputil.BadRequest(w, "missing X-Tenant-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey{}, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantID(r *http.Request) string {
	v, _ := r.Context().Value(tenantKey{}).(string)
	return v
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	status := r.URL.Query().Get("status")

	out, err := s.campaigns.List(r.Context(), tenantID(r), status, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": out})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.campaigns.Start(r.Context(), tenantID(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"id": id, "result": "queued"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.campaigns.Cancel(r.Context(), tenantID(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"id": id, "result": "cancelled"})
}

type restartRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.BadRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.ScheduledAt.IsZero() || req.ScheduledAt.Before(time.Now()) {
		httputil.BadRequest(w, "scheduled_at must be in the future")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.campaigns.Restart(r.Context(), tenantID(r), id, req.ScheduledAt); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"id": id, "result": "rescheduled"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	healthy := true
	dbStatus := "ok"
	if err := s.db.PingContext(ctx); err != nil {
		healthy = false
		dbStatus = err.Error()
	}

	breakers := make([]map[string]any, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b.Stats())
		if b.State() == breaker.Open {
			healthy = false
		}
	}

	queues := map[string]any{}
	for _, topic := range []string{queue.TopicProcessCampaign, queue.TopicContactBatch, queue.TopicSendMessage} {
		depth, err := s.queue.Depth(ctx, topic)
		if err != nil {
			healthy = false
			queues[topic] = map[string]any{"error": err.Error()}
			continue
		}
		failed, _ := s.queue.FailedCount(ctx, topic)
		queues[topic] = map[string]any{"depth": depth, "failed": failed}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]any{
		"healthy":  healthy,
		"database": dbStatus,
		"breakers": breakers,
		"queues":   queues,
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidTransition):
		httputil.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaign.ErrNoMessages):
		httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
