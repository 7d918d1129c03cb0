// Package httpapi exposes the hub state over HTTP: REST queries, a
// server-sent-events stream and Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/j-veylop/antigravity-quota-hub/internal/hub"
	"github.com/j-veylop/antigravity-quota-hub/internal/logger"
	"github.com/j-veylop/antigravity-quota-hub/internal/models"
	"github.com/j-veylop/antigravity-quota-hub/internal/version"
)

// AccountsResponse is the accounts list response.
type AccountsResponse struct {
	Accounts []models.AccountState `json:"accounts"`
	Total    int                   `json:"total"`
}

// QuotasResponse is the full quota cache response.
type QuotasResponse struct {
	Quotas   map[string]*models.QuotaRecord `json:"quotas"`
	CacheAge float64                        `json:"cacheAgeSeconds"`
	Stale    bool                           `json:"stale"`
}

// StatsResponse summarizes the hub's current shape.
type StatsResponse struct {
	Accounts    int                   `json:"accounts"`
	ByStatus    map[models.Status]int `json:"byStatus"`
	Subscribers int                   `json:"subscribers"`
	CacheAge    float64               `json:"cacheAgeSeconds"`
	Stale       bool                  `json:"stale"`
	Version     string                `json:"version"`
}

// ErrorResponse is a standardized error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes holds the handlers' hub dependency.
type Routes struct {
	hub *hub.Hub
}

// Router builds the HTTP handler for the given hub.
func Router(h *hub.Hub) http.Handler {
	routes := &Routes{hub: h}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", routes.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", routes.events)

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", routes.listAccounts)
			r.Get("/active", routes.activeAccounts)
			r.Get("/{email}", routes.getAccount)
		})
		r.Route("/quota", func(r chi.Router) {
			r.Get("/", routes.listQuotas)
			r.Post("/refresh", routes.refreshQuotas)
			r.Get("/{email}", routes.getQuota)
		})
		r.Get("/stats", routes.stats)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func (rt *Routes) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listAccounts returns all accounts, optionally filtered by ?status=.
func (rt *Routes) listAccounts(w http.ResponseWriter, r *http.Request) {
	var accounts []models.AccountState
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := models.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		accounts = rt.hub.ByStatus(status)
	} else {
		accounts = rt.hub.Accounts()
	}
	writeJSON(w, http.StatusOK, AccountsResponse{Accounts: accounts, Total: len(accounts)})
}

// activeAccounts returns the globally active account and the active
// account per model family.
func (rt *Routes) activeAccounts(w http.ResponseWriter, _ *http.Request) {
	active := make(map[string]*models.AccountState, len(models.Families)+1)
	if acc, ok := rt.hub.Active(); ok {
		active["global"] = &acc
	}
	for _, fam := range models.Families {
		if acc, ok := rt.hub.ActiveFor(fam); ok {
			active[string(fam)] = &acc
		}
	}
	writeJSON(w, http.StatusOK, active)
}

func (rt *Routes) getAccount(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	acc, ok := rt.hub.Account(email)
	if !ok {
		writeError(w, http.StatusNotFound, "account not found: "+email)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (rt *Routes) listQuotas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, QuotasResponse{
		Quotas:   rt.hub.AllQuotas(),
		CacheAge: rt.hub.CacheAge().Seconds(),
		Stale:    rt.hub.IsStale(),
	})
}

func (rt *Routes) getQuota(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	rec := rt.hub.Quota(email)
	if rec == nil {
		writeError(w, http.StatusNotFound, "no quota data for: "+email)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// refreshQuotas refreshes quota data. With ?email= it polls that one
// account synchronously and returns the fresh record; without it the
// full cycle runs in the background and results arrive on the event
// stream.
func (rt *Routes) refreshQuotas(w http.ResponseWriter, r *http.Request) {
	if email := r.URL.Query().Get("email"); email != "" {
		rec, err := rt.hub.RefreshAccount(email)
		if err != nil {
			if errors.Is(err, hub.ErrUnknownAccount) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	rt.hub.TriggerRefresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

func (rt *Routes) stats(w http.ResponseWriter, _ *http.Request) {
	counts := rt.hub.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Accounts:    total,
		ByStatus:    counts,
		Subscribers: rt.hub.SubscriberCount(),
		CacheAge:    rt.hub.CacheAge().Seconds(),
		Stale:       rt.hub.IsStale(),
		Version:     version.Version,
	})
}

// events streams hub events as server-sent events. The first frame is
// always a full snapshot; a dropped connection must resubscribe and
// resync from a fresh snapshot.
func (rt *Routes) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := rt.hub.Subscribe()
	defer rt.hub.Unsubscribe(sub.ID)

	logger.Debug("sse subscriber connected", "id", sub.ID)

	for {
		select {
		case env, open := <-sub.Events():
			if !open {
				// Dropped for falling behind.
				return
			}
			if err := writeSSE(w, env.Type, env); err != nil {
				logger.Debug("sse write failed", "id", sub.ID, "error", err)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			logger.Debug("sse subscriber disconnected", "id", sub.ID)
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + eventType + "\n")); err != nil {
		return err
	}
	_, err = w.Write([]byte("data: " + string(data) + "\n\n"))
	return err
}

// NewServer builds an http.Server with sane timeouts. Write timeout is
// left unset so the SSE stream is not cut off.
func NewServer(addr string, h *hub.Hub) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Router(h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
