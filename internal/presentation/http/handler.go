package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	appcontent "github.com/Zhima-Mochi/repoevents/internal/application/content"
	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/content"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/domain/eventlog"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/browse"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/history"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/search"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/unitofwork"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	componentHTTPHandler = "http_server"
	tracerName           = "repoevents.http"
	headerRequestID      = "X-Request-ID"
	headerActor          = "X-Actor"
	anonymousActor       = "anonymous"
	defaultPageSize      = 50
)

// Handler serves the repository API. Every mutating request runs in its own
// unit of work, committed before the response is written.
type Handler struct {
	content    *appcontent.Service
	sessions   *unitofwork.Manager
	dispatcher *dispatch.Dispatcher

	search  *search.Index
	browse  *browse.TitleIndex
	history *history.Consumer
	metrics http.Handler

	log observability.Logger
	tel observability.Observability
}

type Option func(*Handler)

func WithSearch(x *search.Index) Option { return func(h *Handler) { h.search = x } }

func WithBrowse(x *browse.TitleIndex) Option { return func(h *Handler) { h.browse = x } }

func WithHistory(c *history.Consumer) Option { return func(h *Handler) { h.history = c } }

// WithMetricsHandler mounts a scrape endpoint on /metrics.
func WithMetricsHandler(m http.Handler) Option { return func(h *Handler) { h.metrics = m } }

func NewHandler(
	svc *appcontent.Service,
	sessions *unitofwork.Manager,
	d *dispatch.Dispatcher,
	tel observability.Observability,
	opts ...Option,
) *Handler {
	tel = observability.OrNop(tel)
	h := &Handler{
		content:    svc,
		sessions:   sessions,
		dispatcher: d,
		tel:        tel,
		log:        tel.Logger().With(observability.F("component", componentHTTPHandler)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ObservabilityMiddleware(h.log, func(r *http.Request) string {
		return r.Header.Get(headerRequestID)
	}, h.tel))

	r.Get("/health", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/objects", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleDelete)
			r.Put("/metadata", h.handleUpdateMetadata)
			r.Put("/name", h.handleRename)
			r.Get("/history", h.handleHistory)
		})
	})
	r.Get("/search", h.handleSearch)
	r.Get("/browse/titles", h.handleBrowse)
	r.Get("/consumers", h.handleConsumers)
	return r
}

type objectResponse struct {
	ID        string              `json:"id"`
	Type      string              `json:"type"`
	Handle    string              `json:"handle,omitempty"`
	Name      string              `json:"name"`
	ParentID  string              `json:"parent_id,omitempty"`
	Metadata  map[string][]string `json:"metadata,omitempty"`
	Children  []string            `json:"children,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func toObjectResponse(obj *content.Object) objectResponse {
	return objectResponse{
		ID:        obj.ID,
		Type:      obj.Type.String(),
		Handle:    obj.Handle,
		Name:      obj.Name,
		ParentID:  obj.ParentID,
		Metadata:  obj.Metadata,
		CreatedAt: obj.CreatedAt,
		UpdatedAt: obj.UpdatedAt,
	}
}

type createRequest struct {
	Type     string              `json:"type"`
	Name     string              `json:"name"`
	Handle   string              `json:"handle"`
	ParentID string              `json:"parent_id"`
	Metadata map[string][]string `json:"metadata"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	typ, err := event.ParseSubjectType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var obj *content.Object
	err = h.mutate(r, func(ctx context.Context, rec eventlog.Recorder) (err error) {
		obj, err = h.content.Create(ctx, rec, appcontent.CreateInput{
			Type:     typ,
			Name:     req.Name,
			Handle:   req.Handle,
			ParentID: req.ParentID,
			Metadata: req.Metadata,
		})
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toObjectResponse(obj))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	obj, err := h.content.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	children, err := h.content.Children(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := toObjectResponse(obj)
	for _, c := range children {
		resp.Children = append(resp.Children, c.ID)
	}
	writeJSON(w, http.StatusOK, resp)
}

type metadataRequest struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

func (h *Handler) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var obj *content.Object
	err := h.mutate(r, func(ctx context.Context, rec eventlog.Recorder) (err error) {
		obj, err = h.content.UpdateMetadata(ctx, rec, chi.URLParam(r, "id"), req.Field, req.Values)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObjectResponse(obj))
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var obj *content.Object
	err := h.mutate(r, func(ctx context.Context, rec eventlog.Recorder) (err error) {
		obj, err = h.content.Rename(ctx, rec, chi.URLParam(r, "id"), req.Name)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toObjectResponse(obj))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	var removed int
	err := h.mutate(r, func(ctx context.Context, rec eventlog.Recorder) (err error) {
		removed, err = h.content.Delete(ctx, rec, chi.URLParam(r, "id"))
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// mutate runs fn in a fresh unit of work. Failures of non-fatal consumers do
// not undo the mutation, so they are logged and the request succeeds.
func (h *Handler) mutate(r *http.Request, fn func(ctx context.Context, rec eventlog.Recorder) error) error {
	ctx := r.Context()
	actor := r.Header.Get(headerActor)
	if actor == "" {
		actor = anonymousActor
	}
	err := h.sessions.Run(ctx, actor, func(ctx context.Context, s *unitofwork.Session) error {
		return fn(ctx, s)
	})
	var partial *dispatch.DispatchError
	if errors.As(err, &partial) {
		logctx.FromOr(ctx, h.log).Warn("dispatch_partial_failure",
			observability.F("failures", len(partial.Failures)),
			observability.Err(err),
		)
		return nil
	}
	return err
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history consumer is not configured"))
		return
	}
	records, err := h.history.ForSubject(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		writeError(w, http.StatusNotFound, errors.New("search consumer is not configured"))
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, errors.New("query parameter q is required"))
		return
	}
	hits := h.search.Query(q, queryInt(r, "limit", defaultPageSize))
	if hits == nil {
		hits = []search.Hit{}
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) handleBrowse(w http.ResponseWriter, r *http.Request) {
	if h.browse == nil {
		writeError(w, http.StatusNotFound, errors.New("browse consumer is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, h.browse.Page(r.URL.Query().Get("from"), queryInt(r, "limit", defaultPageSize)))
}

type consumerResponse struct {
	Name           string   `json:"name"`
	Implementation string   `json:"implementation"`
	Filters        []string `json:"filters"`
	FatalOnError   bool     `json:"fatal_on_error"`
	AlwaysRun      bool     `json:"always_run"`
}

func (h *Handler) handleConsumers(w http.ResponseWriter, _ *http.Request) {
	profiles := h.dispatcher.Profiles()
	out := make([]consumerResponse, 0, len(profiles))
	for _, p := range profiles {
		filters := make([]string, 0, len(p.Filters))
		for _, f := range p.Filters {
			filters = append(filters, f.String())
		}
		out = append(out, consumerResponse{
			Name:           p.Name,
			Implementation: p.Implementation,
			Filters:        filters,
			FatalOnError:   p.FatalOnError,
			AlwaysRun:      p.AlwaysRun,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dispatcher":  h.dispatcher.Name(),
		"consolidate": h.dispatcher.Consolidates(),
		"consumers":   out,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, content.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, appcontent.ErrValidation),
		errors.Is(err, event.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, content.ErrInvalidParent):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, content.ErrConflict),
		errors.Is(err, dispatch.ErrConcurrentDispatch):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
