// Package server exposes the item archive as a JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"

	"rssel/internal/model"
	"rssel/internal/query"
	"rssel/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Server serves the JSON API.
type Server struct {
	store    storage.Storage
	engine   *query.Engine
	newHours int
	log      *slog.Logger
	router   chi.Router
	now      func() time.Time
}

// New creates a Server. newHours sets the window of the "new" filter.
func New(store storage.Storage, engine *query.Engine, newHours int, log *slog.Logger) *Server {
	s := &Server{
		store:    store,
		engine:   engine,
		newHours: newHours,
		log:      log,
		now:      time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/items", s.handleListItems)
		r.Get("/items/{id}", s.handleGetItem)
		r.Post("/items/{id}/{action}", s.handleItemAction)
		r.Get("/tags", s.handleTags)
		r.Get("/sources", s.handleSources)
		r.Get("/groups", s.handleGroups)
	})

	s.router = r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// item is the JSON form of an item.
type item struct {
	ID        int64      `json:"id"`
	FeedURL   string     `json:"feed_url"`
	FeedTitle string     `json:"feed_title,omitempty"`
	Group     string     `json:"group"`
	Tier      int        `json:"tier,omitempty"`
	Title     string     `json:"title"`
	Link      string     `json:"link,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	Content   string     `json:"content,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	Created   time.Time  `json:"created"`
	Read      bool       `json:"read"`
	Starred   bool       `json:"starred"`
	Deleted   bool       `json:"deleted"`
	Tags      []string   `json:"tags"`
}

func toItem(it model.Item, tier int, tags []string) item {
	out := item{
		ID:        it.ID,
		FeedURL:   it.FeedURL,
		FeedTitle: it.FeedTitle,
		Group:     it.Group,
		Tier:      tier,
		Title:     it.Title,
		Link:      it.Link,
		Summary:   it.Summary,
		Content:   it.Content,
		Created:   it.Created,
		Read:      it.Read,
		Starred:   it.Starred,
		Deleted:   it.Deleted,
		Tags:      tags,
	}
	if !it.Published.IsZero() {
		p := it.Published
		out.Published = &p
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out
}

type bucket struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Items []item `json:"items"`
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	f, err := s.parseFilter(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sort, err := query.ParseSort(v.Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	groupBy, err := query.ParseGroupBy(v.Get("group_by"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := 0
	if raw := v.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
	}
	if v.Get("all") == "true" {
		limit = query.Unlimited
	}

	rows, err := s.engine.Find(r.Context(), f.Query(sort, limit))
	if err != nil {
		s.serverError(w, "list items", err)
		return
	}
	toItems := func(rows []query.Row) []item {
		return lo.Map(rows, func(row query.Row, _ int) item { return toItem(row.Item, row.Tier, row.Tags) })
	}

	if groupBy == query.GroupNone {
		writeJSON(w, http.StatusOK, map[string]any{"items": toItems(rows)})
		return
	}
	buckets := query.Group(rows, groupBy, f.DateField, time.Local)
	writeJSON(w, http.StatusOK, map[string]any{
		"buckets": lo.Map(buckets, func(b query.Bucket, _ int) bucket {
			return bucket{Key: b.Key, Label: b.Label, Items: toItems(b.Rows)}
		}),
	})
}

func (s *Server) parseFilter(v url.Values) (query.Filter, error) {
	get := v.Get
	list := func(key string) []string {
		var out []string
		for _, raw := range v[key] {
			out = append(out, query.SplitList(raw)...)
		}
		return out
	}

	f := query.Filter{
		Groups: list("group"),
		Tags:   list("tag"),
		Source: get("source"),
		Text:   get("q"),
	}
	for _, raw := range list("tier") {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("invalid tier %q", raw)
		}
		f.Tiers = append(f.Tiers, n)
	}
	var err error
	if f.Read, err = optionalBool(get("read")); err != nil {
		return f, err
	}
	if f.Starred, err = optionalBool(get("starred")); err != nil {
		return f, err
	}
	switch get("deleted") {
	case "":
	case "include":
		f.Deleted = query.DeletedInclude
	case "only":
		f.Deleted = query.DeletedOnly
	default:
		return f, fmt.Errorf("invalid deleted %q, want include or only", get("deleted"))
	}
	if get("new") == "true" {
		f.NewWithin = time.Duration(s.newHours) * time.Hour
	}
	if f.DateField, err = query.ParseDateField(get("date_field")); err != nil {
		return f, err
	}
	now := s.now()
	for key, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until, "on": &f.On} {
		if *dst, err = query.ParseDate(get(key), now); err != nil {
			return f, err
		}
	}
	return f, nil
}

func optionalBool(raw string) (*bool, error) {
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid boolean %q", raw)
	}
	return &b, nil
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	rows, err := s.engine.Find(r.Context(), query.Query{}.Where(query.IDIn{id}, query.DeletedInclude))
	if err != nil {
		s.serverError(w, "get item", err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("item %d: %w", id, storage.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, toItem(rows[0].Item, rows[0].Tier, rows[0].Tags))
}

func (s *Server) handleItemAction(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	ids := []int64{id}
	var err error
	switch action := chi.URLParam(r, "action"); action {
	case "read":
		_, err = s.store.SetRead(r.Context(), ids, true)
	case "unread":
		_, err = s.store.SetRead(r.Context(), ids, false)
	case "star":
		_, err = s.store.SetStarred(r.Context(), ids, true)
	case "unstar":
		_, err = s.store.SetStarred(r.Context(), ids, false)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", action))
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.serverError(w, "update item", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	var groups []string
	for _, raw := range r.URL.Query()["group"] {
		groups = append(groups, query.SplitList(raw)...)
	}
	tags, err := s.engine.TagCounts(r.Context(), groups)
	if err != nil {
		s.serverError(w, "tag counts", err)
		return
	}
	if tags == nil {
		tags = []model.TagCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	srcs, err := s.engine.Sources(r.Context())
	if err != nil {
		s.serverError(w, "sources", err)
		return
	}
	if srcs == nil {
		srcs = []query.SourceSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": srcs})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.Groups(r.Context())
	if err != nil {
		s.serverError(w, "groups", err)
		return
	}
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid item id %q", raw))
		return 0, false
	}
	return id, true
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
