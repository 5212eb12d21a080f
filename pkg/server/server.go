package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/elonfeng/redditmon/internal/monitor"
	"github.com/elonfeng/redditmon/internal/store"
	"github.com/elonfeng/redditmon/pkg/analytics"
	"github.com/elonfeng/redditmon/pkg/engagement"
	"github.com/elonfeng/redditmon/pkg/export"
	"github.com/elonfeng/redditmon/pkg/source"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultDays is the history window of analytics endpoints.
const DefaultDays = 7

// Options configures the HTTP server.
type Options struct {
	Port        int
	CORSOrigins []string
	// Window is the collection time window when a request names none.
	Window source.TimeWindow
}

// Server provides the HTTP API.
type Server struct {
	svc    *monitor.Service
	store  store.Store
	opts   Options
	router *chi.Mux
	// base outlives requests so background collections keep running.
	base context.Context
}

// New creates a new HTTP server.
func New(svc *monitor.Service, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.Window == "" {
		opts.Window = source.WindowWeek
	}
	s := &Server{
		svc:   svc,
		store: svc.Store(),
		opts:  opts,
		base:  context.Background(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/profiles", func(r chi.Router) {
		r.Get("/", s.handleProfiles)

		r.Route("/{profile}", func(r chi.Router) {
			r.Get("/posts", s.handlePosts)
			r.Get("/trending", s.handleTrending)
			r.Get("/export.csv", s.handleExport)

			r.Route("/stats", func(r chi.Router) {
				r.Get("/summary", s.handleSummary)
				r.Get("/subreddits", s.handleBySubreddit)
				r.Get("/keywords", s.handleByKeyword)
				r.Get("/daily", s.handleDaily)
				r.Get("/growth", s.handleGrowth)
			})

			r.Get("/weights", s.handleGetWeights)
			r.Put("/weights", s.handlePutWeights)

			r.Get("/keywords", s.handleListKeywords)
			r.Post("/keywords", s.handleAddKeyword)
			r.Delete("/keywords/{keyword}", s.handleRemoveKeyword)

			r.Get("/subreddits", s.handleListSubreddits)
			r.Post("/subreddits", s.handleAddSubreddit)
			r.Delete("/subreddits/{name}", s.handleRemoveSubreddit)

			r.Post("/collect", s.handleCollect)
			r.Get("/runs", s.handleRuns)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.base = ctx
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", s.opts.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListProfiles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": ids, "count": len(ids)})
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pq := store.PostQuery{
		Profile:   profileParam(r),
		Subreddit: q.Get("subreddit"),
		Keyword:   q.Get("keyword"),
		SortBy:    q.Get("sort"),
		Limit:     intParam(r, "limit", 100),
	}
	if days := intParam(r, "days", 0); days > 0 {
		pq.Since = time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	}
	if _, ok := store.SortFields[pq.SortBy]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown sort field %q", pq.SortBy)})
		return
	}

	posts, err := s.store.ListPosts(r.Context(), pq)
	if err != nil {
		writeError(w, err)
		return
	}
	posts = analytics.Filter(posts, analytics.Criteria{
		MinScore:    intParam(r, "min_score", 0),
		MinComments: intParam(r, "min_comments", 0),
		MaxAgeHours: float64(intParam(r, "max_age_hours", 0)),
		ExcludeNSFW: q.Get("exclude_nsfw") == "true",
	})
	if posts == nil {
		posts = []source.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": posts, "count": len(posts)})
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	posts, ok := s.history(w, r)
	if !ok {
		return
	}
	hours := intParam(r, "hours", 24)
	trending := analytics.Rank(analytics.Trending(posts, float64(hours), intParam(r, "min_score", 0)), intParam(r, "limit", 10))
	writeJSON(w, http.StatusOK, map[string]any{"data": trending, "count": len(trending)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	posts, ok := s.history(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reddit_posts_%s.csv"`, time.Now().UTC().Format("20060102")))
	if err := export.WritePosts(w, posts); err != nil {
		slog.Error("server: export", "error", err)
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if posts, ok := s.history(w, r); ok {
		writeJSON(w, http.StatusOK, analytics.Summarize(posts))
	}
}

func (s *Server) handleBySubreddit(w http.ResponseWriter, r *http.Request) {
	if posts, ok := s.history(w, r); ok {
		groups := analytics.BySubreddit(posts)
		writeJSON(w, http.StatusOK, map[string]any{"data": groups, "count": len(groups)})
	}
}

func (s *Server) handleByKeyword(w http.ResponseWriter, r *http.Request) {
	if posts, ok := s.history(w, r); ok {
		groups := analytics.ByKeyword(posts)
		writeJSON(w, http.StatusOK, map[string]any{"data": groups, "count": len(groups)})
	}
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	if posts, ok := s.history(w, r); ok {
		days := analytics.Daily(posts)
		writeJSON(w, http.StatusOK, map[string]any{"data": days, "count": len(days)})
	}
}

func (s *Server) handleGrowth(w http.ResponseWriter, r *http.Request) {
	g, err := s.svc.Growth(r.Context(), profileParam(r), intParam(r, "days", 14))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProfile(r.Context(), profileParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Weights)
}

func (s *Server) handlePutWeights(w http.ResponseWriter, r *http.Request) {
	var weights engagement.Weights
	if err := json.NewDecoder(r.Body).Decode(&weights); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	p, err := s.store.GetProfile(r.Context(), profileParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	p.Weights = weights
	if err := s.store.UpsertProfile(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Weights)
}

func (s *Server) handleListKeywords(w http.ResponseWriter, r *http.Request) {
	kws, err := s.store.ListKeywords(r.Context(), profileParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": kws, "count": len(kws)})
}

func (s *Server) handleAddKeyword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keyword string `json:"keyword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Keyword == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `body must be {"keyword": "..."}`})
		return
	}
	if err := s.store.AddKeyword(r.Context(), profileParam(r), body.Keyword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"keyword": source.NormalizeName(body.Keyword)})
}

func (s *Server) handleRemoveKeyword(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveKeyword(r.Context(), profileParam(r), chi.URLParam(r, "keyword")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSubreddits(w http.ResponseWriter, r *http.Request) {
	list, err := listParam(r.URL.Query().Get("list"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	subs, err := s.store.ListSubreddits(r.Context(), profileParam(r), list)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": subs, "count": len(subs), "list": list})
}

func (s *Server) handleAddSubreddit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		List string `json:"list"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `body must be {"name": "...", "list": "whitelist|blacklist"}`})
		return
	}
	list, err := listParam(body.List)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.store.AddSubreddit(r.Context(), profileParam(r), body.Name, list); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": source.NormalizeName(body.Name), "list": string(list)})
}

func (s *Server) handleRemoveSubreddit(w http.ResponseWriter, r *http.Request) {
	list, err := listParam(r.URL.Query().Get("list"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.store.RemoveSubreddit(r.Context(), profileParam(r), chi.URLParam(r, "name"), list); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCollect starts a collection in the background and answers 202. With
// wait=true it blocks and returns the report.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	window := s.opts.Window
	if v := r.URL.Query().Get("window"); v != "" {
		parsed, err := source.ParseTimeWindow(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		window = parsed
	}

	profile := profileParam(r)
	if r.URL.Query().Get("wait") == "true" {
		report, err := s.svc.Collect(r.Context(), profile, window, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if _, err := s.svc.Start(s.base, profile, window); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "profile": profile, "window": string(window)})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), profileParam(r), intParam(r, "limit", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    runs,
		"count":   len(runs),
		"running": s.svc.Running(profileParam(r)),
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) ([]source.Post, bool) {
	posts, err := s.svc.History(r.Context(), profileParam(r), intParam(r, "days", DefaultDays))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return posts, true
}

func profileParam(r *http.Request) string { return chi.URLParam(r, "profile") }

func intParam(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}

func listParam(v string) (store.ListType, error) {
	if v == "" {
		return store.Whitelist, nil
	}
	return store.ParseListType(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, monitor.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, monitor.ErrNoKeywords), errors.Is(err, monitor.ErrInvalidRange),
		errors.Is(err, engagement.ErrNegativeWeight):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
