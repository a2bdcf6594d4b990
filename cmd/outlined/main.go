// Package main is the entry point for outlined, the outline-document
// indexing and live-state server (spec.md §1-9). It wires the Metadata
// Store, Graph Store, Full-Text Index, Watcher & Reconciler, Event Bus,
// and Facade together and serves the facade's request surface plus a
// push-protocol subscription endpoint over a minimal stdlib net/http
// mux, in the spirit of the pack's mddb server entrypoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/outlinegraph/outlined/internal/config"
	"github.com/outlinegraph/outlined/internal/eventbus"
	"github.com/outlinegraph/outlined/internal/logging"
	"github.com/outlinegraph/outlined/internal/metastore"
	"github.com/outlinegraph/outlined/internal/telemetry"
	"github.com/outlinegraph/outlined/internal/watcher"
	"github.com/outlinegraph/outlined/pkg/facade"
	"github.com/outlinegraph/outlined/pkg/fulltext"
	"github.com/outlinegraph/outlined/pkg/graphstore"
	"github.com/outlinegraph/outlined/pkg/latexrender"
	"github.com/outlinegraph/outlined/pkg/outline"
	"github.com/outlinegraph/outlined/pkg/searchdispatch"
)

const pingInterval = 15 * time.Second

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "outlined: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "", "Path to YAML config file (optional; flags below override individual fields)")
	root := flag.String("root", "", "Root directory of org documents to index")
	stateDir := flag.String("state-dir", "", "Directory for the metadata database")
	listen := flag.String("listen", "", "HTTP listen address")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["root"] {
		cfg.RootDir = *root
	}
	if set["state-dir"] {
		cfg.StateDir = *stateDir
	}
	if set["listen"] {
		cfg.ListenAddr = *listen
	}
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	store, err := metastore.Open(filepath.Join(cfg.StateDir, "outlined.db"))
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer store.Close()

	graph := graphstore.New()
	idx := fulltext.New()
	if err := rebuild(store, graph, idx); err != nil {
		return fmt.Errorf("rebuilding in-memory state: %w", err)
	}
	logger.Info("outlined: rebuilt in-memory state from metadata store")

	metrics := telemetry.New()
	bus := eventbus.New(logger, 0, metrics)
	dispatch := searchdispatch.New(idx, graph, metrics)
	latex := latexrender.New(latexrender.Options{
		Timeout:  time.Duration(cfg.LatexTimeoutMS) * time.Millisecond,
		CacheDir: cfg.LatexCacheDir,
		CacheCap: cfg.LatexCacheBytes,
	}, metrics)

	var hinter facade.Hinter = noopHinter{}
	if cfg.WatcherEnabled {
		w, err := watcher.New(cfg.RootDir, logger)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer w.Stop()

		rec := watcher.NewReconciler(store, graph, idx, bus, logger, metrics)
		go rec.Run(ctx, w.Events())
		hinter = w
	}

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bus.PublishPing()
			}
		}
	}()

	fac := facade.New(store, graph, dispatch, latex, cfg.HTMLAdviceRules, hinter)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newMux(fac, bus, metrics),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("outlined: listening", "addr", cfg.ListenAddr, "root", cfg.RootDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// rebuild replays every persisted node into the Graph Store and
// Full-Text Index, avoiding a re-parse of the filesystem on startup.
func rebuild(store *metastore.Store, graph *graphstore.Store, idx *fulltext.Index) error {
	nodes, err := store.LoadAll()
	if err != nil {
		return err
	}
	for _, n := range nodes {
		graph.UpsertNode(n.ID, n.Title, n.ParentID, n.Tags)
	}
	for _, n := range nodes {
		graph.ReplaceOutgoing(n.ID, n.Outgoing)
		idx.AddOrReplace(n.ID, n.Title, n.Body, n.Tags)
	}
	return nil
}

type noopHinter struct{}

func (noopHinter) HintFileModified(string) {}
func (noopHinter) HintNodeOpened(string)   {}

func newMux(fac *facade.Facade, bus *eventbus.Bus, metrics *telemetry.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/snapshot_graph", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TagsAny  []string `json:"tags_any"`
			TagsNone []string `json:"tags_none"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		writeJSON(w, fac.SnapshotGraph(req.TagsAny, req.TagsNone))
	})

	mux.HandleFunc("POST /api/render_document", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID    outline.NodeID `json:"id"`
			Scope facade.Scope   `json:"scope"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Scope == "" {
			req.Scope = facade.ScopeNode
		}
		res, err := fac.RenderDocument(req.ID, req.Scope)
		writeResultOrError(w, res, err)
	})

	mux.HandleFunc("GET /api/render_latex", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		index, err := parseIndex(q.Get("index"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		svg, err := fac.RenderLatex(r.Context(), outline.NodeID(q.Get("id")), index, q.Get("color"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write(svg)
	})

	mux.HandleFunc("GET /api/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		out := fac.Search(r.Context(), q.Get("caller_id"), q.Get("request_id"), q.Get("query"))
		enc := json.NewEncoder(w)
		for resp := range out {
			if err := enc.Encode(resp); err != nil {
				return
			}
			flusher.Flush()
		}
	})

	mux.HandleFunc("GET /api/search_config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fac.SearchConfig())
	})

	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, fac.ListTags())
	})

	mux.HandleFunc("POST /api/editor_hint_opened", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID string `json:"id"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		fac.EditorHintOpened(req.ID)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /api/editor_hint_modified", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path string `json:"path"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		fac.EditorHintModified(req.Path)
		w.WriteHeader(http.StatusAccepted)
	})

	// events is the long-poll/SSE stand-in for the out-of-scope WebSocket
	// push channel (spec.md §1 scopes real WS framing to an external
	// collaborator): one push-protocol message per chunk, flushed as it's
	// published.
	mux.HandleFunc("GET /api/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		sub := bus.Subscribe(64)
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		enc := json.NewEncoder(w)
		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-sub.Messages:
				if !ok {
					return
				}
				fmt.Fprint(w, "data: ")
				if err := enc.Encode(msg); err != nil {
					return
				}
				fmt.Fprint(w, "\n")
				flusher.Flush()
			}
		}
	})

	return mux
}

func parseIndex(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, fmt.Errorf("missing index parameter")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid index parameter: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeResultOrError(w http.ResponseWriter, v any, err error) bool {
	if err != nil {
		writeError(w, err)
		return false
	}
	writeJSON(w, v)
	return true
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusNotFound)
}
