// Package latexrender rasterizes a LaTeX source span to an SVG image by
// shelling out to a two-stage subprocess pipeline, exactly as the
// reference implementation's get_image does: `latex` compiles a
// `\begin{preview}`-wrapped document to a DVI, then `dvisvgm` converts
// that DVI to SVG. Results are cached by (content hash, color) with
// golang.org/x/sync/singleflight collapsing concurrent requests for the
// same key into one subprocess run.
package latexrender

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/outlinegraph/outlined/internal/outlineerr"
	"github.com/outlinegraph/outlined/internal/telemetry"
	"github.com/outlinegraph/outlined/pkg/outline"
)

const preamble = "\\documentclass{article}\n" +
	"\\usepackage[T1]{fontenc}\n" +
	"\\usepackage[active,tightpage]{preview}\n" +
	"\\usepackage{amsmath}\n" +
	"\\usepackage{amssymb}\n" +
	"\\usepackage{xcolor}\n"

// Options configures a Rasterizer.
type Options struct {
	Timeout    time.Duration
	CacheDir   string // optional; empty disables disk persistence
	CacheCap   int64  // max bytes held in the in-memory LRU
	ScratchDir string // defaults to os.TempDir() if empty
}

type cacheEntry struct {
	key  string
	svg  []byte
	size int64
}

// Rasterizer renders LaTeX source to SVG, caching by (content hash,
// color). It is safe for concurrent use.
type Rasterizer struct {
	opts  Options
	group singleflight.Group

	mu       sync.Mutex
	order    []*cacheEntry // front = most recently used
	byKey    map[string]*cacheEntry
	curBytes int64

	metrics *telemetry.Metrics
}

// New returns a Rasterizer. A zero Options.Timeout defaults to 15s; a
// zero CacheCap defaults to 64MiB. metrics may be nil, in which case no
// instrumentation is recorded.
func New(opts Options, metrics *telemetry.Metrics) *Rasterizer {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.CacheCap <= 0 {
		opts.CacheCap = 64 << 20
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	return &Rasterizer{opts: opts, byKey: map[string]*cacheEntry{}, metrics: metrics}
}

func cacheKey(source, color string) string {
	return outline.ContentHash(source) + ":" + color
}

// Rasterize renders source (with the preamble's `mycolor` set to color,
// an HTML hex string like "FF0000") to an SVG document, checking the
// cache first and deduplicating concurrent identical requests.
func (r *Rasterizer) Rasterize(ctx context.Context, source, color string) ([]byte, error) {
	key := cacheKey(source, color)

	if svg, ok := r.lookup(key); ok {
		r.recordCache(true)
		return svg, nil
	}
	if r.opts.CacheDir != "" {
		if svg, err := os.ReadFile(filepath.Join(r.opts.CacheDir, key+".svg")); err == nil {
			r.store(key, svg)
			r.recordCache(true)
			return svg, nil
		}
	}
	r.recordCache(false)

	start := time.Now()
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.render(ctx, source, color, key)
	})
	if r.metrics != nil {
		r.metrics.LatexRenderDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (r *Rasterizer) recordCache(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.LatexCacheHitsTotal.Inc()
	} else {
		r.metrics.LatexCacheMissesTotal.Inc()
	}
}

func (r *Rasterizer) render(ctx context.Context, source, color, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	scratch, err := os.MkdirTemp(r.opts.ScratchDir, "outlined-latex-*")
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindRenderError, "latexrender.render", err)
	}
	defer os.RemoveAll(scratch)

	texPath := filepath.Join(scratch, key+".tex")
	var doc []byte
	doc = append(doc, preamble...)
	doc = append(doc, []byte(fmt.Sprintf("\\definecolor{mycolor}{HTML}{%s}\n", color))...)
	doc = append(doc, "\n\\begin{document}\n\\begin{preview}\n\\color{mycolor}\n"...)
	doc = append(doc, source...)
	doc = append(doc, "\n\\end{preview}\n\\end{document}\n"...)
	if err := os.WriteFile(texPath, doc, 0o644); err != nil {
		return nil, outlineerr.New(outlineerr.KindRenderError, "latexrender.render", err)
	}

	if err := runSubprocess(ctx, scratch, "latex", "-interaction", "nonstopmode", texPath); err != nil {
		return nil, err
	}

	dviPath := filepath.Join(scratch, key+".dvi")
	svgName := key + ".svg"
	if err := runSubprocess(ctx, scratch, "dvisvgm",
		"--optimize", "--clipjoin", "--relative", "--bbox=preview", "--no-fonts",
		dviPath, "-o", svgName); err != nil {
		return nil, err
	}

	svg, err := os.ReadFile(filepath.Join(scratch, svgName))
	if err != nil {
		return nil, outlineerr.New(outlineerr.KindRenderError, "latexrender.render", err)
	}

	r.store(key, svg)
	if r.opts.CacheDir != "" {
		_ = os.MkdirAll(r.opts.CacheDir, 0o755)
		_ = os.WriteFile(filepath.Join(r.opts.CacheDir, svgName), svg, 0o644)
	}
	return svg, nil
}

func runSubprocess(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return outlineerr.New(outlineerr.KindTimeout, "latexrender."+name, ctx.Err())
	}
	if err != nil {
		if _, lookErr := exec.LookPath(name); lookErr != nil {
			return outlineerr.New(outlineerr.KindUnavailable, "latexrender."+name, fmt.Errorf("%s not found on PATH: %w", name, lookErr))
		}
		return outlineerr.New(outlineerr.KindRenderError, "latexrender."+name, fmt.Errorf("%s failed: %w: %s", name, err, truncateDiagnostic(out)))
	}
	return nil
}

// maxDiagnosticBytes bounds a subprocess's captured output to the first
// 4KiB, per the render-error diagnostic size limit.
const maxDiagnosticBytes = 4096

func truncateDiagnostic(out []byte) []byte {
	if len(out) <= maxDiagnosticBytes {
		return out
	}
	return out[:maxDiagnosticBytes]
}

func (r *Rasterizer) lookup(key string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byKey[key]
	if !ok {
		return nil, false
	}
	r.touchLocked(e)
	return e.svg, true
}

func (r *Rasterizer) store(key string, svg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byKey[key]; ok {
		r.curBytes -= e.size
		e.svg = svg
		e.size = int64(len(svg))
		r.curBytes += e.size
		r.touchLocked(e)
		r.evictLocked()
		return
	}
	e := &cacheEntry{key: key, svg: svg, size: int64(len(svg))}
	r.byKey[key] = e
	r.order = append([]*cacheEntry{e}, r.order...)
	r.curBytes += e.size
	r.evictLocked()
}

func (r *Rasterizer) touchLocked(e *cacheEntry) {
	for i, cur := range r.order {
		if cur == e {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.order = append([]*cacheEntry{e}, r.order...)
}

func (r *Rasterizer) evictLocked() {
	for r.curBytes > r.opts.CacheCap && len(r.order) > 0 {
		last := r.order[len(r.order)-1]
		r.order = r.order[:len(r.order)-1]
		delete(r.byKey, last.key)
		r.curBytes -= last.size
	}
}
