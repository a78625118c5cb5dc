package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kychiang/studydeck/internal/logging"
)

// State is the gateway lifecycle state.
type State string

const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

// Config holds gateway construction parameters.
type Config struct {
	// OriginURL is the upstream origin every intercepted request is
	// forwarded to.
	OriginURL string

	// Version names the live buckets: studydeck-static-v<N> and
	// studydeck-dynamic-v<N>. Bumping it retires the previous buckets at
	// activation.
	Version int

	// PrecachePaths is the minimal app shell cached at install. Install is
	// all-or-nothing over this list.
	PrecachePaths []string

	// PassthroughPrefixes are request paths never intercepted or cached
	// (API and analytics traffic).
	PassthroughPrefixes []string

	// ActivityInterval is how often the internal liveness stamp refreshes
	// absent any traffic.
	ActivityInterval time.Duration

	// Client performs upstream fetches. Defaults to a 30s-timeout client.
	Client *http.Client
}

// DefaultPrecachePaths is the standard app shell.
var DefaultPrecachePaths = []string{"/", "/offline", "/icons/icon-192.png"}

// DefaultPassthroughPrefixes covers API and analytics traffic.
var DefaultPassthroughPrefixes = []string{"/api/", "/rest/", "/auth/", "/analytics"}

// staticExtensions are the resource classes served cache-first.
var staticExtensions = map[string]bool{
	".css": true, ".js": true, ".mjs": true,
	".woff": true, ".woff2": true, ".ttf": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".ico": true, ".webp": true,
}

// offlineFallbackHTML serves when a navigation fails and no fallback page was
// ever cached.
const offlineFallbackHTML = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>StudyDeck — offline</title></head>
<body>
<h1>You are offline</h1>
<p>StudyDeck could not reach the network and this page is not cached yet.
Reconnect and try again.</p>
</body>
</html>
`

// Gateway intercepts page traffic and applies the per-resource-class caching
// policy. It is the in-process analog of a service worker: installed with a
// precached shell, activated with stale-bucket cleanup, supervised over the
// message mailbox.
type Gateway struct {
	cfg      Config
	origin   *url.URL
	registry *Registry
	client   *http.Client
	metrics  *Metrics
	log      *logging.Logger

	staticName  string
	dynamicName string

	mu    sync.Mutex
	state State

	activity  atomic.Int64
	startedAt time.Time

	mailbox chan envelope
	stopped chan struct{}
	done    chan struct{}
}

// New creates a Gateway in the installing state. Call Start to install and
// activate it.
func New(cfg Config, metrics *Metrics) (*Gateway, error) {
	origin, err := url.Parse(cfg.OriginURL)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin URL %q", cfg.OriginURL)
	}
	if len(cfg.PrecachePaths) == 0 {
		cfg.PrecachePaths = DefaultPrecachePaths
	}
	if len(cfg.PassthroughPrefixes) == 0 {
		cfg.PassthroughPrefixes = DefaultPassthroughPrefixes
	}
	if cfg.ActivityInterval <= 0 {
		cfg.ActivityInterval = 20 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Gateway{
		cfg:         cfg,
		origin:      origin,
		registry:    NewRegistry(),
		client:      client,
		metrics:     metrics,
		log:         logging.Get(),
		staticName:  fmt.Sprintf("studydeck-static-v%d", cfg.Version),
		dynamicName: fmt.Sprintf("studydeck-dynamic-v%d", cfg.Version),
		state:       StateInstalling,
		mailbox:     make(chan envelope),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// Registry exposes the bucket registry for the supervisor's repair path.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// StaticBucketName returns the live static bucket name.
func (g *Gateway) StaticBucketName() string { return g.staticName }

// DynamicBucketName returns the live dynamic bucket name.
func (g *Gateway) DynamicBucketName() string { return g.dynamicName }

// Start installs, activates, and begins serving the mailbox. Install
// precaches the app shell all-or-nothing; any failure aborts the start so a
// partially cached shell never goes live.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.install(ctx); err != nil {
		return err
	}

	// Waiting limbo is never entered deliberately.
	g.skipWaiting()

	g.startedAt = time.Now()
	g.refreshActivity()
	go g.run(ctx)
	return nil
}

// Stop shuts the mailbox loop down and waits for it to exit.
func (g *Gateway) Stop() {
	g.mu.Lock()
	select {
	case <-g.stopped:
		g.mu.Unlock()
		return
	default:
	}
	close(g.stopped)
	started := !g.startedAt.IsZero()
	g.mu.Unlock()
	if started {
		<-g.done
	}
}

// install precaches the shell into the static bucket.
func (g *Gateway) install(ctx context.Context) error {
	g.setState(StateInstalling)
	static := g.registry.Open(g.staticName)

	for _, p := range g.cfg.PrecachePaths {
		resp, err := g.fetchUpstream(ctx, http.MethodGet, p, nil)
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}
		if resp.Status < 200 || resp.Status >= 300 {
			return fmt.Errorf("precache %s: upstream returned %d", p, resp.Status)
		}
		static.Put(p, resp)
	}

	g.setState(StateInstalled)
	g.log.Info("gateway installed", map[string]interface{}{
		"bucket": g.staticName, "precached": len(g.cfg.PrecachePaths),
	})
	return nil
}

// skipWaiting moves an installed gateway straight to activation.
func (g *Gateway) skipWaiting() {
	if g.State() != StateInstalled {
		return
	}
	g.activate()
}

// activate deletes every bucket that is neither the current static nor the
// current dynamic bucket, then claims traffic.
func (g *Gateway) activate() {
	g.setState(StateActivating)

	for _, name := range g.registry.Names() {
		if name == g.staticName || name == g.dynamicName {
			continue
		}
		g.registry.Delete(name)
		g.log.Info("dropped stale cache bucket", map[string]interface{}{"bucket": name})
	}

	g.setState(StateActivated)
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// run serves the mailbox and keeps the liveness stamp fresh absent traffic.
func (g *Gateway) run(ctx context.Context) {
	defer close(g.done)

	ticker := time.NewTicker(g.cfg.ActivityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopped:
			return
		case <-ticker.C:
			g.refreshActivity()
		case env := <-g.mailbox:
			env.reply <- g.dispatch(env.msg)
		}
	}
}

func (g *Gateway) refreshActivity() {
	g.activity.Store(time.Now().UnixMilli())
}

func (g *Gateway) lastActivity() int64 {
	return g.activity.Load()
}

// healthStatus builds the HealthCheck reply.
func (g *Gateway) healthStatus() HealthStatus {
	status := HealthStatus{
		Timestamp:    time.Now().UnixMilli(),
		IsResponding: true,
	}
	if !g.startedAt.IsZero() {
		status.UptimeMillis = time.Since(g.startedAt).Milliseconds()
	}

	switch {
	case g.registry == nil:
		status.CacheStatus = CacheStatusError
	default:
		total := 0
		for _, name := range g.registry.Names() {
			total += g.registry.Open(name).Len()
		}
		if total == 0 {
			status.CacheStatus = CacheStatusEmpty
		} else {
			status.CacheStatus = CacheStatusOK
		}
	}
	return status
}

// ServeHTTP routes one intercepted request through the caching policy.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.refreshActivity()

	if g.isPassthrough(r) {
		g.metrics.Passthroughs.Inc()
		g.proxy(w, r)
		return
	}

	key := r.URL.RequestURI()

	switch {
	case isNavigation(r):
		g.serveNavigation(w, r, key)
	case isStaticAsset(r.URL.Path):
		g.serveStatic(w, r, key)
	default:
		g.serveNetworkFirst(w, r, key)
	}
}

// isPassthrough reports whether a request must bypass the cache entirely:
// cross-origin traffic and API/analytics paths.
func (g *Gateway) isPassthrough(r *http.Request) bool {
	if r.URL.Host != "" && r.URL.Host != g.origin.Host {
		return true
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return true
	}
	for _, prefix := range g.cfg.PassthroughPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// serveNavigation is cache-first with an offline fallback: a full-page load
// must always resolve to something renderable. The fallback is reserved for
// transport failure; a reachable upstream's response reaches the page even
// when it is an error, so server problems stay visible.
func (g *Gateway) serveNavigation(w http.ResponseWriter, r *http.Request, key string) {
	static := g.registry.Open(g.staticName)

	if resp, ok := static.Match(key); ok {
		g.metrics.Hits.Inc()
		writeCached(w, resp)
		return
	}

	resp, err := g.fetchUpstream(r.Context(), r.Method, key, r.Header)
	if err != nil {
		g.metrics.OfflineFallbacks.Inc()
		g.serveOfflinePage(w)
		return
	}

	if resp.Status >= 200 && resp.Status < 300 {
		static.Put(key, resp)
	}
	g.metrics.Misses.Inc()
	writeCached(w, resp)
}

// serveStatic is cache-first; frequently rebuilt assets (bundle and icon
// URLs) revalidate in the background after a hit.
func (g *Gateway) serveStatic(w http.ResponseWriter, r *http.Request, key string) {
	static := g.registry.Open(g.staticName)

	if resp, ok := static.Match(key); ok {
		g.metrics.Hits.Inc()
		if needsRevalidation(key) {
			go g.revalidate(key)
		}
		writeCached(w, resp)
		return
	}

	resp, err := g.fetchUpstream(r.Context(), r.Method, key, r.Header)
	if err != nil {
		http.Error(w, "offline and not cached", http.StatusServiceUnavailable)
		return
	}
	if resp.Status >= 200 && resp.Status < 300 {
		static.Put(key, resp)
	}
	g.metrics.Misses.Inc()
	writeCached(w, resp)
}

// serveNetworkFirst tries the network and falls back to any cached copy.
func (g *Gateway) serveNetworkFirst(w http.ResponseWriter, r *http.Request, key string) {
	dynamic := g.registry.Open(g.dynamicName)

	resp, err := g.fetchUpstream(r.Context(), r.Method, key, r.Header)
	if err == nil {
		if resp.Status >= 200 && resp.Status < 300 {
			dynamic.Put(key, resp)
		}
		g.metrics.Misses.Inc()
		writeCached(w, resp)
		return
	}

	if cached, ok := dynamic.Match(key); ok {
		g.metrics.Hits.Inc()
		writeCached(w, cached)
		return
	}

	http.Error(w, "offline and not cached", http.StatusServiceUnavailable)
}

// revalidate silently replaces a cached static asset with a fresh copy.
func (g *Gateway) revalidate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := g.fetchUpstream(ctx, http.MethodGet, key, nil)
	if err != nil || resp.Status < 200 || resp.Status >= 300 {
		return
	}
	g.registry.Open(g.staticName).Put(key, resp)
}

// serveOfflinePage answers a failed navigation with the cached fallback page
// or the built-in one.
func (g *Gateway) serveOfflinePage(w http.ResponseWriter) {
	static := g.registry.Open(g.staticName)
	if resp, ok := static.Match("/offline"); ok {
		writeCached(w, resp)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	io.WriteString(w, offlineFallbackHTML)
}

// proxy forwards a passthrough request without touching any bucket.
func (g *Gateway) proxy(w http.ResponseWriter, r *http.Request) {
	var body io.Reader
	if r.Body != nil {
		body = r.Body
	}

	resp, err := g.doUpstream(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
	if err != nil {
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// fetchUpstream performs an upstream fetch and buffers it as a cacheable
// response.
func (g *Gateway) fetchUpstream(ctx context.Context, method, key string, header http.Header) (CachedResponse, error) {
	resp, err := g.doUpstream(ctx, method, key, header, nil)
	if err != nil {
		return CachedResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CachedResponse{}, err
	}

	return CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

func (g *Gateway) doUpstream(ctx context.Context, method, key string, header http.Header, body io.Reader) (*http.Response, error) {
	target := *g.origin
	u, err := url.Parse(key)
	if err != nil {
		return nil, err
	}
	target.Path = u.Path
	target.RawQuery = u.RawQuery

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if header != nil {
		copyHeader(req.Header, header)
		req.Header.Del("Host")
	}
	return g.client.Do(req)
}

// isNavigation reports whether a request is a full-page load.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// isStaticAsset reports whether a path names a css/js/font/image resource.
func isStaticAsset(p string) bool {
	return staticExtensions[strings.ToLower(path.Ext(p))]
}

// needsRevalidation marks the frequently rebuilt asset URLs.
func needsRevalidation(key string) bool {
	return strings.Contains(key, "main") ||
		strings.Contains(key, "vendor") ||
		strings.Contains(key, "icon")
}

func writeCached(w http.ResponseWriter, resp CachedResponse) {
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
