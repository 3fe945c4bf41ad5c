package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	latestVersion       = "latest"
	meterName           = "github.com/cleanease/api/internal/platform/secrets"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type versionClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// reference is a parsed secret:// URI. The canonical form strips query and
// fragment so pins and cache lines key on the same string.
type reference struct {
	raw       string
	canonical string
	name      string
	version   string
	project   string
}

func parseRef(raw string) (reference, error) {
	if strings.TrimSpace(raw) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	bare := *u
	bare.RawQuery = ""
	bare.Fragment = ""

	query := u.Query()
	return reference{
		raw:       raw,
		canonical: bare.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func versionedKey(canonical, version string) string {
	return canonical + "#" + version
}

// fallbackFile reads KEY=VALUE pairs from a local secrets file once and
// serves lookups from memory. Keys may use sm:// as shorthand for secret://.
type fallbackFile struct {
	path   string
	once   sync.Once
	values map[string]string
	err    error
}

func (ff *fallbackFile) get(ref reference, version string) (string, bool) {
	ff.once.Do(ff.load)
	if ff.err != nil {
		return "", false
	}
	if value, ok := ff.values[versionedKey(ref.canonical, version)]; ok {
		return value, true
	}
	value, ok := ff.values[ref.canonical]
	return value, ok
}

func (ff *fallbackFile) load() {
	ff.values = map[string]string{}

	path := strings.TrimSpace(ff.path)
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			ff.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if strings.HasPrefix(key, "sm://") {
			key = "secret://" + strings.TrimPrefix(key, "sm://")
		}
		if ref, err := parseRef(key); err == nil {
			version := ref.version
			if version == "" {
				version = latestVersion
			}
			ff.values[ref.canonical] = value
			ff.values[versionedKey(ref.canonical, version)] = value
			continue
		}
		ff.values[key] = value
	}
	if err := scanner.Err(); err != nil {
		ff.err = fmt.Errorf("secrets: failed reading %s: %w", path, err)
	}
}

type instruments struct {
	latency    metric.Float64Histogram
	latencyOK  bool
	cacheHits  metric.Int64Counter
	cacheHitOK bool
}

func newInstruments(meter metric.Meter, logger *zap.Logger) instruments {
	var ins instruments
	var err error

	ins.latency, err = meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	ins.latencyOK = err == nil
	if err != nil {
		logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	}

	ins.cacheHits, err = meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	)
	ins.cacheHitOK = err == nil
	if err != nil {
		logger.Warn("secrets: unable to register cache hit metric", zap.Error(err))
	}

	return ins
}

func (ins instruments) observe(ctx context.Context, d time.Duration, source string, err error) {
	if !ins.latencyOK {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	ins.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (ins instruments) hit(ctx context.Context, canonical string) {
	if !ins.cacheHitOK {
		return
	}
	digest := sha256.Sum256([]byte(canonical))
	ins.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("secret", hex.EncodeToString(digest[:8])),
	))
}

type cacheLine struct {
	value     string
	canonical string
	fetchedAt time.Time
	source    string
}

// Fetcher resolves secret:// references through Google Secret Manager,
// with an in-memory cache and a local fallback file for development.
type Fetcher struct {
	client     versionClient
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string

	fallback *fallbackFile

	mu    sync.RWMutex
	lines map[string]cacheLine
	subs  map[string][]chan struct{}

	metrics instruments
}

type fetcherConfig struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projects     map[string]string
	fallbackPath string
	meter        metric.Meter
	client       versionClient
	clientOpts   []option.ClientOption
	pins         map[string]string
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithEnvironment selects the environment key used to resolve per-environment project IDs.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) { cfg.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject configures the project ID used when no environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.defaultProj = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies environment-specific project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.projects = cloneMap(m) }
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) { cfg.meter = m }
}

// WithSecretManagerClient injects a preconfigured Secret Manager client (primarily for tests).
func WithSecretManagerClient(client versionClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// WithVersionPins sets explicit version overrides keyed by canonical secret reference.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.pins = cloneMap(pins) }
}

// NewFetcher builds a Fetcher. When the Secret Manager client cannot be
// dialed the fetcher still works in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		projects:     map[string]string{},
		pins:         map[string]string{},
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		logger:         cfg.logger,
		env:            cfg.env,
		defaultProject: cfg.defaultProj,
		projects:       cloneMap(cfg.projects),
		pins:           cloneMap(cfg.pins),
		fallback:       &fallbackFile{path: cfg.fallbackPath},
		lines:          make(map[string]cacheLine),
		subs:           make(map[string][]chan struct{}),
		metrics:        newInstruments(meter, cfg.logger),
	}

	if cfg.client != nil {
		f.client = cfg.client
		return f, nil
	}

	client, err := newSecretManagerClient(ctx, cfg.clientOpts...)
	if err != nil {
		cfg.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the Secret Manager client and closes all subscriber channels.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	for canonical, channels := range f.subs {
		delete(f.subs, canonical)
		for _, ch := range channels {
			closeQuietly(ch)
		}
	}
	f.mu.Unlock()

	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value for a secret:// reference, consulting the cache,
// Secret Manager, and the local fallback file in that order.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()
	ref, err := parseRef(raw)
	if err != nil {
		return "", err
	}

	version := f.pinnedVersion(ref)
	key := versionedKey(ref.canonical, version)

	if value, ok := f.cached(key); ok {
		f.metrics.hit(ctx, ref.canonical)
		f.metrics.observe(ctx, time.Since(start), "cache", nil)
		return value, nil
	}

	projectID := f.projectFor(ref)
	if projectID != "" && f.client != nil {
		value, fetchErr := f.access(ctx, projectID, ref.name, version)
		if fetchErr == nil {
			f.remember(key, value, ref.canonical, "remote")
			f.metrics.observe(ctx, time.Since(start), "remote", nil)
			return value, nil
		}
		if !retriableViaFallback(fetchErr) {
			f.metrics.observe(ctx, time.Since(start), "error", fetchErr)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, fetchErr)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("ref", ref.canonical), zap.Error(fetchErr))
	}

	value, ok := f.fallback.get(ref, version)
	if !ok {
		if f.fallback.err != nil {
			f.logger.Debug("secrets: fallback load error", zap.Error(f.fallback.err))
		}
		err := fmt.Errorf("secrets: fallback value not found for %s", ref.canonical)
		f.metrics.observe(ctx, time.Since(start), "error", err)
		return "", err
	}

	f.remember(key, value, ref.canonical, "fallback")
	f.metrics.observe(ctx, time.Since(start), "fallback", nil)
	return value, nil
}

// Invalidate drops cached values for a reference and wakes its subscribers.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseRef(raw)
	if err != nil {
		return
	}

	f.mu.Lock()
	for key, line := range f.lines {
		if line.canonical == ref.canonical {
			delete(f.lines, key)
		}
	}
	channels := f.subs[ref.canonical]
	f.mu.Unlock()

	for _, ch := range channels {
		if ch == nil {
			continue
		}
		signalQuietly(ch)
	}
}

// Subscribe returns a channel that receives a signal whenever the reference
// is invalidated, and a cancel function that removes the subscription.
func (f *Fetcher) Subscribe(raw string) (<-chan struct{}, func()) {
	ref, err := parseRef(raw)
	if err != nil {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}

	ch := make(chan struct{}, 1)

	f.mu.Lock()
	f.subs[ref.canonical] = append(f.subs[ref.canonical], ch)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		channels := f.subs[ref.canonical]
		for i, existing := range channels {
			if existing == ch {
				channels = append(channels[:i], channels[i+1:]...)
				break
			}
		}
		if len(channels) == 0 {
			delete(f.subs, ref.canonical)
		} else {
			f.subs[ref.canonical] = channels
		}
	}

	return ch, cancel
}

// Notify reports an external rotation event for the reference.
func (f *Fetcher) Notify(raw string) {
	f.Invalidate(raw)
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	line, ok := f.lines[key]
	if !ok {
		return "", false
	}
	return line.value, true
}

func (f *Fetcher) remember(key, value, canonical, source string) {
	f.mu.Lock()
	f.lines[key] = cacheLine{
		value:     value,
		canonical: canonical,
		fetchedAt: time.Now(),
		source:    source,
	}
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, projectID, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) projectFor(ref reference) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projects[f.env]); id != "" {
		return id
	}
	return strings.TrimSpace(f.defaultProject)
}

// pinnedVersion prefers an explicit version on the reference, then an
// environment-scoped pin, then a global pin, then "latest".
func (f *Fetcher) pinnedVersion(ref reference) string {
	if ref.version != "" {
		return ref.version
	}
	if f.env != "" {
		if pin := strings.TrimSpace(f.pins[f.env+":"+ref.canonical]); pin != "" {
			return pin
		}
	}
	if pin := strings.TrimSpace(f.pins[ref.canonical]); pin != "" {
		return pin
	}
	return latestVersion
}

// retriableViaFallback reports whether a Secret Manager failure should be
// masked by the local fallback file instead of surfaced to the caller.
func retriableViaFallback(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func signalQuietly(ch chan struct{}) {
	defer func() { _ = recover() }()
	select {
	case ch <- struct{}{}:
	default:
	}
}

func closeQuietly(ch chan struct{}) {
	defer func() { _ = recover() }()
	close(ch)
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
