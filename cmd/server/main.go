// Sentinel is a security-operations signal pipeline: it ingests signals,
// normalizes them into unified events, correlates, scores and tiers them,
// and escalates what needs a human.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sentinel/internal/authmw"
	sc "github.com/linnemanlabs/sentinel/internal/cfg"
	"github.com/linnemanlabs/sentinel/internal/correlation"
	"github.com/linnemanlabs/sentinel/internal/decision"
	"github.com/linnemanlabs/sentinel/internal/escalation"
	"github.com/linnemanlabs/sentinel/internal/event"
	"github.com/linnemanlabs/sentinel/internal/event/memstore"
	"github.com/linnemanlabs/sentinel/internal/event/pgstore"
	"github.com/linnemanlabs/sentinel/internal/ingestapi"
	"github.com/linnemanlabs/sentinel/internal/llm/claude"
	"github.com/linnemanlabs/sentinel/internal/notify/slack"
	"github.com/linnemanlabs/sentinel/internal/postgres"
	"github.com/linnemanlabs/sentinel/internal/risk"
	sig "github.com/linnemanlabs/sentinel/internal/signal"
)

const appName = "sentinel"
const component = "server"

// sourceDefaults fixes the event type, severity and confidence each known
// producer source maps to. Unknown sources fall through to a generic
// low-severity event; the normalizer never derives these from payload
// content. The risk scorer's feedback signals are deliberately absent so
// they land as generic events: the escalation service already consumes them
// on the signal path, and a second analyst-gated event would duplicate the
// escalation.
var sourceDefaults = map[string]event.SourceDefaults{
	"chat_audit":         {EventType: "audit_entry", Severity: event.SeverityMedium, Confidence: 0.8},
	"intel_feed":         {EventType: "feed_alert", Severity: event.SeverityHigh, Confidence: 0.7},
	"correlation_engine": {EventType: "correlated_activity", Severity: event.SeverityMedium, Confidence: 0.7},
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    sc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix SENTINEL_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "SENTINEL_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"dedup_window_seconds", appCfg.DedupWindowSeconds,
		"history_cap", appCfg.HistoryCap,
		"rules_file", appCfg.RulesFile,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Per-stage pipeline metrics on the shared Prometheus registry.
	signalMetrics := sig.NewMetrics(m.Registry())
	eventMetrics := event.NewMetrics(m.Registry())
	corrMetrics := correlation.NewMetrics(m.Registry())
	riskMetrics := risk.NewMetrics(m.Registry())
	decisionMetrics := decision.NewMetrics(m.Registry())
	escMetrics := escalation.NewMetrics(m.Registry())

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Initialize the event store. Postgres when a database is configured,
	// otherwise the bounded in-memory store with an optional JSON snapshot.
	var eventStore event.Store
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		eventStore = pgStore
		L.Info(ctx, "using postgres event store")
	} else {
		memStore, err := memstore.New(memstore.WithSnapshot(appCfg.EventSnapshotPath))
		if err != nil {
			return fmt.Errorf("memstore init: %w", err)
		}
		eventStore = memStore
		L.Info(ctx, "using in-memory event store (no database-url configured)",
			"snapshot_path", appCfg.EventSnapshotPath)
	}

	dedupWindow := time.Duration(appCfg.DedupWindowSeconds) * time.Second

	// The signal bus is the single process-wide dispatcher; every producer
	// and consumer below holds a reference to this one instance.
	bus := sig.NewBus(sig.Options{
		DedupWindow: dedupWindow,
		HistoryCap:  appCfg.HistoryCap,
	}, L, signalMetrics.Hooks())

	// Normalizer with fixed per-source defaults. Rejected entries are config
	// typos; surface them and continue with the rest.
	normalizer, rejected := event.NewNormalizer(sourceDefaults)
	for _, rerr := range rejected {
		L.Warn(ctx, "dropping invalid source defaults", "error", rerr)
	}

	orchestrator := event.NewOrchestrator(eventStore, dedupWindow, L, eventMetrics.OrchestratorHooks())
	router := event.NewRouter(L, eventMetrics.RouterHooks())

	// Correlation rules: file when configured, built-in burst rules otherwise.
	rules, warns, err := correlation.LoadFile(appCfg.RulesFile)
	if err != nil {
		return fmt.Errorf("correlation rules: %w", err)
	}
	for _, w := range warns {
		L.Warn(ctx, "dropping invalid correlation rule", "error", w)
	}
	engine := correlation.NewEngine(bus, rules, L, corrMetrics.Hooks())
	engine.Attach(bus)
	L.Info(ctx, "correlation engine attached", "rules", len(engine.Rules()))

	// Risk scorer: the bus doubles as its frequency history.
	scorer := risk.NewScorer(bus, bus, L, riskMetrics.Hooks())
	scorer.Attach(bus)

	// Decision layer: tier table plus the independent abstention gate.
	tiers, err := decision.NewTiers(decision.DefaultTiers())
	if err != nil {
		return fmt.Errorf("decision tiers: %w", err)
	}
	abstain, err := decision.NewAbstentionPolicy(decision.AbstentionThresholds{
		MinConfidence:   appCfg.AbstainMinConfidence,
		MaxUncertainty:  appCfg.AbstainMaxUncertainty,
		MinSamples:      appCfg.AbstainMinSamples,
		MaxDisagreement: appCfg.AbstainMaxDisagreement,
	}, bus, L, decisionMetrics.Hooks())
	if err != nil {
		return fmt.Errorf("abstention policy: %w", err)
	}

	// Optional escalation collaborators.
	var summarizer escalation.Summarizer
	if appCfg.ClaudeAPIKey != "" {
		summarizer = claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
		L.Info(ctx, "incident summaries enabled", "provider", "claude", "model", appCfg.ClaudeModel)
	}
	var notifier escalation.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	esc := escalation.NewService(tiers, escalation.Options{
		Summarizer: summarizer,
		Notifier:   notifier,
		HistoryCap: appCfg.EscalationHistory,
		Logger:     L,
		Hooks:      escMetrics.Hooks(),
	})
	if err := esc.Attach(bus, router); err != nil {
		return fmt.Errorf("escalation attach: %w", err)
	}

	// Decision destination: tiering gates autonomy first, then the
	// abstention policy gets a veto. Abstentions emit their own
	// escalation_required signal, so a veto here needs no further action.
	err = router.Register(event.DestDecision, "decision_policy", func(ctx context.Context, e *event.Event) error {
		sev := sig.SeverityFromOrdinal(e.Severity)
		if !tiers.CanAutoRemediate(sev, e.Confidence) {
			return nil
		}
		in := decision.Input{
			Confidence:  e.Confidence,
			Uncertainty: 1 - e.Confidence,
			SampleCount: bus.CountSince(e.Context.SourceModule, time.Now().Add(-time.Hour)),
		}
		if reason := abstain.ShouldAbstain(ctx, e.Context.SourceModule, in); reason != decision.ReasonNone {
			return nil
		}
		L.Info(ctx, "auto-remediation approved",
			"event_id", e.ID, "event_type", e.Type, "severity", e.Severity, "confidence", e.Confidence)
		return nil
	})
	if err != nil {
		return fmt.Errorf("decision destination: %w", err)
	}

	// Bridge the signal bus into the event pipeline: every delivered signal
	// becomes a unified event, deduped and logged by the orchestrator, then
	// fanned out by the router.
	bus.SubscribeAll("event_pipeline", func(ctx context.Context, s *sig.Signal) error {
		raw := make(map[string]any, len(s.Data)+4)
		for k, val := range s.Data {
			raw[k] = val
		}
		raw["signal_id"] = s.ID
		raw["signal_type"] = string(s.Type)
		raw["signal_severity"] = string(s.Severity)
		raw["confidence"] = s.Confidence

		ev := normalizer.Normalize(s.Source, raw)
		accepted, err := orchestrator.Process(ctx, ev)
		if err != nil {
			return err
		}
		if accepted {
			router.Route(ctx, ev)
		}
		return nil
	})

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64)) // 64KB, signal payloads are small

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes, behind bearer auth when a token is configured.
	// health endpoints above stay open for load balancer checks.
	ingestHTTP := ingestapi.New(L, bus, orchestrator, esc)
	r.Group(func(gr chi.Router) {
		if appCfg.APIAuthToken != "" {
			gr.Use(authmw.BearerToken(appCfg.APIAuthToken))
			L.Info(ctx, "api bearer auth enabled")
		}
		ingestHTTP.RegisterRoutes(gr)
	})

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	ingestOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start ingest HTTP server with middleware and handlers
	ingestHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, ingestOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ingest http listener")
		return err
	}
	defer func() {
		err := ingestHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ingest http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"ingest http server", ingestHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
