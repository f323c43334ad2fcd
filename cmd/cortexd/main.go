// cortexd wires the runtime execution core: write-ahead log, state
// surface, outbox with sweeper, intent registry, policy engine, artifact
// stores, and the lifecycle manager.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"

	"github.com/lattice-works/cortex/pkg/artifacts"
	"github.com/lattice-works/cortex/pkg/audit"
	"github.com/lattice-works/cortex/pkg/config"
	"github.com/lattice-works/cortex/pkg/intent"
	"github.com/lattice-works/cortex/pkg/lifecycle"
	"github.com/lattice-works/cortex/pkg/observability"
	"github.com/lattice-works/cortex/pkg/outbox"
	"github.com/lattice-works/cortex/pkg/policy"
	"github.com/lattice-works/cortex/pkg/registry"
	"github.com/lattice-works/cortex/pkg/state"
	"github.com/lattice-works/cortex/pkg/wal"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "cortexd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "cortex",
		ServiceVersion: "0.1.0",
		Environment:    getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	w, surface, ob, err := buildStores(cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}

	engine, err := buildPolicyEngine(cfg)
	if err != nil {
		logger.Error("policy init failed", "error", err)
		os.Exit(1)
	}

	blobs, err := artifacts.NewBlobStoreFromEnv(ctx)
	if err != nil {
		logger.Error("blob store init failed", "error", err)
		os.Exit(1)
	}
	store := artifacts.NewCompositeStore(artifacts.NewCatalog(), blobs)

	reg := registry.New()
	registerBuiltins(reg)

	opts := []lifecycle.Option{
		lifecycle.WithAudit(audit.NewLogger()),
		lifecycle.WithTracer(obs.Tracer()),
		lifecycle.WithIndex(artifacts.NewMemoryIndex()),
	}
	if cfg.RedisAddr != "" {
		cache := artifacts.NewCache(cfg.RedisAddr, time.Hour)
		defer func() { _ = cache.Close() }()
		opts = append(opts, lifecycle.WithCache(cache))
	}
	manager := lifecycle.NewManager(w, surface, ob, reg, engine, store, opts...)

	// Background sweep retries events whose first publish attempt failed.
	if sweepable, ok := ob.(outbox.Store); ok {
		sweeper := outbox.NewSweeper(sweepable, outbox.SweeperConfig{
			Interval: time.Duration(cfg.OutboxSweepSeconds) * time.Second,
		})
		go sweeper.Run(ctx)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes(manager, w, obs),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	logger.Info("cortexd started",
		"port", cfg.Port,
		"intent_types", reg.List(),
		"artifact_store", cfg.ArtifactStoreType,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// routes exposes the intent-submission endpoint plus the recovery and
// audit-export admin endpoints. Everything past decoding is the lifecycle
// manager's job.
func routes(manager *lifecycle.Manager, walStore wal.WAL, obs *observability.Provider) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /intents", func(w http.ResponseWriter, r *http.Request) {
		var in intent.Intent
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid intent body", http.StatusBadRequest)
			return
		}

		ctx, done := obs.TrackExecution(r.Context(), "lifecycle.execute",
			attribute.String("intent.type", in.IntentType),
			attribute.String("tenant.id", in.TenantID),
		)
		result := manager.Execute(ctx, &in)
		if result.Success {
			done(nil)
		} else {
			done(errors.New(result.Error))
		}

		w.Header().Set("Content-Type", "application/json")
		if !result.Success && result.ExecutionID == "" {
			w.WriteHeader(http.StatusBadRequest)
		}
		_ = json.NewEncoder(w).Encode(result)
	})
	mux.HandleFunc("GET /admin/executions/incomplete", func(w http.ResponseWriter, r *http.Request) {
		tenant := r.URL.Query().Get("tenant_id")
		if tenant == "" {
			http.Error(w, "tenant_id is required", http.StatusBadRequest)
			return
		}
		events, err := walStore.Read(r.Context(), tenant, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"tenant_id":     tenant,
			"execution_ids": wal.Incomplete(events),
		})
	})
	mux.HandleFunc("GET /admin/wal/bundle", func(w http.ResponseWriter, r *http.Request) {
		tenant := r.URL.Query().Get("tenant_id")
		if tenant == "" {
			http.Error(w, "tenant_id is required", http.StatusBadRequest)
			return
		}
		events, err := walStore.Read(r.Context(), tenant, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		bundle, err := wal.NewBundle(tenant, events)
		if err != nil {
			if errors.Is(err, wal.ErrEmptyBundle) {
				http.Error(w, "no events for tenant", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(bundle)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// buildStores selects backends by configuration: Postgres when
// DATABASE_URL is set, SQLite when SQLITE_PATH is set, in-memory
// otherwise.
func buildStores(cfg *config.Config, logger *slog.Logger) (wal.WAL, state.Surface, outbox.Outbox, error) {
	switch {
	case cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		w, err := wal.NewPostgresWAL(db)
		if err != nil {
			return nil, nil, nil, err
		}
		surface, err := state.NewPostgresSurface(db)
		if err != nil {
			return nil, nil, nil, err
		}
		ob, err := outbox.NewPostgresOutbox(db, logPublisher(logger))
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using postgres stores")
		return w, surface, ob, nil
	case cfg.SQLitePath != "":
		db, err := sql.Open("sqlite", "file:"+cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		w, err := wal.NewSQLiteWAL(db)
		if err != nil {
			return nil, nil, nil, err
		}
		surface, err := state.NewSQLiteSurface(db)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using sqlite stores", "path", cfg.SQLitePath)
		return w, surface, outbox.NewMemoryOutbox(logPublisher(logger)), nil
	default:
		logger.Info("using in-memory stores")
		return wal.NewMemoryWAL(), state.NewMemorySurface(), outbox.NewMemoryOutbox(logPublisher(logger)), nil
	}
}

// logPublisher stands in for a message bus until one is wired.
func logPublisher(logger *slog.Logger) outbox.Publisher {
	return func(ctx context.Context, ev outbox.Event) error {
		logger.InfoContext(ctx, "event published",
			"event_id", ev.ID, "event_type", ev.EventType, "execution_id", ev.ExecutionID)
		return nil
	}
}

func buildPolicyEngine(cfg *config.Config) (*policy.Engine, error) {
	if cfg.PolicyRulesPath != "" {
		rs, err := policy.LoadRules(cfg.PolicyRulesPath)
		if err != nil {
			return nil, err
		}
		return policy.NewEngine(rs)
	}
	// Conservative default: keep small tables, discard everything else.
	rs, err := policy.ParseRules([]byte(`
default: DISCARD
rules:
  - id: persist-small-tables
    expression: 'result_type == "table" && rendering_bytes < 1048576'
    decision: PERSIST
    priority: 100
    enabled: true
  - id: cache-previews
    expression: 'result_type == "preview"'
    decision: CACHE
    priority: 50
    enabled: true
`))
	if err != nil {
		return nil, err
	}
	return policy.NewEngine(rs)
}

// registerBuiltins installs the demo ingest handler used until realm
// collaborators register their own.
func registerBuiltins(reg *registry.Registry) {
	_ = reg.Register("ingest_file", registry.HandlerFunc(echoIngest))
	_ = reg.RegisterSchema("ingest_file", []byte(`{
		"type": "object",
		"required": ["ui_name"],
		"properties": {"ui_name": {"type": "string", "minLength": 1}}
	}`))
}

func echoIngest(ctx context.Context, in *intent.Intent, ectx *intent.ExecutionContext) (*registry.HandlerResult, error) {
	return &registry.HandlerResult{
		Artifacts: map[string]registry.ArtifactPayload{
			"ingested_file": {
				ResultType: "table",
				SemanticPayload: map[string]interface{}{
					"ui_name":              in.StringParam("ui_name", "unknown"),
					"boundary_contract_id": ectx.Gate.BoundaryContractID,
				},
			},
		},
		Events: []intent.Event{{
			EventType: "file.ingested",
			EventData: map[string]interface{}{"execution_id": ectx.ExecutionID},
		}},
	}, nil
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
