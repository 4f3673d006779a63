// Command ejectl is a thin CLI over the judge.Engine: it reads a request as
// JSON, wires up the configured storage/telemetry/signing backends, runs one
// adjudication, and prints the resulting Decision as JSON. It exists to give
// the core something runnable end to end; it is not the core's API surface —
// judge.Engine never imports net/http or this package.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eje-systems/eje/internal/audit"
	"github.com/eje-systems/eje/internal/config"
	"github.com/eje-systems/eje/internal/ejerr"
	"github.com/eje-systems/eje/internal/embedding"
	"github.com/eje-systems/eje/internal/pgstore"
	"github.com/eje-systems/eje/internal/pluginload"
	"github.com/eje-systems/eje/internal/precedent"
	"github.com/eje-systems/eje/internal/qdrantstore"
	"github.com/eje-systems/eje/internal/signing"
	"github.com/eje-systems/eje/internal/sqlitestore"
	"github.com/eje-systems/eje/internal/telemetry"
	"github.com/eje-systems/eje/judge"
)

func main() {
	os.Exit(run())
}

func run() int {
	requestPath := flag.String("request", "-", "path to a JSON request file, or \"-\" for stdin")
	pluginDir := flag.String("plugins", "", "directory of .so critic plugins to load (overrides EJE_PLUGIN_ALLOWED_ROOT as the load root)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ejectl: load config: %v\n", err)
		return 2
	}

	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.SystemVersion, cfg.OTELInsecure)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ejectl: init telemetry: %v\n", err)
		return 2
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	engine, cleanup, err := buildEngine(ctx, cfg, logger, *pluginDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ejectl: build engine: %v\n", err)
		return 2
	}
	defer cleanup()

	req, err := readRequest(*requestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ejectl: read request: %v\n", err)
		return 2
	}

	decision, err := engine.Decide(ctx, req)
	if err != nil {
		var rve *ejerr.RightsViolationError
		if errors.As(err, &rve) {
			fmt.Fprintf(os.Stderr, "ejectl: decision blocked: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "ejectl: decide: %v\n", err)
		return 2
	}

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ejectl: marshal decision: %v\n", err)
		return 2
	}
	fmt.Println(string(out))
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func readRequest(path string) (judge.Request, error) {
	var r io.Reader
	if path == "-" || path == "" {
		r = os.Stdin
	} else {
		f, err := os.Open(path) //nolint:gosec // CLI argument, same trust level as os.Args
		if err != nil {
			return judge.Request{}, fmt.Errorf("open %q: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var req judge.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return judge.Request{}, fmt.Errorf("decode JSON: %w", err)
	}
	return req, nil
}

// buildEngine wires a judge.Engine from cfg: the precedent backend (pgstore+
// qdrantstore or sqlitestore, per cfg.PrecedentBackend), the audit log
// (pgstore.AuditLog when cfg.AuditDBURI is set, otherwise an in-memory
// audit.HashChainLog), the Ed25519 signer, and any critic plugins found
// under pluginDir. The returned cleanup func releases every opened
// connection/handle and should be deferred by the caller.
func buildEngine(ctx context.Context, cfg config.Config, logger *slog.Logger, pluginDir string) (*judge.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var signer *signing.Ed25519Signer
	var err error
	if cfg.AuditEnableSigning {
		signer, err = signing.NewEd25519Signer(cfg.AuditSigningKeyPath, cfg.AuditSigningPublicKeyPath, time.Hour)
	} else {
		signer, err = signing.NewEd25519Signer("", "", time.Hour)
	}
	if err != nil {
		return nil, cleanup, fmt.Errorf("construct signer: %w", err)
	}

	auditLog, auditCleanup, err := buildAuditLog(ctx, cfg, logger, signer)
	if err != nil {
		cleanup()
		return nil, cleanup, err
	}
	closers = append(closers, auditCleanup)

	opts := []judge.Option{
		judge.WithLogger(logger),
		judge.WithRightsHierarchy(cfg.RightsHierarchy),
		judge.WithGovernanceMode(cfg.GovernanceMode),
		judge.WithFallbackConfig(cfg.Fallback),
		judge.WithAuditLog(auditLog),
		judge.WithRankWeights(cfg.RankWeights),
		judge.WithRecencyDecayDays(cfg.RecencyDecayDays),
		judge.WithPrecedentLimit(cfg.PrecedentLimit),
		judge.WithPrecedentMinSimilarity(cfg.PrecedentMinSimilarity),
		judge.WithSystemVersion(cfg.SystemVersion),
		judge.WithEnvironment(environmentFor(cfg)),
	}

	if cfg.PrecedentEnabled {
		store, storeCleanup, err := buildPrecedentStore(ctx, cfg, logger)
		if err != nil {
			cleanup()
			return nil, cleanup, err
		}
		closers = append(closers, storeCleanup)
		opts = append(opts, judge.WithPrecedentStore(store))
	}

	root := pluginDir
	if root == "" {
		root = cfg.PluginAllowedRoot
	}
	if root != "" {
		loaded, err := loadCriticPlugins(root)
		if err != nil {
			cleanup()
			return nil, cleanup, fmt.Errorf("load critic plugins: %w", err)
		}
		opts = append(opts, judge.WithCritics(loaded...))
	}

	engine, err := judge.New(opts...)
	if err != nil {
		cleanup()
		return nil, cleanup, fmt.Errorf("construct engine: %w", err)
	}
	return engine, cleanup, nil
}

func buildAuditLog(ctx context.Context, cfg config.Config, logger *slog.Logger, signer *signing.Ed25519Signer) (judge.AuditLog, func(), error) {
	if cfg.AuditDBURI == "" {
		return auditOnlySigner(signer), func() {}, nil
	}

	db, err := pgstore.New(ctx, cfg.AuditDBURI, logger)
	if err != nil {
		return nil, func() {}, fmt.Errorf("connect audit database: %w", err)
	}
	auditLog := pgstore.NewAuditLog(db, signer)
	if err := auditLog.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, func() {}, fmt.Errorf("ensure audit schema: %w", err)
	}
	return auditLog, func() { db.Close() }, nil
}

// auditOnlySigner constructs the in-memory audit log, grounded on
// audit.HashChainLog, used whenever no durable audit database is configured.
func auditOnlySigner(signer *signing.Ed25519Signer) judge.AuditLog {
	return audit.NewHashChainLog(signer)
}

func buildPrecedentStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (precedent.Store, func(), error) {
	switch cfg.PrecedentBackend {
	case "file":
		store, err := sqlitestore.Open(cfg.PrecedentFilePath)
		if err != nil {
			return nil, func() {}, fmt.Errorf("open sqlite precedent store: %w", err)
		}
		return store, func() { store.Close() }, nil

	default: // "vector"
		var closers []func()
		cleanup := func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}

		db, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connect precedent database: %w", err)
		}
		closers = append(closers, func() { db.Close() })

		provider := embeddingProvider(cfg)

		ps := pgstore.NewPrecedentStore(db, provider)
		if err := ps.EnsureSchema(ctx, provider.Dimensions()); err != nil {
			cleanup()
			return nil, cleanup, fmt.Errorf("ensure precedent schema: %w", err)
		}

		if cfg.QdrantURL != "" {
			idx, err := qdrantstore.NewIndex(qdrantstore.Config{
				URL:        cfg.QdrantURL,
				APIKey:     cfg.QdrantAPIKey,
				Collection: cfg.QdrantCollection,
				Dims:       uint64(provider.Dimensions()), //nolint:gosec // dimensions is a small positive config value
			}, logger)
			if err != nil {
				logger.Warn("qdrantstore: failed to connect, precedent search will use pgvector only", "error", err)
			} else {
				if err := idx.EnsureCollection(ctx); err != nil {
					logger.Warn("qdrantstore: failed to ensure collection, precedent search will use pgvector only", "error", err)
				} else {
					ps.WithANNIndex(idx)
				}
				closers = append(closers, func() { _ = idx.Close() })
			}
		}

		return ps, cleanup, nil
	}
}

func embeddingProvider(cfg config.Config) embedding.Provider {
	if cfg.EmbeddingAPIKey == "" {
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
	provider, err := embedding.NewOpenAIProvider(cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	if err != nil {
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
	return provider
}

// loadCriticPlugins loads every .so file directly under root.
func loadCriticPlugins(root string) ([]judge.Critic, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read plugin directory %q: %w", root, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}
		paths = append(paths, filepath.Join(root, e.Name()))
	}

	loader := pluginload.NewLoader(root)
	critics, err := loader.LoadAll(paths)
	if err != nil {
		return nil, err
	}

	out := make([]judge.Critic, len(critics))
	copy(out, critics)
	return out, nil
}

func environmentFor(cfg config.Config) judge.Environment {
	switch strings.ToLower(cfg.ServiceName) {
	case "eje-staging":
		return judge.EnvStaging
	case "eje-dev":
		return judge.EnvDevelopment
	default:
		if cfg.SystemVersion == "dev" {
			return judge.EnvDevelopment
		}
		return judge.EnvProduction
	}
}
