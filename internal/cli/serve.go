package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/config"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/engine"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/httpapi"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/modelmgr"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/postproc"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/prompt"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/registry"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/taskstore"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

func init() {
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to config file (.yaml, .json or .toml)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Directory for the task database (empty: in-memory store)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveConfig  string
	serveAddr    string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Cerastes API server",
	Long:  `Start the task API server with the model manager and worker pool.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Config{}
	if serveConfig == "" {
		if v := os.Getenv("CERASTES_CONFIG"); v != "" {
			serveConfig = v
		}
	}
	if serveConfig != "" {
		loaded, err := config.Load(serveConfig)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveDataDir != "" {
		cfg.DataDir = serveDataDir
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	logger := newLogger(cfg.LogLevel)

	models := registry.Builtin()
	if cfg.ModelsFile != "" {
		loaded, err := registry.LoadFile(cfg.ModelsFile)
		if err != nil {
			return fmt.Errorf("load registry: %w", err)
		}
		models = loaded
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := modelmgr.New(modelmgr.Config{
		Registry:       models,
		BudgetMB:       cfg.MemoryBudgetMB,
		DefaultModel:   cfg.DefaultModel,
		AcquireTimeout: time.Duration(cfg.AcquireTimeoutSeconds) * time.Second,
		RunTimeout:     time.Duration(cfg.RunTimeoutSeconds) * time.Second,
		Logger:         logger,
	})
	defer mgr.Close()

	prompts := prompt.NewLibrary(logger)
	if cfg.PromptsDir != "" {
		if err := prompts.LoadDir(cfg.PromptsDir); err != nil {
			return fmt.Errorf("load prompts: %w", err)
		}
	}

	simplifier := postproc.New(postprocConfig(cfg.Postprocessing), mgr, logger)

	eng := engine.New(engine.Config{
		Store:            store,
		Models:           mgr,
		Prompts:          prompts,
		Simplifier:       simplifier,
		Quotas:           engine.NewStaticQuotas(cfg.Plans, cfg.APIKeys, cfg.DefaultPlan),
		Workers:          cfg.Workers,
		GlobalMaxRunning: cfg.GlobalMaxRunning,
		MaxAttempts:      cfg.MaxAttempts,
		KindTimeouts:     kindTimeouts(cfg.KindTimeoutSeconds),
		Logger:           &logger,
	})
	eng.Start()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(logger)

	var origins []string
	if cfg.CORS.Enabled {
		origins = cfg.CORS.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
	}
	mux := httpapi.NewMux(eng, httpapi.Options{AllowedOrigins: origins})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Int("models", len(models)).Msg("cerastesd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutting down")

	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := eng.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("engine drain incomplete")
	}
	return nil
}

func openStore(cfg config.Config, logger zerolog.Logger) (taskstore.Store, error) {
	if cfg.DataDir == "" {
		logger.Info().Msg("using in-memory task store")
		return taskstore.NewMemStore(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := taskstore.OpenSQLite(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	logger.Info().Str("dir", cfg.DataDir).Msg("using sqlite task store")
	return store, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func postprocConfig(pc config.Postprocessing) postproc.Config {
	applyTo := make([]types.TaskKind, 0, len(pc.ApplyTo))
	for _, k := range pc.ApplyTo {
		applyTo = append(applyTo, types.TaskKind(k))
	}
	return postproc.Config{
		Enabled:     pc.Enabled,
		Model:       pc.Model,
		Prompt:      pc.Prompt,
		MaxTokens:   pc.MaxTokens,
		Temperature: pc.Temperature,
		ApplyTo:     applyTo,
	}
}

func kindTimeouts(m map[string]int) map[types.TaskKind]time.Duration {
	if len(m) == 0 {
		return nil
	}
	out := make(map[types.TaskKind]time.Duration, len(m))
	for k, secs := range m {
		if secs > 0 {
			out[types.TaskKind(k)] = time.Duration(secs) * time.Second
		}
	}
	return out
}
