package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluko123/hitcounter/pkg/config"
	"github.com/aluko123/hitcounter/pkg/logger"
	"github.com/aluko123/hitcounter/pkg/middleware"
	"github.com/aluko123/hitcounter/proxy"
	"github.com/aluko123/hitcounter/proxy/handlers"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// --- 1. Configuration Flags ---
	var (
		configPath string
		listen     string
		mode       string
		debug      bool
	)

	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&listen, "listen", "", "listen address (overrides config)")
	flag.StringVar(&mode, "mode", "", "run mode: http or lambda (overrides config)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")

	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = listen
		case "mode":
			cfg.Mode = mode
		case "debug":
			cfg.Debug = debug
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// --- 2. Logging ---
	logOpts := logger.Options{Format: cfg.Log.Format, Level: cfg.Log.Level}
	if cfg.Debug {
		logOpts.Level = "DEBUG"
	}
	if cfg.Log.File != "" {
		w := logger.NewFileWriter(logger.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		})
		defer w.Close()
		logOpts.Output = w
	}
	log := logger.New(logOpts)
	logger.SetDefault(log)

	// --- 3. Initialize Infrastructure ---
	ctx := context.Background()
	var res closers

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize counter store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	res = append(res, store)
	log.Info("counter store initialized", "backend", cfg.Store.Backend)

	target, closer, err := buildDownstream(ctx, cfg.Downstream)
	if err != nil {
		res.Close()
		log.Error("failed to initialize downstream", "kind", cfg.Downstream.Kind, "error", err)
		os.Exit(1)
	}
	if closer != nil {
		res = append(res, closer)
	}
	log.Info("downstream initialized", "kind", cfg.Downstream.Kind)

	hc := proxy.New(store, target, cfg.HitCounter())

	// --- 4. Lambda mode ---
	if cfg.Mode == config.ModeLambda {
		log.Info("starting lambda handler")
		// lambda.Start does not return
		lambda.Start(handlers.APIGateway(hc))
		return
	}
	defer res.Close()

	// --- 5. Setup Handlers & Routing ---
	mux := http.NewServeMux()

	// A. Observability
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok\n")
	})

	// B. Recorded counts
	mux.Handle("/_hits", handlers.NewHits(hc))

	// C. Hit counting proxy (catch-all)
	mux.Handle("/", handlers.NewHTTP(hc, cfg.MaxBodyBytes))

	// --- 6. Apply Global Middleware ---
	finalHandler := middleware.Chain(
		mux,
		middleware.WithRecovery(),
		middleware.WithLogging(cfg.Debug),
		middleware.WithRequestID(),
	)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           finalHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- 7. Start Server ---
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting hit counter", "addr", server.Addr, "policy", cfg.Policy)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server exited with error", "error", err)
		}
	}
}
