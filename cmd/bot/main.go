package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/splintertree/splintertree/internal/config"
	"github.com/splintertree/splintertree/internal/dispatch"
	"github.com/splintertree/splintertree/internal/gateway"
	"github.com/splintertree/splintertree/internal/history"
	"github.com/splintertree/splintertree/internal/logging"
	"github.com/splintertree/splintertree/internal/ops"
	"github.com/splintertree/splintertree/internal/provider"
	"github.com/splintertree/splintertree/internal/store"
)

func main() {
	// Missing .env is fine; environment may be set by the supervisor.
	_ = godotenv.Load()

	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("configuration error")
	}

	st := store.Open(cfg.DBPath, cfg.FallbackLogPath, logger)
	defer st.Close()

	// One connection pool shared by every backend client. No client-level
	// timeout: streamed responses stay open as long as the provider sends,
	// and the retry budget bounds transient failures.
	httpClient := &http.Client{}

	assembler := history.NewAssembler(st, cfg.VisionPersona, logger)

	openRouter := provider.NewOpenRouter(cfg.OpenRouterAPIKey, cfg.OpenRouterAPIURL, httpClient, st, logger)
	openPipe := provider.NewOpenPipe(cfg.OpenPipeAPIKey, cfg.OpenPipeAPIURL, httpClient, st, logger)
	clients := map[string]dispatch.Completer{
		"openrouter": openRouter,
		"openpipe":   openPipe,
	}

	gw := gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken, logger)

	router := dispatch.NewRouter(cfg, st, assembler, gw, httpClient, logger)

	var summarizer ops.Summarizer
	if cfg.OpenPipeAPIKey != "" {
		s := history.NewSummarizer(st, openPipe, cfg.SummaryModel, logger)
		router.SetSummarizer(s)
		summarizer = s
	} else {
		logger.Warn("OPENPIPE_API_KEY not set, chat summarization disabled")
	}
	for _, b := range dispatch.DefaultBackends() {
		client, ok := clients[b.Provider]
		if !ok {
			logger.WithField("backend", b.Name).Fatalf("unknown provider %q", b.Provider)
		}
		if b.Provider == "openpipe" && cfg.OpenPipeAPIKey == "" {
			logger.WithField("backend", b.Name).Warn("OPENPIPE_API_KEY not set, skipping backend")
			continue
		}
		if err := router.Register(b, client); err != nil {
			logger.WithError(err).Fatal("failed to register backend")
		}
		logger.WithField("backend", b.Name).WithField("triggers", b.Triggers).Info("registered backend")
	}

	gw.SetHandler(router)

	opsServer := &http.Server{Addr: cfg.OpsAddr, Handler: ops.NewRouter(st, summarizer, logger)}
	go func() {
		logger.WithField("addr", cfg.OpsAddr).Info("ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("ops server stopped")
		}
	}()

	go gw.Run()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	gw.Close()
	opsServer.Close()
}
