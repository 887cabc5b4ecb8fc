// Mock Server - local stand-in for the streaming recognition service.
// Point the client at it with --endpoint ws://localhost:8765/api/v3/sauc/bigmodel.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"sauc-asr-client/internal/mockserver"
	"sauc-asr-client/internal/observability/logging"
	"sauc-asr-client/internal/protocol"
)

func main() {
	addr := flag.String("addr", ":8765", "Listen address")
	path := flag.String("path", "/api/v3/sauc/bigmodel", "WebSocket path")
	mode := flag.String("mode", mockserver.ModeProgressive.String(), "progressive, immediate, silent, error or hangup")
	partials := flag.String("partials", strings.Join(mockserver.DefaultScript.Partials, ","), "Partial transcripts (comma-separated)")
	final := flag.String("final", mockserver.DefaultScript.Final, "Definite transcript")
	partialsBeforeError := flag.Int("partials-before-error", 0, "Partials sent before an error or hang-up")
	errorCode := flag.Uint("error-code", uint(mockserver.DefaultScript.ErrorCode), "Error code for error mode")
	appKey := flag.String("app-key", "", "Required X-Api-App-Key (empty accepts any)")
	accessKey := flag.String("access-key", "", "Required X-Api-Access-Key (empty accepts any)")
	gzip := flag.Bool("gzip", true, "Gzip response payloads")
	logLevel := flag.String("log-level", "debug", "Log level")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Level = *logLevel
	logging.Init(logCfg)

	m, err := mockserver.ParseMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mode")
	}

	script := mockserver.DefaultScript
	script.Mode = m
	script.Final = *final
	script.Partials = nil
	for _, p := range strings.Split(*partials, ",") {
		if p = strings.TrimSpace(p); p != "" {
			script.Partials = append(script.Partials, p)
		}
	}
	script.PartialsBeforeError = *partialsBeforeError
	script.ErrorCode = uint32(*errorCode)
	script.AppKey = *appKey
	script.AccessKey = *accessKey
	if !*gzip {
		script.Compression = protocol.CompressionNone
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Handle(*path, mockserver.New(script))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Str("addr", *addr).
			Str("path", *path).
			Str("mode", m.String()).
			Msg("Mock recognition server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down mock server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
