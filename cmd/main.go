package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sauc-asr-client/internal/app"
	"sauc-asr-client/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one recognition and returns the process exit code. The
// recognized text goes to stdout as "RESULT:<text>"; any failure goes to
// stderr as "ERROR:<message>" with exit code 1.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...app.Option) int {
	cfg := config.Load()
	if err := parseFlags(cfg, args, stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "ERROR:%v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "ERROR:%v\n", err)
		return 1
	}

	a := app.New(cfg, opts...)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Shutdown(shutdownCtx)
	}()

	if err := a.Start(); err != nil {
		fmt.Fprintf(stderr, "ERROR:%v\n", err)
		return 1
	}

	result, err := a.Recognize(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR:%v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "RESULT:%s\n", result.Text)
	return 0
}

// parseFlags overrides the environment configuration with command-line flags.
func parseFlags(cfg *config.Configuration, args []string, output io.Writer) error {
	fs := flag.NewFlagSet("sauc-asr-client", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.Volc.AppKey, "appid", cfg.Volc.AppKey, "APP ID (X-Api-App-Key)")
	fs.StringVar(&cfg.Volc.AccessKey, "token", cfg.Volc.AccessKey, "Access token (X-Api-Access-Key)")
	fs.StringVar(&cfg.Volc.ResourceID, "resource-id", cfg.Volc.ResourceID, "Resource ID")
	fs.StringVar(&cfg.Volc.Endpoint, "endpoint", cfg.Volc.Endpoint, "WebSocket endpoint")

	fs.StringVar(&cfg.Audio.Path, "audio", cfg.Audio.Path, "Audio file path (PCM)")
	fs.StringVar(&cfg.Audio.Format, "format", cfg.Audio.Format, "Audio format")
	fs.IntVar(&cfg.Audio.SampleRateHz, "sample-rate", cfg.Audio.SampleRateHz, "Sample rate in Hz")
	fs.IntVar(&cfg.Audio.Bits, "bits", cfg.Audio.Bits, "Bits per sample")
	fs.IntVar(&cfg.Audio.Channels, "channels", cfg.Audio.Channels, "Channel count")

	fs.StringVar(&cfg.Recognition.Language, "language", cfg.Recognition.Language, "Recognition language")
	fs.IntVar(&cfg.Session.ChunkSize, "chunk-size", cfg.Session.ChunkSize, "Audio bytes per frame")
	fs.DurationVar(&cfg.Session.ReceiveTimeout, "timeout", cfg.Session.ReceiveTimeout, "Wait for each server frame at most this long")

	fs.StringVar(&cfg.Observability.LogLevel, "log-level", cfg.Observability.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Observability.LogFormat, "log-format", cfg.Observability.LogFormat, "Log format (console, json)")
	fs.StringVar(&cfg.Observability.MetricsAddr, "metrics-addr", cfg.Observability.MetricsAddr, "Serve /metrics on this address while running")

	return fs.Parse(args)
}
