// Command advisor runs one field advisory cycle and prints the report.
// With -transcribe it instead prints the transcript of an audio file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kjstillabower/field-advisory/internal/app"
	"github.com/kjstillabower/field-advisory/internal/config"
	"github.com/kjstillabower/field-advisory/internal/observability"
	"github.com/kjstillabower/field-advisory/internal/pipeline"
	"github.com/kjstillabower/field-advisory/internal/validation"
)

func main() {
	transcribe := flag.String("transcribe", "", "transcribe `FILE` (a farmer's voice question) and exit")
	language := flag.String("language", "", "override the advisory language for this run (e.g. te, hi)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger, *transcribe, *language)
	stop()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, transcribe, language string) int {
	lang, err := validation.Language(language)
	if err != nil {
		logger.Error("invalid -language", zap.Error(err))
		return 2
	}

	a, err := app.New(cfg, logger, os.Stdout)
	if err != nil {
		logger.Error("wiring failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()

	if transcribe != "" {
		text, err := a.OpenAI.Transcribe(ctx, transcribe)
		if err != nil {
			logger.Error("transcription failed", zap.String("file", transcribe), zap.Error(err))
			return 1
		}
		fmt.Println(text)
		return 0
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()
	res, err := a.Pipeline.Run(ctx, pipeline.RunOptions{Language: lang})
	if err != nil {
		return 1
	}
	if err := pipeline.WriteReport(os.Stdout, res); err != nil {
		logger.Error("write report", zap.Error(err))
		return 1
	}
	return 0
}
