// Command meditate runs one meditation request from the terminal: it prints
// the generated script and writes the synthesized audio to a file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-meditation/internal/config"
	"github.com/loqalabs/loqa-meditation/internal/playback"
	"github.com/loqalabs/loqa-meditation/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'generate', 'validate' or 'version'")
		os.Exit(2)
	}

	_ = godotenv.Load()

	switch os.Args[1] {
	case "generate":
		cmd := flag.NewFlagSet("generate", flag.ExitOnError)
		configPath := cmd.String("config", "", "Path to configuration file")
		prompt := cmd.String("prompt", "", "What is on your mind")
		out := cmd.String("out", "meditation.audio", "Where to write the synthesized audio")
		_ = cmd.Parse(os.Args[2:])
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runGenerate(ctx, *configPath, *prompt, *out); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case "validate":
		cmd := flag.NewFlagSet("validate", flag.ExitOnError)
		configPath := cmd.String("config", "meditation.yaml", "Path to configuration file")
		_ = cmd.Parse(os.Args[2:])
		if _, err := config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("config valid")
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runGenerate(ctx context.Context, configPath, prompt, out string) error {
	if prompt == "" {
		return errors.New("-prompt is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Telemetry.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	result, err := runtime.RunOnce(ctx, cfg, prompt, logger)
	if result.Script != "" {
		fmt.Println(result.Script)
	}
	if err != nil {
		return errors.New(runtime.FailureMessage(err))
	}

	if err := os.WriteFile(out, result.Asset.Data, 0o644); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%s, %s)\n", out, result.Asset.ContentType, playback.FormatClock(result.Duration))
	return nil
}
