// Atende is a conversational turn pipeline for clinic chat and voice
// channels. It resolves ambiguous follow-up questions against
// conversation context (rewriting them or asking a bounded number of
// clarifications) before answering, and persists every exchange.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	atende chat              Interactive conversation on stdin/stdout
//	atende ask <question>    Process a single turn (for testing)
//	atende version           Print version and build information
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/velosa/atende/internal/audio"
	"github.com/velosa/atende/internal/buildinfo"
	"github.com/velosa/atende/internal/clarify"
	"github.com/velosa/atende/internal/config"
	"github.com/velosa/atende/internal/history"
	"github.com/velosa/atende/internal/llm"
	"github.com/velosa/atende/internal/msglog"
	"github.com/velosa/atende/internal/orchestrate"
	"github.com/velosa/atende/internal/pipeline"
	"github.com/velosa/atende/internal/respond"
	"github.com/velosa/atende/internal/rewrite"
	"github.com/velosa/atende/internal/state"
	"github.com/velosa/atende/internal/turn"
)

// main constructs the OS-level environment and delegates to [run] so the
// full lifecycle stays testable.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments by hand — the flag package's global state gets in
// the way of calling run concurrently from tests, and the surface is
// small.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var debug bool
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-debug":
			debug = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, configPath, debug)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: atende ask <question>")
		}
		return runAsk(ctx, stdout, configPath, debug, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	info := buildinfo.Info()
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Atende - conversational turn pipeline")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: atende [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat         Interactive conversation on stdin/stdout")
	fmt.Fprintln(w, "  ask          Process a single turn (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -debug            Include stage decisions in response envelopes")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/atende/config.yaml, /etc/atende/config.yaml")
	return nil
}

// app is everything a running command needs, with teardown captured.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	dispatcher *orchestrate.Dispatcher
	agent      turn.Agent
	close      func()
}

// buildApp loads config and wires the full pipeline: Redis-backed state
// and history, the SQLite message log, the completion client, the
// rewrite and answering stages, and the response builder.
func buildApp(ctx context.Context, stdout io.Writer, configPath string) (*app, error) {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	logger.Info("config loaded", "path", cfgPath)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}

	log, err := msglog.NewStore(cfg.Store.MessageLogPath)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("open message log: %w", err)
	}

	completion := llm.NewClient(cfg.Completion.BaseURL, cfg.Completion.APIKey, logger)

	st := state.New(rdb, cfg.Clarification.TTL, logger)
	tracker := clarify.NewTracker(st, cfg.Clarification.MaxAttempts, cfg.Clarification.TTL, logger)
	hist := history.NewCache(rdb, cfg.History.TTL, logger)
	svc := rewrite.NewService(hist, tracker, completion, log, cfg.History.Limit, logger)

	pipe := pipeline.New(logger,
		pipeline.NewRewriteProcessor(svc, tracker, logger),
		pipeline.NewFallbackProcessor(hist, completion, logger),
	)

	var synth turn.Synthesizer
	if cfg.Audio.Enabled {
		synth = audio.NewClient(cfg.Audio.BaseURL, cfg.Audio.APIKey)
		logger.Info("audio synthesis enabled", "url", cfg.Audio.BaseURL)
	}

	builder := respond.NewBuilder(log, hist, synth, nil, logger)
	dispatcher := orchestrate.NewDispatcher(pipe, builder, logger)

	return &app{
		cfg:    cfg,
		logger: logger,
		agent: turn.Agent{
			ID:          "default",
			Name:        "atende",
			Model:       cfg.Completion.Model,
			MaxTokens:   cfg.Completion.MaxTokens,
			Temperature: cfg.Completion.Temperature,
		},
		dispatcher: dispatcher,
		close: func() {
			dispatcher.Stop()
			if err := log.Close(); err != nil {
				logger.Warn("close message log", "error", err)
			}
			if err := rdb.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		},
	}, nil
}

// runChat reads one message per line from stdin, processes each as a
// turn in a single conversation, and prints the response envelope as
// JSON. EOF or SIGINT/SIGTERM ends the conversation.
func runChat(ctx context.Context, stdin io.Reader, stdout io.Writer, configPath string, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, stdout, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	conversationID := uuid.NewString()
	a.logger.Info("conversation started", "conversation_id", conversationID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	enc := json.NewEncoder(stdout)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			env, err := a.dispatcher.HandleTurn(ctx, orchestrate.TurnRequest{
				ConversationID: conversationID,
				Message:        line,
				Agent:          a.agent,
				Debug:          debug,
			})
			if err != nil {
				return fmt.Errorf("turn failed: %w", err)
			}
			if err := enc.Encode(env); err != nil {
				return err
			}
		}
	}
}

// runAsk processes a single turn in a throwaway conversation.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, debug bool, question string) error {
	a, err := buildApp(ctx, stdout, configPath)
	if err != nil {
		return err
	}
	defer a.close()

	env, err := a.dispatcher.HandleTurn(ctx, orchestrate.TurnRequest{
		ConversationID: "cli-" + uuid.NewString(),
		Message:        question,
		Agent:          a.agent,
		Debug:          debug,
	})
	if err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}
