// askbar terminal client.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/ashureev/askbar/internal/config"
	"github.com/ashureev/askbar/internal/conversation"
	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/identity"
	"github.com/ashureev/askbar/internal/pipeline"
	"github.com/ashureev/askbar/internal/relay"
	"github.com/ashureev/askbar/internal/selection"
	"github.com/ashureev/askbar/internal/settings"
	"github.com/ashureev/askbar/internal/store"
	"github.com/ashureev/askbar/internal/supervisor"
	"github.com/ashureev/askbar/internal/tui"
)

func main() {
	presetFlag := flag.String("preset", "chat", "initial preset")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "askbar: %v\n", err)
		os.Exit(1)
	}
	preset, err := domain.ParsePreset(*presetFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "askbar: %v\n", err)
		os.Exit(2)
	}

	// The terminal belongs to the UI; logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "askbar: open log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	var repo store.Repository = store.NewMemory()
	if cfg.DBPath != "" {
		sqlite, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "askbar: open history: %v\n", err)
			os.Exit(1)
		}
		repo = sqlite
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	clientID, err := identity.NewClientID()
	if err != nil {
		fmt.Fprintf(os.Stderr, "askbar: %v\n", err)
		os.Exit(1)
	}
	client := relay.NewClient(cfg.RelayURL, clientID, &http.Client{})
	open := supervisor.Opener(client.PromptFrames)
	if cfg.Transport == "text" {
		open = client.Prompt
	}

	settingsSvc := settings.New(repo)
	conv := conversation.New(repo, settingsSvc, logger)
	sup := supervisor.New(supervisor.Options{
		Deadlines: supervisor.Deadlines{
			Prompt:  cfg.Timeout.Prompt,
			Crawl:   cfg.Timeout.Crawl,
			Account: cfg.Timeout.Account,
		},
		CancelOnTimeout: cfg.Timeout.CancelOnTimeout,
	}, logger)
	pipe := pipeline.New(pipeline.Deps{
		Open:         open,
		Ancillary:    client,
		Conversation: conv,
		Selection:    selection.NewController(),
		Supervisor:   sup,
		Settings:     settingsSvc,
	}, logger)

	updates, unsubscribe := conv.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting terminal client", "relay", cfg.RelayURL, "transport", cfg.Transport, "preset", preset)
	p := tea.NewProgram(tui.New(ctx, pipe, conv, updates, preset), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "askbar fatal error: %v\n", err)
		os.Exit(1)
	}
	cancel()
	if n := sup.Live(); n > 0 {
		logger.Info("Abandoning timed-out requests still running", "count", n)
	}
}
