// polychat - streaming multi-provider LLM chat core.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/polychat/internal/catalog"
	"github.com/morganforge/polychat/internal/chat"
	"github.com/morganforge/polychat/internal/config"
	"github.com/morganforge/polychat/internal/event"
	"github.com/morganforge/polychat/internal/jobs"
	"github.com/morganforge/polychat/internal/llm"
	"github.com/morganforge/polychat/internal/provider"
	"github.com/morganforge/polychat/internal/security"
	"github.com/morganforge/polychat/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "config file path (default ~/.polychat/config.toml)")
		dbPath      = flag.String("db", "", "database path (default ~/.polychat/polychat.db)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("polychat %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath, *dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if dbPath == "" {
		dbPath, err = cfg.DatabasePath()
		if err != nil {
			return err
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	openKey, err := keyOpener(cfg)
	if err != nil {
		return err
	}

	factory := llm.NewFactory()
	dispatcher := llm.NewDispatcher()
	defer dispatcher.Close()
	bus := event.NewBus()
	defer bus.Close()

	orch := chat.NewOrchestrator(st, factory, bus, dispatcher, openKey)
	orch.MockWordCount = cfg.Chat.MockWordCount
	titles := chat.NewTitleGenerator(st, factory, dispatcher, openKey)

	aggregator := catalog.NewAggregator().WithURL(cfg.Catalog.AggregatorURL)
	syncEngine := catalog.NewSyncEngine(st, aggregator)

	scheduler := jobs.NewScheduler(nil)
	defer scheduler.Stop()
	scheduler.Schedule(jobs.Job{
		ID:      "catalog-refresh",
		Period:  time.Duration(cfg.Catalog.RefreshIntervalHours) * time.Hour,
		MinTier: jobs.TierCellular,
		Run: func(ctx context.Context) error {
			return refreshCatalogs(ctx, st, aggregator, syncEngine)
		},
	})

	// Hot reload: settings that take effect without restart.
	watchPath := configPath
	if watchPath == "" {
		watchPath, _ = config.ConfigPath()
	}
	if watchPath != "" {
		if w, werr := config.Watch(watchPath, func(next *config.Config) {
			orch.MockWordCount = next.Chat.MockWordCount
		}); werr == nil {
			defer w.Close()
		}
	}

	return repl(cfg, st, orch, titles, bus)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// keyOpener builds the API key decryptor handed to the orchestrator.
func keyOpener(cfg *config.Config) (chat.KeyOpener, error) {
	if !cfg.Security.EncryptKeys {
		return func(v string) (string, error) { return v, nil }, nil
	}
	saltPath, err := cfg.SaltPath()
	if err != nil {
		return nil, err
	}
	kb, err := security.NewKeybox(saltPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open keybox: %w", err)
	}
	return kb.DecryptString, nil
}

// refreshCatalogs refreshes the aggregator list and re-syncs every enabled
// provider's model catalog.
func refreshCatalogs(ctx context.Context, st *store.Store, agg *catalog.Aggregator, eng *catalog.SyncEngine) error {
	if _, err := agg.Refresh(ctx); err != nil {
		return err
	}
	profiles, err := st.EnabledProviders()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if _, _, _, err := eng.SyncProvider(ctx, p); err != nil {
			log.Printf("[Main] catalog sync failed for %s: %v", p.DisplayName(), err)
		}
	}
	return nil
}

// repl runs a minimal line-based chat against the mock provider, mostly
// useful for exercising the core end to end from a terminal.
func repl(cfg *config.Config, st *store.Store, orch *chat.Orchestrator, titles *chat.TitleGenerator, bus *event.Bus) error {
	chatID, err := ensureMockChat(st)
	if err != nil {
		return err
	}

	done := make(chan string, 8)
	sub := bus.Subscribe(func(ev event.Event) {
		done <- string(ev.Signal)
	}, event.SignalStreamEnded, event.SignalStreamError)
	defer bus.Unsubscribe(sub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("polychat - type a message, ctrl-c to quit")
	scanner := bufio.NewScanner(os.Stdin)
	first := true
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if _, err := orch.SendMessage(ctx, chatID, text); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case sig := <-done:
			recent, err := st.RecentMessages(chatID, 1)
			if err != nil || len(recent) == 0 {
				fmt.Fprintf(os.Stderr, "load reply failed: %v\n", err)
				continue
			}
			reply := recent[0]
			if sig == string(event.SignalStreamError) {
				fmt.Fprintf(os.Stderr, "stream error: %s\n", reply.ErrorText)
				continue
			}
			fmt.Println(reply.Content)
		}

		if first && cfg.Chat.AutoTitle {
			first = false
			if title, err := titles.Generate(ctx, chatID); err == nil {
				log.Printf("[Main] chat titled %q", title)
			}
		}
	}
}

// ensureMockChat wires up a mock provider, catalog entry, and chat so the
// repl works with zero configuration.
func ensureMockChat(st *store.Store) (string, error) {
	if existing, err := st.MostRecentChatWithModel(); err == nil && existing != nil {
		return existing.ID, nil
	}

	profile := &provider.Profile{
		ID:        uuid.NewString(),
		Type:      provider.TypeMock,
		Alias:     "mock",
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := st.SaveProvider(profile); err != nil {
		return "", err
	}

	entry := &provider.CatalogEntry{
		ID:         uuid.NewString(),
		ProviderID: profile.ID,
		ModelID:    "mock-small",
		Name:       "Mock Small",
		CreatedAt:  time.Now(),
	}
	if err := st.InsertModelEntry(entry); err != nil {
		return "", err
	}

	ch := &store.Chat{ID: uuid.NewString(), Title: "New Chat"}
	if err := st.CreateChat(ch); err != nil {
		return "", err
	}

	option, err := st.GetChatOption(ch.ID)
	if err != nil {
		return "", err
	}
	option.ChatID = ch.ID
	option.ModelEntryID = entry.ID
	if err := st.SaveChatOption(option); err != nil {
		return "", err
	}
	return ch.ID, nil
}
