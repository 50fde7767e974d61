package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cerechat/internal/api"
	"cerechat/internal/chat"
	"cerechat/internal/config"
	"cerechat/internal/debuglog"
	"cerechat/internal/exitcode"
	"cerechat/internal/notify"
	"cerechat/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "cerechat",
	Short: "Chat with an OpenAI-compatible completion endpoint",
	Long: `cerechat holds multiple chat conversations against an OpenAI-compatible
completion endpoint, streaming replies token by token.

Examples:
  cerechat send "explain goroutines"
  cerechat send --new "fresh topic"
  cerechat chats                        # list conversations
  cerechat chats show <id>
  cerechat export chats.json
  cerechat reset`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr exitcode.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(exitcode.Error)
	}
}

// app bundles the wired collaborators for one command invocation.
type app struct {
	cfg   *config.Config
	store *chat.Store
	kv    storage.KV
	debug *debuglog.Logger
}

func newApp(onDelta func(chatID, delta string)) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var kv storage.KV
	if path, err := storage.DefaultDBPath(); err == nil {
		db, err := storage.OpenSQLite(path)
		if err == nil {
			kv = db
		} else {
			fmt.Fprintf(os.Stderr, "warning: open store: %v\n", err)
		}
	}
	if kv == nil {
		kv = storage.NewMemoryKV()
	}

	var client chat.Completer = api.NewClient(cfg.BaseURL, cfg.APIKey)
	var debug *debuglog.Logger
	if path := os.Getenv("CERECHAT_DEBUG_LOG"); path != "" {
		debug, err = debuglog.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: open debug log: %v\n", err)
		} else {
			client = debuglog.Wrap(client, debug)
		}
	}

	store := chat.NewStore(chat.Options{
		Settings: func() chat.Settings {
			return chat.Settings{
				APIKey:       cfg.APIKey,
				BaseURL:      cfg.BaseURL,
				Model:        cfg.Model,
				SystemPrompt: cfg.SystemPrompt,
				Stream:       cfg.Stream,
				ContextLimit: cfg.ContextLimit,
			}
		},
		Client:   client,
		Notifier: notify.Console{},
		Storage:  kv,
		OnDelta:  onDelta,
	})
	store.Hydrate()

	return &app{cfg: cfg, store: store, kv: kv, debug: debug}, nil
}

func (a *app) close() {
	a.store.Close()
	a.kv.Close()
	a.debug.Close()
}
