// Copyright (c) 2025 @AmarnathCJD

// flowbot is a runnable shell around the tgflow dispatcher: it reads
// updates as JSON lines from stdin, routes them through a small set of
// demo handlers and answers on stdout. Point a real transport at the
// dispatcher's Feed to turn it into a bot.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/k0kubun/pp"
	"github.com/spf13/viper"

	"github.com/amarnathcjd/tgflow"
	"github.com/amarnathcjd/tgflow/storage"
)

func main() {
	configPath := flag.String("config", "", "config file (yaml/json/toml); env vars with prefix FLOWBOT_ override")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := tgflow.NewLogger(parseLogLevel(cfg.GetString("log_level"))).WithPrefix("flowbot")

	store, registry, err := openStorage(cfg)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
	defer store.Close()

	bot := newStdoutBot(cfg.GetString("bot_username"))
	verbose := cfg.GetBool("verbose")

	dispatcher, err := tgflow.NewDispatcher(tgflow.DispatcherConfig{
		Bot:       bot,
		Store:     store,
		Registry:  registry,
		Logger:    log,
		QueueSize: cfg.GetInt("queue_size"),
		Workers:   cfg.GetInt("workers"),
		DedupTTL:  cfg.GetDuration("dedup_ttl"),
		UnhandledHook: func(u *tgflow.Update) {
			if verbose {
				pp.Println(u, "UNHANDLED")
			}
		},
		ErrorHook: func(u *tgflow.Update, err error) {
			log.Errorf("update %d: %v", u.ID, err)
		},
	})
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}

	if err := register(dispatcher); err != nil {
		log.Error(err)
		os.Exit(1)
	}

	if err := dispatcher.Start(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
	log.Infof("reading updates from stdin as @%s", bot.username)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var u tgflow.Update
			if err := json.Unmarshal([]byte(line), &u); err != nil {
				log.Warnf("bad update line: %v", err)
				continue
			}
			if err := dispatcher.Feed(&u); err != nil {
				log.Warn(err)
				return
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("signal received, draining")
	case <-done:
		log.Info("stdin closed, draining")
	}
	dispatcher.Stop()
}

func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("FLOWBOT")
	v.AutomaticEnv()

	v.SetDefault("bot_username", "flowbot")
	v.SetDefault("log_level", "info")
	v.SetDefault("verbose", false)
	v.SetDefault("queue_size", 100)
	v.SetDefault("workers", 1)
	v.SetDefault("dedup_ttl", 5*time.Minute)
	v.SetDefault("storage", "sqlite")
	v.SetDefault("database", "data/flow.db")
	v.SetDefault("state_file", "data/state.json")
	v.SetDefault("session_ttl", time.Hour)

	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

func parseLogLevel(s string) tgflow.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return tgflow.DebugLevel
	case "warn", "warning":
		return tgflow.WarnLevel
	case "error":
		return tgflow.ErrorLevel
	case "none", "off":
		return tgflow.NoLevel
	}
	return tgflow.InfoLevel
}

// openStorage picks the persistence backend. The SQLite store doubles
// as the session registry; the file store pairs with the in-memory
// one.
func openStorage(cfg *viper.Viper) (tgflow.Persistence, tgflow.SessionRegistry, error) {
	switch cfg.GetString("storage") {
	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.GetString("database"), nil)
		if err != nil {
			return nil, nil, err
		}
		store.SetSessionTTL(cfg.GetDuration("session_ttl"))
		return store, store, nil
	case "file":
		return storage.NewFileStore(cfg.GetString("state_file")),
			tgflow.NewMemoryRegistry(cfg.GetDuration("session_ttl")), nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.GetString("storage"))
}

func register(d *tgflow.Dispatcher) error {
	start, err := tgflow.NewCommandHandler([]string{"start", "help"}, func(u *tgflow.Update, ctx *tgflow.CallbackContext) error {
		return ctx.Bot.SendMessage(context.Background(), u.EffectiveChat().ID,
			"Hi! I count messages per user; try /stats or just talk to me.")
	})
	if err != nil {
		return err
	}
	if err := d.AddHandler(start); err != nil {
		return err
	}

	stats, err := tgflow.NewCommandHandler([]string{"stats"}, func(u *tgflow.Update, ctx *tgflow.CallbackContext) error {
		seen, _ := ctx.UserData["seen"].(float64)
		return ctx.Bot.SendMessage(context.Background(), u.EffectiveChat().ID,
			fmt.Sprintf("You have sent %.0f messages.", seen))
	})
	if err != nil {
		return err
	}
	if err := d.AddHandler(stats); err != nil {
		return err
	}

	// Trailing group: counts whatever the commands above did not take.
	count, err := tgflow.NewMessageHandler(tgflow.FilterText, func(u *tgflow.Update, ctx *tgflow.CallbackContext) error {
		seen, _ := ctx.UserData["seen"].(float64)
		ctx.UserData["seen"] = seen + 1
		return nil
	})
	if err != nil {
		return err
	}
	return d.AddHandlerToGroup(count, 10)
}
