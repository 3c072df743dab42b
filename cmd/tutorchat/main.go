package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"TutorChat/internal/chat"
	"TutorChat/internal/config"
	"TutorChat/internal/session"
	"TutorChat/internal/speech"
	"TutorChat/internal/storage"
	"TutorChat/internal/telemetry"
	"TutorChat/internal/tutor"
)

func main() {
	defaults := config.Default()
	cfg := defaults
	var configFile string

	flag.StringVar(&configFile, "config", "", "Path to TOML config file")
	flag.StringVar(&cfg.BaseURL, "base-url", defaults.BaseURL, "Tutor backend base URL")
	flag.StringVar(&cfg.UserID, "user", defaults.UserID, "User ID sent with chat requests")
	flag.StringVar(&cfg.Topic, "topic", defaults.Topic, "Active topic title")
	flag.StringVar(&cfg.TopicID, "topic-id", "", "Topic ID used to scope stored sessions")
	flag.StringVar(&cfg.SessionID, "session-id", "", "Resume an existing session by ID")
	flag.StringVar(&cfg.Language, "lang", defaults.Language, "Speech language (en|ar)")
	flag.Float64Var(&cfg.SpeechRate, "speech-rate", defaults.SpeechRate, "Speech playback rate")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.StringVar(&cfg.DataDir, "data-dir", defaults.DataDir, "Directory for the sqlite database")
	flag.Parse()

	if configFile != "" {
		fileCfg := defaults
		if err := config.LoadFile(configFile, &fileCfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		// Flags given on the command line override the file.
		set := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		merge := func(name string, dst *string, fileVal string) {
			if !set[name] && fileVal != "" {
				*dst = fileVal
			}
		}
		merge("base-url", &cfg.BaseURL, fileCfg.BaseURL)
		merge("user", &cfg.UserID, fileCfg.UserID)
		merge("topic", &cfg.Topic, fileCfg.Topic)
		merge("topic-id", &cfg.TopicID, fileCfg.TopicID)
		merge("session-id", &cfg.SessionID, fileCfg.SessionID)
		merge("lang", &cfg.Language, fileCfg.Language)
		merge("data-dir", &cfg.DataDir, fileCfg.DataDir)
		if !set["speech-rate"] && fileCfg.SpeechRate > 0 {
			cfg.SpeechRate = fileCfg.SpeechRate
		}
		if !set["debug"] {
			cfg.Debug = fileCfg.Debug
		}
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logger, err := telemetry.InitLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	db, err := telemetry.InitDB(filepath.Join(cfg.DataDir, "tutorchat.db"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	store := session.NewStore(storage.NewSQLiteKV(db), logger)
	client := tutor.NewClient(cfg.BaseURL, logger, tracer, meter)
	engine := speech.NewSystemEngine(logger)
	player := speech.NewController(engine, logger)

	controller := chat.NewController(cfg, store, client, player, logger)
	return controller.Run()
}
