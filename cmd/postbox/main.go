// ABOUTME: Entry point for the postbox bot
// ABOUTME: Wires store, directory, mailbox, metrics and the Matrix bridge together

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/postbox/internal/bridge"
	"github.com/2389/postbox/internal/commands"
	"github.com/2389/postbox/internal/config"
	"github.com/2389/postbox/internal/directory"
	"github.com/2389/postbox/internal/mailbox"
	"github.com/2389/postbox/internal/metrics"
	"github.com/2389/postbox/internal/store"
)

const banner = `
                 _   _
 _ __   ___  ___| |_| |__   _____  __
| '_ \ / _ \/ __| __| '_ \ / _ \ \/ /
| |_) | (_) \__ \ |_| |_) | (_) >  <
| .__/ \___/|___/\__|_.__/ \___/_/\_\
|_|
`

// getConfigPath returns the path to the postbox config file.
// Priority: POSTBOX_CONFIG env var > XDG_CONFIG_HOME/postbox/postbox.toml > ~/.config/postbox/postbox.toml
func getConfigPath() string {
	if envPath := os.Getenv("POSTBOX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "postbox.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "postbox", "postbox.toml")
}

// getDataPath returns the default data directory for the database.
// Priority: XDG_DATA_HOME/postbox > ~/.local/share/postbox
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "postbox")
}

func main() {
	// Load .env if present, before anything reads the environment
	_ = godotenv.Load()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			if err := runInit(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "serve":
			// fall through to run
		default:
			fmt.Fprintf(os.Stderr, "Usage: postbox [serve|init]\n")
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:    %s\n", cfg.Metrics.Addr)
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, registry, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	br, err := bridge.New(&cfg.Matrix, logger.With("component", "bridge"))
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	handler := commands.New(commands.Config{
		Directory:       directory.New(st, cfg.Directory.CodeLength),
		Mailbox:         mailbox.New(st, cfg.Mailbox.MaxMessageBytes),
		Messenger:       br,
		Metrics:         m,
		DeliveryTimeout: cfg.Mailbox.DeliveryTimeout,
		SendsPerMinute:  cfg.Mailbox.SendsPerMinute,
		SendBurst:       cfg.Mailbox.SendBurst,
		ExploreAllowed:  cfg.Directory.ExploreAllowed,
	})
	br.SetHandler(handler)

	logger.Info("starting postbox", "database", cfg.Database.Path)
	return br.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	green.Print("    ▶ ")
	fmt.Print("Matrix homeserver URL [https://matrix.org]: ")
	homeserver, _ := reader.ReadString('\n')
	homeserver = strings.TrimSpace(homeserver)
	if homeserver == "" {
		homeserver = "https://matrix.org"
	}

	green.Print("    ▶ ")
	fmt.Print("Matrix user ID (e.g. @postbox:matrix.org): ")
	userID, _ := reader.ReadString('\n')
	userID = strings.TrimSpace(userID)

	green.Print("    ▶ ")
	fmt.Print("Matrix access token: ")
	accessToken, _ := reader.ReadString('\n')
	accessToken = strings.TrimSpace(accessToken)

	defaultDB := filepath.Join(getDataPath(), "postbox.db")
	green.Print("    ▶ ")
	fmt.Printf("Database path [%s]: ", defaultDB)
	dbPath, _ := reader.ReadString('\n')
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		dbPath = defaultDB
	}

	content := fmt.Sprintf(`# postbox configuration
# Generated by postbox init

[matrix]
homeserver = "%s"
user_id = "%s"
access_token = "%s"
# Only respond in these rooms (empty = all joined rooms)
allowed_rooms = []
command_prefix = "!"

[database]
path = "%s"

[directory]
code_length = 4
# Restrict the explore command to these user IDs (empty = everyone)
explore_allowed = []

[mailbox]
max_message_bytes = 4096
sends_per_minute = 6
send_burst = 3
delivery_timeout = "10s"

[metrics]
enabled = false
addr = "127.0.0.1:9109"

[logging]
level = "info"
`, homeserver, userID, accessToken, dbPath)

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: postbox")
	fmt.Println()

	return nil
}
