// ABOUTME: Entry point for the marrow demo host process
// ABOUTME: Embeds the broker agent and exposes a sample object graph to controllers

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/marrowdev/marrow/internal/broker"
	"github.com/marrowdev/marrow/internal/config"
	"github.com/marrowdev/marrow/internal/wire"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ __ ___   __ _ _ __ _ __ _____      __
| '_ ' _ \ / _' | '__| '__/ _ \ \ /\ / /
| | | | | | (_| | |  | | | (_) \ V  V /
|_| |_| |_|\__,_|_|  |_|  \___/ \_/\_/
`

// getConfigPath returns the path to the agent config file.
// Priority: MARROW_CONFIG env var > ./marrow.yaml > XDG_CONFIG_HOME/marrow/agent.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MARROW_CONFIG"); envPath != "" {
		return envPath
	}

	if _, err := os.Stat("marrow.yaml"); err == nil {
		return "marrow.yaml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "marrow.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "marrow", "agent.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: marrow-host <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the demo host with an embedded agent")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check agent liveness")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file if one exists, otherwise falls back to
// defaults so the demo runs without any setup.
func loadConfig(configPath string) (*config.Config, bool, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), false, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if fromFile {
		fmt.Printf("Config:  %s\n", configPath)
	} else {
		fmt.Printf("Config:  built-in defaults\n")
	}
	green.Print("    ▶ ")
	fmt.Printf("Agent:   %s\n", cfg.Server.Addr)
	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ▶ ")
		fmt.Printf("Auth:    disabled\n")
	}
	fmt.Println()

	logger.Info("starting marrow host",
		"config", configPath,
		"addr", cfg.Server.Addr,
	)

	// Build the demo object graph and register its types
	types, exposure, board := buildDemoGraph()

	b, err := broker.New(broker.Options{
		Config:     cfg,
		Types:      types,
		HeapSource: exposure.Factory(),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating broker: %w", err)
	}

	// Keep the demo graph moving so controllers have something to watch.
	go board.Churn(ctx)

	return b.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/ping", cfg.Server.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	var ping wire.PingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ping); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Printf("healthy (%d pinned)\n", ping.Pinned)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("marrow agent configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	addr := prompt(reader, "Agent listen address (loopback only)", "127.0.0.1:7723")

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	enableAuth := prompt(reader, "Require bearer tokens?", "no")
	var jwtSecret string
	if strings.ToLower(enableAuth) == "yes" || strings.ToLower(enableAuth) == "y" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# marrow agent configuration\n")
	cfg.WriteString("# Generated by marrow-host init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  addr: %q\n", addr))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", jwtSecret))
	cfg.WriteString("\n")

	cfg.WriteString("resolver:\n")
	cfg.WriteString("  max_attempts: 10\n")
	cfg.WriteString("  retry_backoff: \"100ms\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("events:\n")
	cfg.WriteString("  monitor_interval: \"5s\"\n")
	cfg.WriteString("  queue_size: 64\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the host:")
	fmt.Printf("  marrow-host serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
