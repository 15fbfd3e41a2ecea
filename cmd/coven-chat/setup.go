// ABOUTME: First-run setup commands: interactive init and non-interactive bootstrap
// ABOUTME: Both write a chat.yaml; bootstrap also creates the database

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

// generateSecret returns a random base64 JWT secret
func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// configFile holds the answers rendered into chat.yaml
type configFile struct {
	HTTPAddr  string
	GRPCAddr  string
	DBPath    string
	JWTSecret string
	LogLevel  string
	LogFormat string

	Tailscale   bool
	TSHostname  string
	TSAuthKey   string
	TSEphemeral bool
	TSFunnel    bool
}

func (c configFile) render(generator string) string {
	var b strings.Builder
	b.WriteString("# coven-chat configuration\n")
	fmt.Fprintf(&b, "# Generated by coven-chat %s\n\n", generator)

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", c.HTTPAddr)
	if c.GRPCAddr != "" {
		fmt.Fprintf(&b, "  grpc_addr: %q\n", c.GRPCAddr)
	}
	b.WriteString("\n")

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n\n", c.DBPath)

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  jwt_secret: %q\n", c.JWTSecret)
	fmt.Fprintf(&b, "  token_ttl: %q\n\n", config.DefaultTokenTTL.String())

	if c.Tailscale {
		b.WriteString("tailscale:\n")
		b.WriteString("  enabled: true\n")
		fmt.Fprintf(&b, "  hostname: %q\n", c.TSHostname)
		if c.TSAuthKey != "" {
			fmt.Fprintf(&b, "  auth_key: %q\n", c.TSAuthKey)
		}
		fmt.Fprintf(&b, "  ephemeral: %t\n", c.TSEphemeral)
		fmt.Fprintf(&b, "  funnel: %t\n\n", c.TSFunnel)
	}

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", c.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n", c.LogFormat)
	return b.String()
}

// runBootstrap performs first-time setup:
// 1. Creates the config file with a random JWT secret (if missing)
// 2. Creates the database and its schema
//
// Users and tokens are added afterwards with "user add" and "token".
func runBootstrap(ctx context.Context) error {
	if len(os.Args) > 2 {
		return fmt.Errorf("unexpected argument: %s", os.Args[2])
	}

	configPath := getConfigPath()
	dataPath := getDataPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		content := configFile{
			HTTPAddr:  "localhost:8080",
			DBPath:    filepath.Join(dataPath, "chat.db"),
			JWTSecret: secret,
			LogLevel:  "info",
			LogFormat: "text",
		}.render("bootstrap")

		// the file holds the signing secret
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("checking database: %w", err)
	}
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	yellow.Println("  Next steps:")
	fmt.Println("    coven-chat user add --id alice --name \"Alice\"")
	fmt.Println("    coven-chat token --user alice")
	fmt.Println("    coven-chat serve")
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-chat configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultDBPath := filepath.Join(getDataPath(), "chat.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	var cfg configFile
	cfg.JWTSecret = secret

	fmt.Println("\n--- Server Configuration ---")
	cfg.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	cfg.GRPCAddr = prompt(reader, "gRPC health address (leave empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	cfg.DBPath = prompt(reader, "SQLite database path", defaultDBPath)

	fmt.Println("\n--- Tailscale Configuration ---")
	cfg.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if cfg.Tailscale {
		cfg.TSHostname = prompt(reader, "Tailscale hostname", "coven-chat")
		cfg.TSAuthKey = prompt(reader, "Tailscale auth key (leave empty for TS_AUTHKEY)", "")
		cfg.TSEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		cfg.TSFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	cfg.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	cfg.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.render("init")), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  coven-chat serve\n")

	return nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
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
