// ABOUTME: Entry point for the coven-chat server
// ABOUTME: Dispatches serve, setup, user and token subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                          _           _
  ___ _____   _____ _ __         ___| |__   __ _| |_
 / __/ _ \ \ / / _ \ '_ \ _____ / __| '_ \ / _' | __|
| (_| (_) \ V /  __/ | | |_____| (__| | | | (_| | |_
 \___\___/ \_/ \___|_| |_|      \___|_| |_|\__,_|\__|
`

// getConfigPath returns the path to the chat config file.
// Priority: COVEN_CHAT_CONFIG env var > XDG_CONFIG_HOME/coven/chat.yaml > ~/.config/coven/chat.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_CHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "chat.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func usage() {
	fmt.Println("Usage: coven-chat <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                   Start the chat server")
	fmt.Println("  init                                    Create a new config file interactively")
	fmt.Println("  bootstrap                               Write a config with a random JWT secret")
	fmt.Println("  user add --id ID --name NAME [--email E] [--picture URL]")
	fmt.Println("                                          Create or update a user profile")
	fmt.Println("  token --user ID [--ttl DURATION]        Issue a bearer token")
	fmt.Println("  activity [--user ID] [--type T] [--entity ID] [--limit N]")
	fmt.Println("                                          List recent activity")
	fmt.Println("  health                                  Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// a missing .env is fine
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "user":
		err = runUser(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "activity":
		err = runActivity(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	printStartup(configPath, cfg)

	logger.Info("starting coven-chat",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// printStartup prints where the server will listen and store data
func printStartup(configPath string, cfg *config.Config) {
	arrow := color.New(color.FgGreen).Sprint("    ▶ ")
	row := func(label, value string) {
		fmt.Printf("%s%-10s %s\n", arrow, label+":", value)
	}

	row("Config", configPath)
	if cfg.Tailscale.Enabled {
		var flags []string
		if cfg.Tailscale.Funnel {
			flags = append(flags, color.YellowString("[funnel]"))
		}
		if cfg.Tailscale.Ephemeral {
			flags = append(flags, color.HiBlackString("(ephemeral)"))
		}
		row("Tailnet", strings.TrimSpace(color.CyanString(cfg.Tailscale.Hostname)+" "+strings.Join(flags, " ")))
	} else {
		row("HTTP", cfg.Server.HTTPAddr)
		if cfg.Server.GRPCAddr != "" {
			row("gRPC", cfg.Server.GRPCAddr+" (health)")
		}
	}
	row("Database", cfg.Database.Path)
	fmt.Println()
}

// levelLabels are the colored level tags of the text log format
var levelLabels = map[slog.Level]string{
	slog.LevelDebug: color.MagentaString("DBG"),
	slog.LevelInfo:  color.CyanString("INF"),
	slog.LevelWarn:  color.YellowString("WRN"),
	slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("ERR"),
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newColorHandler(color.Output, level))
}

// colorHandler writes one colored line per record. Derived handlers share
// the writer and its lock.
type colorHandler struct {
	out    *lockedWriter
	level  slog.Level
	prefix string // group path, dot-terminated
	attrs  []slog.Attr
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newColorHandler(w io.Writer, level slog.Level) *colorHandler {
	return &colorHandler{out: &lockedWriter{w: w}, level: level}
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	label, ok := levelLabels[r.Level]
	if !ok {
		label = r.Level.String()
	}

	var line strings.Builder
	fmt.Fprintf(&line, "%s %s %s", color.HiBlackString(r.Time.Format("15:04:05")), label, r.Message)

	write := func(a slog.Attr) bool {
		line.WriteString(color.HiBlackString(" " + a.Key + "="))
		line.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		a.Key = h.prefix + a.Key
		return write(a)
	})
	line.WriteByte('\n')

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := io.WriteString(h.out.w, line.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
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

	fmt.Println("healthy")
	return nil
}
