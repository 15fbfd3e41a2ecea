// ABOUTME: User profile and token commands for operators
// ABOUTME: Writes profiles straight to the store and signs bearer tokens with the configured secret

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/store"
)

// parseFlags reads "--name value" and "--name=value" pairs. Only names in
// allowed are accepted.
func parseFlags(args []string, allowed ...string) (map[string]string, error) {
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}

	values := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known[name] {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		values[name] = strings.TrimSpace(value)
	}
	return values, nil
}

func openStore() (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

func runUser(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "add" {
		return errors.New("usage: coven-chat user add --id ID --name NAME [--email EMAIL] [--picture URL]")
	}

	flags, err := parseFlags(args[1:], "id", "name", "email", "picture")
	if err != nil {
		return err
	}
	user, err := userFromFlags(flags)
	if err != nil {
		return err
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.UpsertUser(ctx, user); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Saved user %s (%s)\n", user.ID, user.FullName)
	return nil
}

func userFromFlags(flags map[string]string) (*store.User, error) {
	if flags["id"] == "" {
		return nil, errors.New("--id is required")
	}
	if flags["name"] == "" {
		return nil, errors.New("--name is required")
	}
	if len(flags["name"]) > 100 {
		return nil, errors.New("name exceeds maximum length of 100 characters")
	}
	return &store.User{
		ID:             flags["id"],
		FullName:       flags["name"],
		Email:          flags["email"],
		ProfilePicture: flags["picture"],
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "user", "ttl", "out")
	if err != nil {
		return err
	}
	userID := flags["user"]
	if userID == "" {
		return errors.New("--user is required")
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("unknown user %q (add it with: coven-chat user add --id %s --name NAME)", userID, userID)
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	ttl := cfg.Auth.TokenTTL
	if raw := flags["ttl"]; raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(userID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	if out := flags["out"]; out != "" {
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return fmt.Errorf("creating token directory: %w", err)
		}
		if err := os.WriteFile(out, []byte(token), 0600); err != nil {
			return fmt.Errorf("writing token file: %w", err)
		}
		color.New(color.FgGreen).Printf("  ✓ Saved token: %s (expires %s)\n", out, time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
		return nil
	}

	fmt.Println(token)
	return nil
}
