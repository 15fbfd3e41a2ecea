// ABOUTME: Activity log command for operators
// ABOUTME: Lists recent conversation and message activity straight from the store

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/store"
)

func runActivity(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, "user", "type", "entity", "limit")
	if err != nil {
		return err
	}
	filter, err := activityFilterFromFlags(flags)
	if err != nil {
		return err
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	return printActivity(ctx, os.Stdout, s, filter)
}

func activityFilterFromFlags(flags map[string]string) (store.ActivityFilter, error) {
	filter := store.ActivityFilter{
		UserID:   flags["user"],
		EntityID: flags["entity"],
	}
	switch t := store.EntityType(flags["type"]); t {
	case "", store.EntityMessage, store.EntityConversation:
		filter.EntityType = t
	default:
		return filter, fmt.Errorf("invalid --type %q (want message or conversation)", t)
	}
	if raw := flags["limit"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return filter, fmt.Errorf("invalid --limit %q", raw)
		}
		filter.Limit = n
	}
	return filter, nil
}

func printActivity(ctx context.Context, w io.Writer, s store.ActivityStore, filter store.ActivityFilter) error {
	entries, err := s.ListActivity(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing activity: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No activity recorded.")
		return nil
	}

	dim := color.New(color.Faint)
	for _, e := range entries {
		dim.Fprintf(w, "%s  ", e.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "%-12s %-6s %-12s %s  %s\n", e.UserID, e.Action, e.EntityType, e.EntityID, e.Description)
	}
	return nil
}
