package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/daviddao/delaynet/pkg/model"
	"github.com/daviddao/delaynet/pkg/store"
)

// app holds shared state for all CLI subcommands.
type app struct {
	store  store.StoreInterface
	dbPath string
	logger *slog.Logger
}

// newApp opens the database and installs the process logger. Creates the
// .delaynet/ directory if using the default DB path.
func newApp() (*app, error) {
	logger := newLogger(envOr("DELAYNET_LOG", "warn"))
	slog.SetDefault(logger)

	dbPath := envOr("DELAYNET_DB", defaultDB)
	if dir := filepath.Dir(dbPath); dbPath == defaultDB || dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", dbPath, err)
	}
	return &app{store: s, dbPath: dbPath, logger: logger}, nil
}

// Close releases the database connection.
func (a *app) Close() { a.store.Close() }

// newLogger returns a text logger on stderr at the named level. Unknown
// names fall back to warn.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// resolveRun returns the run named by a full ID or unique prefix, or the
// latest run when ref is empty or "latest".
func (a *app) resolveRun(ref string) (*model.Run, error) {
	if ref == "" || ref == "latest" {
		r, err := a.store.LatestRun()
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("no runs yet: try 'dn run'")
		}
		return r, err
	}
	id, err := a.store.ResolveRunID(ref)
	if err != nil {
		return nil, err
	}
	return a.store.GetRun(id)
}

// runArg returns the optional positional run reference. Flags may come
// before or after it.
func runArg(flags interface {
	Parse([]string) error
	Args() []string
}, args []string) (string, error) {
	var ref string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		ref, args = args[0], args[1:]
	}
	if err := flags.Parse(args); err != nil {
		return "", err
	}
	if rest := flags.Args(); len(rest) > 0 {
		if ref != "" || len(rest) > 1 {
			return "", fmt.Errorf("unexpected arguments: %v", rest)
		}
		ref = rest[0]
	}
	return ref, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
