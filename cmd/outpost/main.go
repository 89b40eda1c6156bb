package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/hpungsan/outpost/internal/config"
	"github.com/hpungsan/outpost/internal/db"
	"github.com/hpungsan/outpost/internal/engine"
	"github.com/hpungsan/outpost/internal/logging"
	"github.com/hpungsan/outpost/internal/mcp"
	"github.com/hpungsan/outpost/internal/profile"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"send-message": true, "send-tx": true,
	"retry": true, "cancel": true, "fetch": true,
	"pending": true, "failed": true, "recent": true, "counts": true,
	"status": true, "sync": true, "web": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// Global flags and --help/--version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return len(arg) > 2 && arg[:2] == "--"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___  _   _ _____ ____   ___  ____ _____
  / _ \| | | |_   _|  _ \ / _ \/ ___|_   _|
 | | | | | | | | | | |_) | | | \___ \ | |
 | |_| | |_| | | | |  __/| |_| |___) || |
  \___/ \___/  |_| |_|    \___/|____/ |_|

  Local-first outbox for messages and transfers

  Usage: outpost <command> [options]
         outpost --help

  MCP server mode requires piped input.`)
}

// startupProfile is the profile adopted before any switch.
func startupProfile(cfg *config.Config) profile.Context {
	return profile.Context{
		ProfileID:   cfg.ProfileID,
		EntityID:    cfg.EntityID,
		ProfileType: profile.Type(cfg.ProfileType),
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil, nil, zerolog.Nop())
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".outpost")

	wd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, wd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	log := logging.New(os.Stderr, cfg.LogLevel)

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Warn().Strs("tools", unknown).Msg("unknown tools in disabled_tools")
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		log.Warn().Strs("types", unknown).Msg("unknown types in disabled_types")
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(engine.Options{
		Config: cfg,
		DB:     database,
		Log:    log,
	})
	eng.Initialize(ctx, startupProfile(cfg))
	defer eng.Dispose()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(eng, cfg, log)
		if err := app.RunContext(ctx, os.Args); err != nil {
			eng.Dispose()
			fatal("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'outpost --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default): the sync worker drains in the background
	if !eng.SyncEnabled() {
		log.Warn().Msg("remote_url not set; items stay queued until sync is configured")
	}
	eng.Start(ctx)
	if err := mcp.Run(eng, cfg, Version); err != nil {
		eng.Dispose()
		fatal("%v", err)
	}
}
