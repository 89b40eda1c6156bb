package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/outpost/internal/config"
	"github.com/hpungsan/outpost/internal/engine"
	"github.com/hpungsan/outpost/internal/errors"
	"github.com/hpungsan/outpost/internal/ops"
	"github.com/hpungsan/outpost/internal/profile"
	"github.com/hpungsan/outpost/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(eng *engine.Engine, cfg *config.Config, log zerolog.Logger) *cli.App {
	app := &cli.App{
		Name:    "outpost",
		Usage:   "Local-first outbox for messages and transfers",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "Switch to this profile before running the command"},
			&cli.StringFlag{Name: "entity", Aliases: []string{"e"}, Usage: "Entity id for --profile"},
			&cli.StringFlag{Name: "profile-type", Value: string(profile.TypePersonal), Usage: "Profile type for --profile: personal|business"},
		},
		Before: func(c *cli.Context) error {
			if eng == nil || !c.IsSet("profile") {
				return nil
			}
			return switchProfile(eng, c)
		},
		Commands: []*cli.Command{
			sendMessageCmd(eng),
			sendTxCmd(eng),
			retryCmd(eng),
			cancelCmd(eng),
			fetchCmd(eng),
			pendingCmd(eng),
			failedCmd(eng),
			recentCmd(eng),
			countsCmd(eng),
			statusCmd(eng),
			syncCmd(eng),
			webCmd(eng, cfg, log),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func switchProfile(eng *engine.Engine, c *cli.Context) error {
	pt := profile.Type(c.String("profile-type"))
	if pt != profile.TypePersonal && pt != profile.TypeBusiness {
		return outputError(errors.NewValidation("profile-type must be personal or business"))
	}
	target := profile.Context{
		ProfileID:   strings.TrimSpace(c.String("profile")),
		EntityID:    strings.TrimSpace(c.String("entity")),
		ProfileType: pt,
	}
	if target.ProfileID == "" {
		return outputError(errors.NewValidation("--profile must not be empty"))
	}
	if target == eng.Coordinator.Current().Context {
		return nil
	}
	if err := eng.SwitchProfile(target, nil); err != nil {
		return outputError(err)
	}
	return nil
}

// activeProfile returns the current profile or a VALIDATION error when none is set.
func activeProfile(eng *engine.Engine) (profile.Context, error) {
	cur := eng.Coordinator.Current().Context
	if cur.ProfileID == "" {
		return cur, errors.NewValidation("no active profile: set profile_id in config or pass --profile")
	}
	return cur, nil
}

// sendMessageCmd creates the send-message command.
func sendMessageCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "send-message",
		Usage:     "Queue a message (content from args or stdin)",
		ArgsUsage: "[content...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "interaction", Aliases: []string{"i"}, Required: true, Usage: "Interaction id"},
			&cli.StringFlag{Name: "to", Usage: "Recipient entity id"},
			&cli.StringFlag{Name: "from", Usage: "Sender entity id (defaults to the profile's entity)"},
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Message type (default text)"},
			&cli.StringFlag{Name: "metadata", Usage: "JSON metadata"},
		},
		Action: func(c *cli.Context) error {
			cur, err := activeProfile(eng)
			if err != nil {
				return outputError(err)
			}

			content := strings.Join(c.Args().Slice(), " ")
			if content == "" && stdinHasData() {
				content, err = readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
			}

			out := eng.Writer.SendMessage(c.Context, ops.SendMessageInput{
				InteractionID: c.String("interaction"),
				ProfileID:     cur.ProfileID,
				FromEntityID:  pick(c.String("from"), cur.EntityID),
				ToEntityID:    optional(c.String("to")),
				Content:       content,
				MessageType:   c.String("type"),
				Metadata:      rawJSON(c.String("metadata")),
			})
			if !out.Success {
				return outputError(out.Error)
			}
			return outputJSON(out)
		},
	}
}

// sendTxCmd creates the send-tx command.
func sendTxCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "send-tx",
		Usage: "Queue a wallet transfer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "interaction", Aliases: []string{"i"}, Required: true, Usage: "Interaction id"},
			&cli.StringFlag{Name: "to", Required: true, Usage: "Payee entity id"},
			&cli.Float64Flag{Name: "amount", Aliases: []string{"a"}, Required: true, Usage: "Amount (> 0)"},
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Required: true, Usage: "Source wallet id"},
			&cli.StringFlag{Name: "to-wallet", Usage: "Destination wallet id"},
			&cli.StringFlag{Name: "from", Usage: "Payer entity id (defaults to the profile's entity)"},
			&cli.StringFlag{Name: "currency", Usage: "Currency code, e.g. USD"},
			&cli.StringFlag{Name: "currency-id", Usage: "Currency id"},
			&cli.StringFlag{Name: "symbol", Usage: "Currency symbol"},
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Transaction type (default transfer)"},
			&cli.StringFlag{Name: "metadata", Usage: "JSON metadata"},
		},
		Action: func(c *cli.Context) error {
			cur, err := activeProfile(eng)
			if err != nil {
				return outputError(err)
			}

			out := eng.Writer.SendTransaction(c.Context, ops.SendTransactionInput{
				InteractionID:   c.String("interaction"),
				ProfileID:       cur.ProfileID,
				FromEntityID:    pick(c.String("from"), cur.EntityID),
				ToEntityID:      c.String("to"),
				Amount:          c.Float64("amount"),
				CurrencyID:      c.String("currency-id"),
				CurrencyCode:    c.String("currency"),
				CurrencySymbol:  c.String("symbol"),
				TransactionType: c.String("type"),
				FromWalletID:    c.String("wallet"),
				ToWalletID:      optional(c.String("to-wallet")),
				Metadata:        rawJSON(c.String("metadata")),
			})
			if !out.Success {
				return outputError(out.Error)
			}
			return outputJSON(out)
		},
	}
}

// retryCmd creates the retry command.
func retryCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Re-queue an item that is still owed to the server",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return outputError(err)
			}
			cur, err := activeProfile(eng)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"id": id, "applied": eng.Writer.RetryItem(c.Context, id, cur.ProfileID)})
		},
	}
}

// cancelCmd creates the cancel command.
func cancelCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel an item the server has not acknowledged",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return outputError(err)
			}
			cur, err := activeProfile(eng)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"id": id, "applied": eng.Writer.CancelItem(c.Context, id, cur.ProfileID)})
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch one item by local id",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return outputError(err)
			}
			cur, err := activeProfile(eng)
			if err != nil {
				return outputError(err)
			}
			item, err := eng.Writer.Fetch(c.Context, id, cur.ProfileID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(item)
		},
	}
}

// pendingCmd creates the pending command.
func pendingCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "List items waiting to sync",
		Action: func(c *cli.Context) error {
			cur, err := activeProfile(eng)
			if err != nil {
				return outputError(err)
			}
			out, err := eng.Writer.ListPending(c.Context, cur.ProfileID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// failedCmd creates the failed command.
func failedCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "failed",
		Usage: "List items waiting for a manual retry",
		Action: func(c *cli.Context) error {
			cur, err := activeProfile(eng)
			if err != nil {
				return outputError(err)
			}
			out, err := eng.Writer.ListFailed(c.Context, cur.ProfileID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// recentCmd creates the recent command.
func recentCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "List recent transactions, one wallet's transactions, or one conversation",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "Wallet id"},
			&cli.StringFlag{Name: "interaction", Aliases: []string{"i"}, Usage: "Interaction id"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max items"},
		},
		Action: func(c *cli.Context) error {
			cur, err := activeProfile(eng)
			if err != nil {
				return outputError(err)
			}

			var out *ops.ListOutput
			switch {
			case c.String("interaction") != "":
				out, err = eng.Writer.Timeline(c.Context, cur.ProfileID, c.String("interaction"), c.Int("limit"))
			case c.String("account") != "":
				out, err = eng.Writer.TransactionsByAccount(c.Context, cur.ProfileID, c.String("account"), c.Int("limit"))
			default:
				out, err = eng.Writer.RecentTransactions(c.Context, cur.ProfileID, c.Int("limit"))
			}
			if err != nil {
				return outputError(err)
			}
			return outputJSON(out)
		},
	}
}

// countsCmd creates the counts command.
func countsCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "counts",
		Usage: "Show pending and failed counts",
		Action: func(c *cli.Context) error {
			cur, err := activeProfile(eng)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(eng.Counts(c.Context, cur.ProfileID))
		},
	}
}

// statusCmd creates the status command.
func statusCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the active profile and sync state",
		Action: func(c *cli.Context) error {
			snap := eng.Coordinator.Current()
			return outputJSON(map[string]any{
				"profile":      snap.Context,
				"state":        snap.State.String(),
				"sync_enabled": eng.SyncEnabled(),
				"stats":        eng.Worker.Stats(),
			})
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(eng *engine.Engine) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Push queued items to the remote (one batch with --once)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Drain one batch and exit"},
		},
		Action: func(c *cli.Context) error {
			if !eng.SyncEnabled() {
				return outputError(errors.NewValidation(engine.ErrSyncDisabled.Error()))
			}

			if c.Bool("once") {
				n, err := eng.Sync(c.Context)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(map[string]any{"attempted": n, "stats": eng.Worker.Stats()})
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			eng.Start(ctx)
			<-ctx.Done()
			eng.Dispose()
			return outputJSON(eng.Worker.Stats())
		},
	}
}

// webCmd creates the web command.
func webCmd(eng *engine.Engine, cfg *config.Config, log zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Serve the outbox inspector",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Bind address (default from config)"},
			&cli.IntFlag{Name: "port", Usage: "Port (default from config)"},
		},
		Action: func(c *cli.Context) error {
			bind, port := cfg.WebBind, cfg.WebPort
			if c.IsSet("bind") {
				bind = c.String("bind")
			}
			if c.IsSet("port") {
				port = c.Int("port")
			}

			eng.Start(c.Context)
			srv := web.NewServer(eng, Version, bind, port, log)
			if err := web.Run(srv, log); err != nil && !stderrors.Is(err, context.Canceled) {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var oErr *errors.OutpostError
	if stderrors.As(err, &oErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", oErr.Code, oErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func requireID(c *cli.Context) (string, error) {
	id := strings.TrimSpace(c.Args().First())
	if id == "" {
		return "", errors.NewValidation("item id argument is required")
	}
	return id, nil
}

// optional returns a pointer to s if non-blank, nil otherwise.
func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func pick(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// rawJSON passes metadata through untouched; validation happens in ops.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
