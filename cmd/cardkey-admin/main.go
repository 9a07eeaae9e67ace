// Command cardkey-admin issues cards and API keys and applies operator
// actions against the configured store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/cardkey/internal/backend"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/config"
	"github.com/BrandonDHaskell/cardkey/internal/logging"
)

const usage = `usage: cardkey-admin <command> [flags]

commands:
  issue    issue time or count cards
  apikey   create an API key
  disable  disable a card
  enable   re-enable a disabled card
  unbind   remove a device binding from a card
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "cardkey-admin:", err)
		os.Exit(1)
	}
}

type env struct {
	stores *backend.Stores
	logger logrus.FieldLogger
	cfg    config.Config
	out    io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}

	cmds := map[string]func(context.Context, *env, []string) error{
		"issue":   cmdIssue,
		"apikey":  cmdAPIKey,
		"disable": cmdSetEnabled(false),
		"enable":  cmdSetEnabled(true),
		"unbind":  cmdUnbind,
	}
	cmd, ok := cmds[args[0]]
	if !ok {
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	stores, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	return cmd(ctx, &env{stores: stores, logger: logger, cfg: cfg, out: stdout}, args[1:])
}

func cmdIssue(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	typ := fs.String("type", "count", "card type: time or count")
	n := fs.Int("n", 1, "number of cards (1-1000)")
	days := fs.Int("days", 0, "validity in days for time cards, 0 = never expires")
	total := fs.Int("total", 0, "uses for count cards")
	maxDevices := fs.Int("max-devices", 1, "maximum bound devices")
	multi := fs.Bool("multi-device", false, "allow more than one device")
	note := fs.String("note", "", "operator note")
	if err := fs.Parse(args); err != nil {
		return err
	}

	issued, err := service.NewIssuer(e.stores.Cards, e.logger).Issue(ctx, service.IssueRequest{
		Type:             store.CardType(*typ),
		Quantity:         *n,
		ValidDays:        *days,
		TotalCount:       *total,
		AllowMultiDevice: *multi,
		MaxDevices:       *maxDevices,
		Note:             *note,
	})
	type row struct {
		ID         int64   `json:"id"`
		CardKey    string  `json:"card_key"`
		Type       string  `json:"card_type"`
		ExpireDate *string `json:"expire_date,omitempty"`
		TotalCount *int    `json:"total_count,omitempty"`
	}
	rows := make([]row, 0, len(issued))
	for _, ic := range issued {
		r := row{ID: ic.Card.ID, CardKey: ic.Secret, Type: string(ic.Card.Type), TotalCount: ic.Card.TotalCount}
		if ic.Card.ExpireDate != nil {
			s := ic.Card.ExpireDate.Format(time.RFC3339)
			r.ExpireDate = &s
		}
		rows = append(rows, r)
	}
	if len(rows) > 0 {
		if werr := writeJSON(e.out, rows); werr != nil {
			return werr
		}
	}
	return err
}

func cmdAPIKey(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("apikey", flag.ContinueOnError)
	name := fs.String("name", "", "key name")
	rate := fs.Int("rate-limit", 1000, "advisory requests per hour")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, cred, err := service.IssueKey(ctx, e.stores.Credentials, *name, *rate)
	if err != nil {
		return err
	}
	return writeJSON(e.out, map[string]any{
		"id":      cred.ID,
		"name":    cred.Name,
		"api_key": key,
	})
}

func cmdSetEnabled(enabled bool) func(context.Context, *env, []string) error {
	return func(ctx context.Context, e *env, args []string) error {
		fs := flag.NewFlagSet("status", flag.ContinueOnError)
		secret := fs.String("card", "", "card key")
		if err := fs.Parse(args); err != nil {
			return err
		}

		reg := service.NewBindingRegistry(e.stores.Cards, e.stores.Bindings, e.cfg.LockWait, nil)
		svc := service.NewVerificationService(e.stores.Cards, reg, nil, service.VerificationConfig{
			LockWait: e.cfg.LockWait,
			Logger:   e.logger,
		})
		card, err := svc.SetEnabled(ctx, *secret, enabled)
		if err != nil {
			return err
		}
		return writeJSON(e.out, map[string]any{"id": card.ID, "status": card.Status})
	}
}

func cmdUnbind(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("unbind", flag.ContinueOnError)
	secret := fs.String("card", "", "card key")
	device := fs.String("device", "", "device id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := service.NewBindingRegistry(e.stores.Cards, e.stores.Bindings, e.cfg.LockWait, nil)
	if err := reg.Unbind(ctx, *secret, *device); err != nil {
		return err
	}
	return writeJSON(e.out, map[string]any{"unbound": *device})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
