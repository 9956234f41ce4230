package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"launchpad/internal/actors"
	"launchpad/internal/api"
	"launchpad/internal/apperror"
	"launchpad/internal/identity"
	"launchpad/internal/models"
	"launchpad/internal/operation"
	"launchpad/internal/orchestrator"
	"launchpad/internal/principal"
	"launchpad/internal/wasm"
)

func delegationFlag(dest *string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "delegation",
		Usage:       "File holding the caller's identity payload (JSON, hex or base64)",
		EnvVars:     []string{"LAUNCHPAD_DELEGATION"},
		Required:    true,
		Destination: dest,
	}
}

// report prints the public part of application errors and keeps the cause for the log
func report(err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		slog.Error("Command failed", "kind", appErr.Kind, "error", err)
		if perr := printJSON(api.ErrorResponse(appErr)); perr != nil {
			return perr
		}
		return cli.Exit("", 1)
	}
	return err
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the ops HTTP server (health, readiness, metrics, deployment status)",
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			server := api.NewServer(a.cfg.HTTPPort, a.repo)
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start API server: %w", err)
			}

			<-ctx.Done()
			slog.Warn("Interrupt received, shutting down...")

			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func deployCommand() *cli.Command {
	cfg := struct {
		request    string
		delegation string
	}{}
	return &cli.Command{
		Name:      "deploy",
		Usage:     "Deploy one token canister from a JSON request",
		ArgsUsage: "<request.json | ->",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "delegation",
				Usage:       "File holding the owner's identity payload; overrides the request's delegation field",
				EnvVars:     []string{"LAUNCHPAD_DELEGATION"},
				Destination: &cfg.delegation,
			},
		},
		Action: func(c *cli.Context) error {
			cfg.request = c.Args().First()
			if cfg.request == "" {
				return cli.Exit("a request file is required", 2)
			}

			var req orchestrator.Request
			if err := readJSON(cfg.request, &req); err != nil {
				return err
			}
			if cfg.delegation != "" {
				payload, err := readDelegation(cfg.delegation)
				if err != nil {
					return err
				}
				req.Delegation = payload
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			res, err := orch.Deploy(ctx, req)
			if err != nil {
				return report(err)
			}
			slog.Info("Deployed", "result", res.String())
			return printJSON(res)
		},
	}
}

func operateCommand() *cli.Command {
	cfg := struct {
		canister   string
		amount     string
		to         string
		subaccount string
		delegation string
	}{}
	return &cli.Command{
		Name:      "operate",
		Usage:     "Mint, burn or transfer on a deployed token",
		ArgsUsage: "<mint|burn|transfer>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "canister", Usage: "Token canister id", Required: true, Destination: &cfg.canister},
			&cli.StringFlag{Name: "amount", Usage: "Amount in minor units", Required: true, Destination: &cfg.amount},
			&cli.StringFlag{Name: "to", Usage: "Recipient principal (mint defaults to the caller)", Destination: &cfg.to},
			&cli.StringFlag{Name: "subaccount", Usage: "Recipient subaccount in hex", Destination: &cfg.subaccount},
			delegationFlag(&cfg.delegation),
		},
		Action: func(c *cli.Context) error {
			payload, err := readDelegation(cfg.delegation)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			d := operation.New(a.sessions, a.repo, a.cfg.Ledger())
			res, err := d.Operate(ctx, operation.Request{
				Canister:            cfg.canister,
				Kind:                models.OperationKind(c.Args().First()),
				Amount:              cfg.amount,
				Recipient:           cfg.to,
				RecipientSubaccount: cfg.subaccount,
				Delegation:          payload,
			})
			if err != nil {
				return report(err)
			}
			return printJSON(res)
		},
	}
}

func moduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "module",
		Usage: "Acquire the token module, populate the cache and print its digest",
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := &app{cfg: cfg}
			acq, err := a.acquirer(ctx)
			if err != nil {
				return err
			}
			module, err := acq.Acquire(ctx)
			if err != nil {
				return report(err)
			}
			return printJSON(map[string]any{
				"sha256": wasm.Digest(module),
				"size":   len(module),
				"key":    cfg.WasmCacheKey,
			})
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:      "whoami",
		Usage:     "Print the principal of an identity payload",
		ArgsUsage: "<payload-file>",
		Action: func(c *cli.Context) error {
			if c.Args().First() == "" {
				return cli.Exit("a payload file is required", 2)
			}
			payload, err := readDelegation(c.Args().First())
			if err != nil {
				return err
			}
			id, err := identity.Reconstruct(payload)
			if err != nil {
				return report(err)
			}
			p, err := identity.Validate(id)
			if err != nil {
				return report(apperror.InvalidDelegation("identity cannot produce a principal", err))
			}
			return printJSON(map[string]any{
				"principal":   p.String(),
				"anonymous":   identity.IsAnonymous(id),
				"delegations": len(id.Delegations()),
			})
		},
	}
}

func statusCommand() *cli.Command {
	var delegation string
	return &cli.Command{
		Name:      "status",
		Usage:     "Show canister_status for a canister the caller controls",
		ArgsUsage: "<canister-id>",
		Flags: []cli.Flag{
			delegationFlag(&delegation),
		},
		Action: func(c *cli.Context) error {
			canister, err := principal.Decode(c.Args().First())
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid canister id: %v", err), 2)
			}
			payload, err := readDelegation(delegation)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := newSessionFactory(cfg).CreateAuthenticated(ctx, payload)
			if err != nil {
				return report(err)
			}
			status, err := actors.NewManagement(s, canister).CanisterStatus(ctx, canister)
			if err != nil {
				return report(apperror.ExternalService("management canister", err))
			}

			controllers := make([]string, len(status.Controllers))
			for i, p := range status.Controllers {
				controllers[i] = p.String()
			}
			return printJSON(map[string]any{
				"canister_id": canister.String(),
				"status":      status.Status,
				"cycles":      status.Cycles.String(),
				"memory_size": status.MemorySize.String(),
				"controllers": controllers,
				"module_hash": fmt.Sprintf("%x", status.ModuleHash),
			})
		},
	}
}
