// Command lockoutctl inspects and clears lockouts in the configured attempt store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/app"
	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/identity"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

const usage = `usage: lockoutctl <command> [arguments]

commands:
  reset [-ip IP] [-username NAME]   clear matching attempts, or all attempts
  reset-ip IP...                    clear attempts for each address
  reset-username NAME...            clear attempts for each username
  status [-ip IP] [-username NAME]  show the lockout state of a client
  token [-subject S] [-scope S] [-ttl D]
                                    issue a token; scopes are lockout:admin,
                                    lockout:read and lockout:record
`

var errUsage = errors.New("invalid usage")

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{cfg: cfg, out: os.Stdout}
	if os.Args[1] != "token" {
		a, err := app.New(ctx, cfg, pkglogger.New(os.Stderr, cfg.Server.LogLevel))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening attempt store: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()
		c.app = a
	}

	if err := c.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			stop()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type cli struct {
	cfg *config.Config
	app *app.App
	out io.Writer
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "reset":
		return c.reset(ctx, args[1:])
	case "reset-ip":
		if len(args) < 2 {
			return fmt.Errorf("%w: reset-ip needs at least one address", errUsage)
		}
		removed, err := c.app.Guard.ResetIPs(ctx, args[1:]...)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, handlers.ResetMessage(removed))
		return nil
	case "reset-username":
		if len(args) < 2 {
			return fmt.Errorf("%w: reset-username needs at least one username", errUsage)
		}
		removed, err := c.app.Guard.ResetUsernames(ctx, args[1:]...)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, handlers.ResetMessage(removed))
		return nil
	case "status":
		return c.status(ctx, args[1:])
	case "token":
		return c.token(args[1:])
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func clientFlags(name string, args []string) (ip, username string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&ip, "ip", "", "client IP address")
	fs.StringVar(&username, "username", "", "client username")
	if err := fs.Parse(args); err != nil {
		return "", "", fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return "", "", fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}
	return ip, username, nil
}

func (c *cli) reset(ctx context.Context, args []string) error {
	ip, username, err := clientFlags("reset", args)
	if err != nil {
		return err
	}

	removed, err := c.app.Guard.AdministrativeReset(ctx, models.ResetFilter{IPAddress: ip, Username: username})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, handlers.ResetMessage(removed))
	return nil
}

func (c *cli) status(ctx context.Context, args []string) error {
	ip, username, err := clientFlags("status", args)
	if err != nil {
		return err
	}

	key, status, err := c.app.Guard.Status(ctx, identity.Identity{IPAddress: ip, Username: username})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "client:   %s\n", identity.Verbose(key))
	fmt.Fprintf(c.out, "state:    %s\n", status.State)
	fmt.Fprintf(c.out, "failures: %d/%d\n", status.Counter.Count, c.cfg.Lockout.FailureLimit)
	if status.RetryAfter != nil {
		fmt.Fprintf(c.out, "retry in: %s\n", status.RetryAfter.Round(time.Second))
	}
	return nil
}

func (c *cli) token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "operator", "token subject")
	scopes := fs.String("scope", auth.ScopeLockoutAdmin, "comma separated scopes")
	ttl := fs.Duration("ttl", c.cfg.Auth.AdminTokenExpiry, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	granted := strings.Split(*scopes, ",")
	for _, scope := range granted {
		switch scope {
		case auth.ScopeLockoutAdmin, auth.ScopeLockoutRead, auth.ScopeLockoutRecord:
		default:
			return fmt.Errorf("%w: unknown scope %q", errUsage, scope)
		}
	}
	if *ttl <= 0 {
		return fmt.Errorf("%w: -ttl must be positive", errUsage)
	}

	if c.cfg.Auth.AdminJWTSecret == "" {
		return errors.New("ADMIN_JWT_SECRET is not set")
	}

	tm := auth.NewTokenManager(c.cfg.Auth.AdminJWTSecret, *ttl)
	token, err := tm.GenerateToken(*subject, granted...)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, token)
	return nil
}
