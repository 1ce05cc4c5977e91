package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-authgate/admin-session/api"
	"github.com/go-authgate/admin-session/session"
	"github.com/go-authgate/admin-session/tui"
)

// errNotLoggedIn is returned by commands needing a session when none is stored.
var errNotLoggedIn = errors.New("not logged in, run 'login' first")

func newRootCmd() *cobra.Command {
	var flags flagValues
	var cfg *Config

	root := &cobra.Command{
		Use:           "authgate-admin",
		Short:         "Command line front end for the AuthGate admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = flags.resolve()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			warnInsecure(cfg)
			return nil
		},
	}
	flags.register(root)

	var creds api.Credentials
	login := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds.Email = getConfig(creds.Email, "ADMIN_EMAIL", "")
			creds.Password = getConfig(creds.Password, "ADMIN_PASSWORD", "")
			if creds.Email == "" || creds.Password == "" {
				return errors.New("email and password are required (--email/--password or ADMIN_EMAIL/ADMIN_PASSWORD)")
			}
			return runCommand(cfg, func(ctx context.Context, a *app, d tui.Displayer) error {
				return runLogin(ctx, a, d, creds)
			})
		},
	}
	login.Flags().StringVar(&creds.Email, "email", "", "Account email (or ADMIN_EMAIL env)")
	login.Flags().StringVar(&creds.Password, "password", "", "Account password (or ADMIN_PASSWORD env)")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cfg, runLogout)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Restore the stored session and show its state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cfg, runStatus)
		},
	}

	get := &cobra.Command{
		Use:       "get <jobs|workers|assets|templates> [id]",
		Short:     "Print resources as JSON",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"jobs", "workers", "assets", "templates"},
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := api.ParseResource(args[0])
			if err != nil {
				return err
			}
			var id string
			if len(args) == 2 {
				id = args[1]
			}
			return runCommand(cfg, func(ctx context.Context, a *app, d tui.Displayer) error {
				return runGet(ctx, a, d, res, id, cmd.OutOrStdout())
			})
		},
	}

	var interval time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Poll every resource until interrupted, keeping the session alive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cfg, func(ctx context.Context, a *app, d tui.Displayer) error {
				return runWatch(ctx, a, d, interval, 0)
			})
		},
	}
	watch.Flags().DurationVar(&interval, "interval", 30*time.Second, "Polling interval")

	root.AddCommand(login, logout, status, get, watch)
	return root
}

// restore waits for the session to be restored and reports it.
func restore(ctx context.Context, a *app, d tui.Displayer) (session.State, error) {
	d.Restoring()
	state, err := a.session.AwaitReady(ctx)
	if err != nil {
		return state, err
	}
	d.Restored(state)
	return state, nil
}

// requireSession restores the session and fails when there is nothing to
// act with. An unauthenticated session that still holds tokens (restore
// hit a transient failure) is let through: the first rejected request
// retries the refresh.
func requireSession(ctx context.Context, a *app, d tui.Displayer) error {
	state, err := restore(ctx, a, d)
	if err != nil {
		return err
	}
	tokens := a.session.Tokens()
	if state != session.StateAuthenticated && tokens.Access() == "" && tokens.Refresh() == "" {
		return errNotLoggedIn
	}
	return nil
}

func runLogin(ctx context.Context, a *app, d tui.Displayer, creds api.Credentials) error {
	if _, err := restore(ctx, a, d); err != nil {
		return err
	}

	pair, err := a.api.Login(ctx, creds)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	a.session.Login(pair)
	d.LoggedIn(creds.Email)

	at, _ := a.session.NextRefresh()
	d.Done(a.session.State(), tokenExpiry(a.session))
	if !at.IsZero() {
		d.NextRefresh(at)
	}
	return nil
}

func runLogout(_ context.Context, a *app, d tui.Displayer) error {
	a.session.Logout()
	d.LoggedOut()
	d.Done(a.session.State(), time.Time{})
	return nil
}

func runStatus(ctx context.Context, a *app, d tui.Displayer) error {
	state, err := restore(ctx, a, d)
	if err != nil {
		return err
	}
	if at, ok := a.session.NextRefresh(); ok {
		d.NextRefresh(at)
	}
	d.Done(state, tokenExpiry(a.session))
	return nil
}

func runGet(
	ctx context.Context,
	a *app,
	d tui.Displayer,
	res api.Resource,
	id string,
	out io.Writer,
) error {
	if err := requireSession(ctx, a, d); err != nil {
		return err
	}

	var result any
	var err error
	d.Listing(string(res))
	if id != "" {
		result, err = a.api.Get(ctx, res, id)
	} else {
		var items []api.Item
		items, err = a.api.List(ctx, res)
		if err == nil {
			d.Listed(string(res), len(items))
		}
		result = items
	}
	if err != nil {
		return apiFailed(d, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runWatch lists every resource concurrently each interval until ctx ends,
// or for rounds iterations when rounds > 0.
func runWatch(
	ctx context.Context,
	a *app,
	d tui.Displayer,
	interval time.Duration,
	rounds int,
) error {
	if err := requireSession(ctx, a, d); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for round := 1; ; round++ {
		if err := pollOnce(ctx, a, d); err != nil {
			if session.LoggedOut(err) {
				return apiFailed(d, err)
			}
			d.APICallFailed(err)
		}
		if at, ok := a.session.NextRefresh(); ok {
			d.NextRefresh(at)
		}
		if rounds > 0 && round >= rounds {
			d.Done(a.session.State(), tokenExpiry(a.session))
			return nil
		}

		select {
		case <-ctx.Done():
			d.Done(a.session.State(), tokenExpiry(a.session))
			return nil
		case <-ticker.C:
		}
	}
}

// pollOnce lists all resources at once; concurrent rejections share one
// refresh inside the session.
func pollOnce(ctx context.Context, a *app, d tui.Displayer) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, res := range api.Resources {
		g.Go(func() error {
			d.Listing(string(res))
			items, err := a.api.List(gctx, res)
			if err != nil {
				return err
			}
			d.Listed(string(res), len(items))
			return nil
		})
	}
	return g.Wait()
}

// apiFailed reports err, telling the user to log in again when the session
// is gone.
func apiFailed(d tui.Displayer, err error) error {
	if session.LoggedOut(err) {
		d.SessionExpired()
	}
	return err
}

func tokenExpiry(s *session.Session) time.Time {
	return session.DecodeExpiry(s.Tokens().Access()).ExpiresAt
}
