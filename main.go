package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	tea "charm.land/bubbletea/v2"
	"github.com/joho/godotenv"

	"github.com/go-authgate/admin-session/tui"
)

func main() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// warnInsecure tells the user when tokens would travel in plaintext.
func warnInsecure(cfg *Config) {
	if strings.HasPrefix(strings.ToLower(cfg.ServerURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}
}

// runCommand wires an app for cfg and runs fn with a TUI on a terminal,
// or plain output otherwise.
func runCommand(cfg *Config, fn func(ctx context.Context, a *app, d tui.Displayer) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !isTTY() {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		return runWith(ctx, cfg, d, fn)
	}

	// Run TUI program on stderr so stdout pipes are not corrupted
	m := tui.NewModel()
	// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
	// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
	}()

	d := tui.NewProgramDisplayer(p)
	d.Banner()
	runErr := runWith(ctx, cfg, d, fn)
	p.Quit() // let BubbleTea drain terminal query responses before exiting
	wg.Wait()
	return runErr
}

func runWith(
	ctx context.Context,
	cfg *Config,
	d tui.Displayer,
	fn func(ctx context.Context, a *app, d tui.Displayer) error,
) error {
	// logs go to stderr only when the TUI is not drawing there
	var logOut io.Writer
	if _, plain := d.(*tui.PlainDisplayer); plain {
		logOut = os.Stderr
	}

	a, err := newApp(cfg, d, logOut)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer a.Close()

	if err := fn(ctx, a, d); err != nil {
		d.Fatal(err)
		return err
	}
	return nil
}
