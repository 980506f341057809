package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/ashureev/docchat/internal/backend"
	"github.com/ashureev/docchat/internal/config"
	"github.com/ashureev/docchat/internal/session"
	"github.com/ashureev/docchat/internal/store"
	"github.com/ashureev/docchat/internal/stream"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app holds what every command shares once configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.SQLiteStore
	sessions *session.Manager
	backend  *backend.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with your PDF documents",
		Long: `DocChat signs in to the document chat backend, uploads PDFs and asks
questions about them, either from the command line or through the local web UI.

Available subcommands:
  serve       Run the local web UI and API
  login       Sign in and store the credential
  signup      Create an account and sign in
  logout      Forget the stored credential
  status      Show the session state
  ask         Ask a question about your documents
  upload      Upload a PDF

Examples:
  docchat login --email ana@example.com
  docchat upload report.pdf
  docchat ask "What does the report conclude?"
  docchat serve`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipSetup(cmd) {
				return nil
			}
			out := io.Writer(os.Stderr)
			if cmd.Name() == "serve" {
				out = os.Stdout
			}
			return a.setup(cmd.Context(), out)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newLoginCmd(a))
	cmd.AddCommand(newSignupCmd(a))
	cmd.AddCommand(newLogoutCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newAskCmd(a))
	cmd.AddCommand(newUploadCmd(a))

	return cmd
}

// skipSetup reports whether cmd runs without configuration, as cobra's
// built-in help and completion commands do.
func skipSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "help" || c.Name() == "completion" {
			return true
		}
	}
	return false
}

func (a *app) setup(ctx context.Context, logOut io.Writer) error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(a.logger)

	a.store, err = store.NewSQLite(cfg.CredentialDBPath)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("credential store health check: %w", err)
	}

	a.sessions = session.NewManager(a.store, session.WithLogger(a.logger))
	if err := a.sessions.Initialize(ctx); err != nil {
		a.logger.Warn("Failed to restore session", "error", err)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	a.backend = backend.NewClient(cfg.UserMgmtURL, cfg.ChatURL, cfg.UploadURL, httpClient)
	return nil
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		slog.Error("Failed to close credential store", "error", err)
	}
}

// dialer picks the configured stream transport. Streams are long lived, so
// the HTTP client carries no overall timeout.
func (a *app) dialer() stream.Dialer {
	if a.cfg.StreamTransport == config.TransportWebSocket {
		return &stream.WebSocketDialer{BaseURL: a.cfg.ChatURL}
	}
	return &stream.SSEDialer{BaseURL: a.cfg.ChatURL}
}

// requireSession fails when nobody is signed in.
func (a *app) requireSession(ctx context.Context) (session.State, error) {
	if err := a.sessions.Revalidate(ctx); err != nil {
		return session.State{}, err
	}
	st := a.sessions.State()
	if !st.Authenticated {
		return st, errors.New("not signed in; run docchat login first")
	}
	return st, nil
}
