// Package cli is the terminal front end of nijichat.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"nijichat/internal/backend"
	"nijichat/internal/chat"
	"nijichat/internal/clipboard"
	"nijichat/internal/config"
	"nijichat/internal/service/ai"
)

var version = "dev"

type rootOptions struct {
	configPath string
	apiURL     string
	logLevel   string
}

// NewRootCmd builds the nijichat command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "nijichat",
		Short: "Terminal client for the nijichat service",
		Long: `nijichat signs you in to a nijichat service, keeps your conversations
and answers your messages through the configured inference backend.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("NIJICHAT_CONFIG"), "config file path (default config.json)")
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "nijichat service URL (overrides client.api_url)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.AddCommand(newAskCmd(opts))
	return root
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	_ = godotenv.Load(".env")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Sign in, send one message to a new conversation and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer session.close()
			password := os.Getenv("NIJICHAT_PASSWORD")
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "password: ")
				if password, err = readPassword(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
			}
			app := session.app
			app.SetCredentials(email, password)
			app.Login(cmd.Context())
			if state := app.Snapshot(); state.Session == nil {
				return fmt.Errorf("sign in: %s", state.AuthError)
			}
			app.NewConversation()
			if err := app.Submit(cmd.Context(), strings.Join(args, " ")); err != nil {
				return err
			}
			messages := app.Snapshot().Messages
			if len(messages) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), messages[len(messages)-1].Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", os.Getenv("NIJICHAT_EMAIL"), "account email")
	return cmd
}

type appSession struct {
	app     *chat.App
	client  *backend.Client
	cleanup func() error
}

func (s *appSession) close() {
	s.app.Close()
	s.client.Close()
	_ = s.cleanup()
}

// openSession loads configuration, wires the chat app and fetches the current session.
func openSession(ctx context.Context, opts *rootOptions) (*appSession, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || opts.configPath != "" {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = config.FromEnv()
	}
	if opts.apiURL != "" {
		cfg.Client.APIURL = opts.apiURL
	}
	logger, cleanup := config.SetupLogger(cfg.BasicConfig.LogFile, config.ParseLevel(opts.logLevel))

	generator, err := ai.NewServiceFromConfig(ctx, cfg, logger)
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	client := backend.New(cfg.APIURL(), &http.Client{}, logger)
	app := chat.New(chat.Options{
		Auth:        client,
		Store:       client,
		Generator:   generator,
		Copier:      clipboard.New(nil, logger),
		RedirectURL: cfg.Client.RedirectURL,
		CallTimeout: cfg.CallTimeout(),
		Logger:      logger,
	})
	if err := app.Start(ctx); err != nil {
		logger.Warn("initial session fetch failed", "error", err)
	}
	return &appSession{app: app, client: client, cleanup: cleanup}, nil
}

func runChat(ctx context.Context, opts *rootOptions, in io.Reader, out io.Writer) error {
	session, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer session.close()
	return NewREPL(session.app, in, out, terminalPassword(in)).Run(ctx)
}

// terminalPassword returns a no-echo reader when in is a terminal, nil otherwise.
func terminalPassword(in io.Reader) func() (string, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return func() (string, error) {
		return readPassword(f)
	}
}

// readPassword reads without echo from a terminal and falls back to a plain line otherwise.
func readPassword(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
