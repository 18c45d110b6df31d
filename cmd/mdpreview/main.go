package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/mdpreview/internal/auth"
	"github.com/alexjbarnes/mdpreview/internal/cache"
	"github.com/alexjbarnes/mdpreview/internal/config"
	"github.com/alexjbarnes/mdpreview/internal/fanout"
	"github.com/alexjbarnes/mdpreview/internal/index"
	"github.com/alexjbarnes/mdpreview/internal/logging"
	"github.com/alexjbarnes/mdpreview/internal/mcpserver"
	"github.com/alexjbarnes/mdpreview/internal/render"
	"github.com/alexjbarnes/mdpreview/internal/scan"
	"github.com/alexjbarnes/mdpreview/internal/scope"
	"github.com/alexjbarnes/mdpreview/internal/server"
	"github.com/alexjbarnes/mdpreview/internal/tlscert"
	"github.com/alexjbarnes/mdpreview/internal/watch"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flagValues mirrors the command-line flags. A flag only overrides the
// environment when it was set explicitly.
type flagValues struct {
	host       string
	port       int
	tls        bool
	cert       string
	key        string
	open       bool
	themeLight string
	themeDark  string
	backend    string
	cachePath  string
	mcp        bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var fv flagValues

	cmd := &cobra.Command{
		Use:           "mdpreview [directory]",
		Short:         "Live preview for a directory of markdown files",
		Args:          cobra.MaximumNArgs(1),
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if err := applyFlags(cmd, cfg, &fv, args); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	bindFlags(cmd, &fv)
	cmd.AddCommand(newHashPasswordCmd())

	return cmd
}

func bindFlags(cmd *cobra.Command, fv *flagValues) {
	f := cmd.Flags()
	f.StringVar(&fv.host, "host", "", "address to bind")
	f.IntVarP(&fv.port, "port", "p", 0, "first port to try")
	f.BoolVar(&fv.tls, "tls", false, "serve HTTPS")
	f.StringVar(&fv.cert, "cert", "", "TLS certificate file (default: mkcert)")
	f.StringVar(&fv.key, "key", "", "TLS key file (default: mkcert)")
	f.BoolVarP(&fv.open, "open", "o", false, "open the preview in a browser")
	f.StringVar(&fv.themeLight, "theme-light", "", "syntax highlight theme for light mode")
	f.StringVar(&fv.themeDark, "theme-dark", "", "syntax highlight theme for dark mode")
	f.StringVar(&fv.backend, "backend", "", "watch backend: fsnotify or notify")
	f.StringVar(&fv.cachePath, "cache", "", "render cache database path")
	f.BoolVar(&fv.mcp, "mcp", false, "expose the MCP endpoint at /mcp")
	f.StringVar(&fv.logLevel, "log-level", "", "debug, info, warn or error")
}

// applyFlags layers explicitly set flags and the positional directory
// over cfg, then revalidates.
func applyFlags(cmd *cobra.Command, cfg *config.Config, fv *flagValues, args []string) error {
	f := cmd.Flags()

	if f.Changed("host") {
		cfg.Host = fv.host
	}

	if f.Changed("port") {
		cfg.Port = fv.port
	}

	if f.Changed("tls") {
		cfg.TLS = fv.tls
	}

	if f.Changed("cert") {
		cfg.CertFile = fv.cert
	}

	if f.Changed("key") {
		cfg.KeyFile = fv.key
	}

	if f.Changed("open") {
		cfg.Open = fv.open
	}

	if f.Changed("theme-light") {
		cfg.SyntaxThemeLight = fv.themeLight
	}

	if f.Changed("theme-dark") {
		cfg.SyntaxThemeDark = fv.themeDark
	}

	if f.Changed("backend") {
		cfg.WatchBackend = fv.backend
	}

	if f.Changed("cache") {
		cfg.CachePath = fv.cachePath
	}

	if f.Changed("mcp") {
		cfg.EnableMCP = fv.mcp
	}

	if f.Changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}

	if len(args) == 1 {
		if err := cfg.SetRoot(args[0]); err != nil {
			return err
		}
	}

	return cfg.Validate()
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return hashPassword(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func hashPassword(in io.Reader, out, prompt io.Writer) error {
	fmt.Fprint(prompt, "Enter password: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return errors.New("no input")
	}

	hash, err := auth.HashPassword(scanner.Text())
	if err != nil {
		return err
	}

	fmt.Fprintln(out, hash)

	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("mdpreview starting",
		slog.String("version", Version),
		slog.String("root", cfg.Root),
		slog.String("backend", cfg.WatchBackend),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	users, err := cfg.ParseAuthUsers()
	if err != nil {
		return fmt.Errorf("parsing auth users: %w", err)
	}

	classifier, err := scope.New(cfg.Root, scope.Options{
		Extension:    cfg.Extension,
		ExcludeDirs:  cfg.ExcludeDirs,
		ExcludeGlobs: cfg.ExcludeGlobs,
	})
	if err != nil {
		return fmt.Errorf("building classifier: %w", err)
	}

	var (
		renderer render.Renderer = render.NewMarkdown()
		cached   *render.Cached
		store    *cache.Store
	)

	if cfg.CachePath != "" {
		store, err = cache.Open(cfg.CachePath)
		if err != nil {
			return fmt.Errorf("opening render cache: %w", err)
		}
		defer store.Close()

		cached = render.NewCached(renderer, store, logger)
		renderer = cached
	}

	idx := index.New()
	fan := fanout.New(cfg.SubscriberBuffer)
	defer fan.Close()

	syncer := watch.New(classifier, idx, fan, renderer, watch.Options{
		QueueSize: cfg.EventQueueSize,
		Logger:    logger,
	})

	// The watch starts before the scan so that changes made while
	// scanning are queued and applied once the index is bootstrapped.
	source, err := watch.NewSource(cfg.WatchBackend, classifier, logger)
	if err != nil {
		return err
	}

	if err := source.Start(func(ev watch.RawEvent) { syncer.Emit(ev) }); err != nil {
		return err
	}
	defer source.Close()

	docs, err := scan.Scan(ctx, classifier, renderer, scan.Options{
		Workers: cfg.Workers(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	syncer.Bootstrap(docs)

	if store != nil {
		pruned, err := store.Retain(cached.TakeUsed())
		if err != nil {
			logger.Warn("pruning render cache failed", slog.String("error", err.Error()))
		} else if pruned > 0 {
			logger.Debug("pruned render cache", slog.Int("entries", pruned))
		}
	}

	shell, err := server.NewShell(cfg.SyntaxThemeLight, cfg.SyntaxThemeDark, logger)
	if err != nil {
		return err
	}

	var mcpHandler http.Handler

	if cfg.EnableMCP {
		mcpServer := mcp.NewServer(
			&mcp.Implementation{Name: "mdpreview", Version: Version},
			nil,
		)
		mcpserver.RegisterTools(mcpServer, mcpserver.NewDocs(idx, classifier))

		mcpHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpServer
		}, nil)
	}

	handler := server.NewMux(server.MuxConfig{
		Index:      idx,
		Fanout:     fan,
		Shell:      shell,
		Users:      users,
		MCPHandler: mcpHandler,
		Logger:     logger,
	})

	ln, port, err := server.Listen(ctx, cfg.Host, cfg.Port, cfg.PortAttempts, logger)
	if err != nil {
		return err
	}

	var tlsFiles *tlscert.Pair

	if cfg.TLS {
		pair, err := tlscert.New(nil, logger).Resolve(ctx, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}

		tlsFiles = &pair
	}

	url := previewURL(cfg.Host, port, cfg.TLS)
	logger.Info("serving preview", slog.String("url", url))

	if len(users) > 0 {
		logger.Info("basic auth enabled", slog.Int("users", len(users)))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := syncer.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		return server.Serve(gctx, ln, handler, tlsFiles, logger)
	})

	if cfg.Open {
		if err := browser.OpenURL(url); err != nil {
			logger.Warn("opening browser failed", slog.String("error", err.Error()))
		}
	}

	err = g.Wait()

	stats := syncer.Stats()
	logger.Info("mdpreview stopped",
		slog.Uint64("events_received", stats.Received),
		slog.Uint64("events_dropped", stats.Dropped),
		slog.Uint64("operations_applied", stats.Applied),
	)

	return err
}

// previewURL is the address printed and opened for the user. Wildcard
// binds are shown as localhost.
func previewURL(host string, port int, tls bool) string {
	scheme := "http"
	if tls {
		scheme = "https"
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}

	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}
