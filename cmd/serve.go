package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/statusrelay/internal/config"
	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/relay"
	"github.com/zjrosen/statusrelay/internal/render"
	"github.com/zjrosen/statusrelay/internal/tracing"
	"github.com/zjrosen/statusrelay/internal/ui/markdown"
	"github.com/zjrosen/statusrelay/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status listener headless and print events to stdout",
	Long: `Run the status listener without the chat UI. Every accepted event is
rendered to stdout as styled markdown, or as JSON lines with --json.

Changing listener.host or listener.port in the config file moves the
listener without a restart. A stopped listener is restored every
listener.health_interval.

Example:
  statusrelay serve
  statusrelay serve --port 6000 --json`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("json", false, "print events as JSON lines")
	serveCmd.Flags().Bool("no-watch", false, "ignore config file changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level, _ := log.ParseLevel(cfg.Log.Level)
	log.InitWriter(os.Stderr, level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	asJSON, _ := cmd.Flags().GetBool("json")
	noWatch, _ := cmd.Flags().GetBool("no-watch")
	return serve(ctx, cmd.OutOrStdout(), cfg, serveOptions{
		JSON:       asJSON,
		ConfigPath: configPath(),
		Watch:      !noWatch,
	})
}

type serveOptions struct {
	JSON       bool
	ConfigPath string
	Watch      bool
	// Ready receives the bound port once the listener is up.
	Ready chan<- int
}

// serve runs until ctx is done.
func serve(ctx context.Context, out io.Writer, cfg config.Config, opts serveOptions) error {
	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("creating tracing provider: %w", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	sink, err := consoleSink(out, cfg, opts.JSON)
	if err != nil {
		return err
	}

	r := relay.New(cfg, relay.WithTracer(provider.Tracer()))
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Close(sctx); err != nil {
			log.ErrorErr(log.CatIngest, "error closing relay", err)
		}
	}()

	port, err := r.StartListener(ctx)
	if err != nil {
		return fmt.Errorf("starting status listener: %w", err)
	}
	if _, err := r.OpenSession(ctx, sink); err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	log.Info(log.CatIngest, "statusrelay serving", "port", port, "queue_max", cfg.Queue.MaxSize)
	if opts.Ready != nil {
		opts.Ready <- port
	}

	go r.Supervise(ctx, cfg.Listener.HealthInterval)

	if opts.Watch && opts.ConfigPath != "" {
		w, err := watcher.New(watcher.DefaultConfig(opts.ConfigPath))
		if err != nil {
			return fmt.Errorf("creating config watcher: %w", err)
		}
		changes, err := w.Start()
		if err != nil {
			log.ErrorErr(log.CatWatcher, "config watcher disabled", err, "path", opts.ConfigPath)
		} else {
			defer func() { _ = w.Stop() }()
			go reloadOnChange(ctx, r, opts.ConfigPath, changes)
		}
	}

	<-ctx.Done()
	return nil
}

// reloadOnChange re-reads the config file and moves the listener when its
// address changed. Invalid files are logged and ignored.
func reloadOnChange(ctx context.Context, r *relay.Relay, path string, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			cfg, err := readConfigFile(path)
			if err != nil {
				log.ErrorErr(log.CatConfig, "ignoring invalid config change", err, "path", path)
				continue
			}
			if _, err := r.Reconfigure(ctx, cfg.Listener); err != nil {
				log.ErrorErr(log.CatIngest, "failed to move status listener", err, "addr", cfg.Listener.Addr())
			}
		}
	}
}

// readConfigFile loads path on its own viper instance.
func readConfigFile(path string) (config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return config.Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return config.Load(v)
}

func consoleSink(out io.Writer, cfg config.Config, asJSON bool) (render.Sink, error) {
	if asJSON {
		return render.NewJSONSink(out), nil
	}
	opts := []render.ConsoleOption{render.WithWidth(cfg.UI.Width)}
	if cfg.UI.NoColor {
		opts = append(opts, render.WithNoColor())
	} else {
		md, err := markdown.New(cfg.UI.Width, cfg.UI.MarkdownStyle)
		if err != nil {
			return nil, fmt.Errorf("creating markdown renderer: %w", err)
		}
		opts = append(opts, render.WithMarkdown(md))
	}
	return render.NewConsoleSink(out, opts...), nil
}
