// Package cmd implements the statusrelay command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/statusrelay/internal/backend"
	"github.com/zjrosen/statusrelay/internal/config"
	"github.com/zjrosen/statusrelay/internal/infrastructure/sqlite"
	"github.com/zjrosen/statusrelay/internal/log"
	"github.com/zjrosen/statusrelay/internal/relay"
	"github.com/zjrosen/statusrelay/internal/tracing"
	"github.com/zjrosen/statusrelay/internal/transcript"
	"github.com/zjrosen/statusrelay/internal/ui/chatview"
	"github.com/zjrosen/statusrelay/internal/ui/markdown"
)

func init() {
	// Query the terminal background before Bubble Tea owns stdin, so the
	// OSC 11 reply does not end up in the input field.
	_ = lipgloss.HasDarkBackground()
}

// envPrefix scopes environment overrides, e.g. STATUSRELAY_LISTENER_PORT.
const envPrefix = "STATUSRELAY"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "statusrelay",
	Short: "Chat with a workflow backend while it streams status updates",
	Long: `statusrelay opens a terminal chat session against an HTTP workflow backend
and listens for status events on a local HTTP port. Workflows POST progress,
alerts, toasts and task lists to /status while a request is running, and the
chat renders them in the order they arrive.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runChat,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .statusrelay/config.yaml or ~/.config/statusrelay/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write a debug log (path from STATUSRELAY_LOG, default debug.log)")
	rootCmd.PersistentFlags().String("host", "", "status listener host")
	rootCmd.PersistentFlags().Int("port", 0, "status listener port")
	rootCmd.Flags().String("resume", "", "resume a stored chat session by id")

	_ = viper.BindPFlag("listener.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("listener.port", rootCmd.PersistentFlags().Lookup("port"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Lookup order: .statusrelay/config.yaml, then ~/.config/statusrelay/config.yaml.
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			viper.SetConfigFile(config.DefaultConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "statusrelay"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if writeErr := config.WriteDefaultConfig(config.DefaultConfigPath); writeErr == nil {
				viper.SetConfigFile(config.DefaultConfigPath)
				_ = viper.ReadInConfig()
			}
		}
	}
}

// loadConfig decodes and validates the merged file, env and flag settings.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// configPath is the file config set and the watcher operate on.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return config.DefaultConfigPath
}

// setupDebugLog opens the debug log when --debug or STATUSRELAY_DEBUG is set.
func setupDebugLog(cfg config.Config, prefix string) (func(), error) {
	if !debugFlag && os.Getenv(envPrefix+"_DEBUG") == "" {
		log.SetEnabled(false)
		return func() {}, nil
	}
	path := os.Getenv(envPrefix + "_LOG")
	if path == "" {
		path = "debug.log"
	}
	cleanup, err := log.InitWithTeaLog(path, prefix)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	if level, ok := log.ParseLevel(cfg.Log.Level); ok {
		log.SetMinLevel(level)
	}
	return cleanup, nil
}

// openStore returns the transcript store, or nil when persistence is off.
func openStore(cfg config.Config) (*sqlite.DB, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	db, err := sqlite.NewDB(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript store: %w", err)
	}
	return db, nil
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupDebugLog(cfg, "statusrelay")
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("creating tracing provider: %w", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	sessionID, _ := cmd.Flags().GetString("resume")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	var opts []transcript.Option
	if db != nil {
		opts = append(opts, transcript.WithStore(db.Transcripts()))
	}
	tr := transcript.New(sessionID, opts...)
	defer tr.Close()
	if err := tr.Load(); err != nil {
		return err
	}

	r := relay.New(cfg, relay.WithTracer(provider.Tracer()))
	defer func() { _ = r.Close(context.Background()) }()

	// A chat without a listener still works; the header reports it.
	if _, err := r.EnsureListener(ctx); err != nil {
		log.ErrorErr(log.CatIngest, "status listener unavailable", err)
	}
	if _, err := r.OpenSession(ctx, tr); err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	go r.Supervise(ctx, cfg.Listener.HealthInterval)

	model := chatview.New(ctx, chatview.Config{
		Transcript: tr,
		Backend:    backend.New(cfg.Backend, backend.WithTracer(provider.Tracer())),
		Markdown:   markdown.NewCache(cfg.UI.MarkdownStyle),
		Status: func() string {
			if addr, err := r.Listener().Addr(); err == nil {
				return "status on " + addr
			}
			return "status listener down"
		},
		Logs: log.NewListener(ctx),
	})

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
