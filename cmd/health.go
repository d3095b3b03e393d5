package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/statusrelay/internal/backend"
	"github.com/zjrosen/statusrelay/internal/ingest"
)

// errUnhealthy makes health exit non-zero after printing its report.
var errUnhealthy = errors.New("unhealthy")

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the status listener and the chat backend",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().String("url", "", "listener base URL (default from config)")
	healthCmd.Flags().Bool("skip-backend", false, "only check the status listener")
}

func runHealth(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url, _ := cmd.Flags().GetString("url")
	skip, _ := cmd.Flags().GetBool("skip-backend")

	var p pinger
	if !skip {
		p = backend.New(cfg.Backend)
	}
	return health(cmd.Context(), cmd.OutOrStdout(), listenerURL(cfg, url), p)
}

type pinger interface {
	Ping(ctx context.Context) (bool, error)
}

func health(ctx context.Context, out io.Writer, baseURL string, backendPinger pinger) error {
	healthy := true

	h, err := ingest.NewClient(baseURL, 5*time.Second).Health(ctx)
	switch {
	case err != nil:
		healthy = false
		fmt.Fprintf(out, "listener  ✗ %s: %v\n", baseURL, err)
	case !h.ServerRunning:
		healthy = false
		fmt.Fprintf(out, "listener  ✗ %s: %s\n", baseURL, h.State)
	default:
		fmt.Fprintf(out, "listener  ✓ %s port %d, %d queued, up %s\n",
			h.State, h.Port, h.QueueSize, (time.Duration(h.UptimeSeconds) * time.Second).String())
	}

	if backendPinger != nil {
		ok, err := backendPinger.Ping(ctx)
		switch {
		case err != nil:
			healthy = false
			fmt.Fprintf(out, "backend   ✗ %v\n", err)
		case !ok:
			healthy = false
			fmt.Fprintln(out, "backend   ✗ unexpected status")
		default:
			fmt.Fprintln(out, "backend   ✓ reachable")
		}
	}

	if !healthy {
		return errUnhealthy
	}
	return nil
}
