package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/statusrelay/internal/ingest"
	"github.com/zjrosen/statusrelay/internal/log"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow accepted status events from a running listener",
	Long: `Follow every status event the listener accepts, as JSON lines or as a
one-line summary. Tailing never takes events away from chat sessions.`,
	RunE: runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().String("url", "", "listener base URL (default from config)")
	tailCmd.Flags().Bool("json", false, "print raw JSON lines")
}

func runTail(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url, _ := cmd.Flags().GetString("url")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return tail(ctx, cmd.OutOrStdout(), listenerURL(cfg, url), asJSON)
}

func tail(ctx context.Context, out io.Writer, baseURL string, asJSON bool) error {
	enc := json.NewEncoder(out)
	return ingest.NewClient(baseURL, 0).Tail(ctx, func(se ingest.StreamEvent) {
		if asJSON {
			if err := enc.Encode(se); err != nil {
				log.ErrorErr(log.CatIngest, "failed to write stream event", err)
			}
			return
		}
		title := se.Event.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(out, "%s %-18s %-20s %s\n", se.ReceivedAt.Local().Format("15:04:05"), se.Event.TypeName, title, se.Event.Content)
	})
}
