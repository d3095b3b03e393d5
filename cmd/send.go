package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/statusrelay/internal/config"
	"github.com/zjrosen/statusrelay/internal/event"
	"github.com/zjrosen/statusrelay/internal/ingest"
)

var sendCmd = &cobra.Command{
	Use:   "send <content>",
	Short: "Post a status event to a running listener",
	Long: `Post one status event to the listener at --url, or at the configured
listener address.

Example:
  statusrelay send "Indexing mailbox" --type progress --title Mail --progress 40
  statusrelay send "Deploy finished" --type success
  statusrelay send "" --type task-list-update --name Build --status done`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	f := sendCmd.Flags()
	f.String("url", "", "listener base URL (default from config)")
	f.StringP("type", "t", event.DefaultTypeName, "event type")
	f.String("title", "", "card title")
	f.String("icon", "", "icon name")
	f.Int("progress", -1, "progress percentage (0-100)")
	f.Int("duration", 0, "toast duration in milliseconds")
	f.String("name", "", "task name for task-list-add and task-list-update")
	f.String("status", "", "task status for task-list-add and task-list-update")
	f.Bool("final", false, "close the task list after this event")
	f.String("id", "", "event id used for de-duplication")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f := cmd.Flags()

	ev := event.StatusEvent{Content: args[0]}
	ev.TypeName, _ = f.GetString("type")
	ev.Title, _ = f.GetString("title")
	ev.Icon, _ = f.GetString("icon")
	ev.Name, _ = f.GetString("name")
	ev.ID, _ = f.GetString("id")
	ev.IsFinal, _ = f.GetBool("final")
	if status, _ := f.GetString("status"); status != "" {
		ev.Status = event.ParseTaskStatus(status)
	}
	if p, _ := f.GetInt("progress"); p >= 0 {
		ev.Progress = &p
	}
	if d, _ := f.GetInt("duration"); d > 0 {
		ev.DurationMS = &d
	}

	url, _ := f.GetString("url")
	return send(cmd.Context(), cmd.OutOrStdout(), listenerURL(cfg, url), ev)
}

func send(ctx context.Context, out io.Writer, baseURL string, ev event.StatusEvent) error {
	res, err := ingest.NewClient(baseURL, 10*time.Second).Post(ctx, ev)
	if err != nil {
		return err
	}
	if res.Duplicate {
		_, err = fmt.Fprintf(out, "duplicate ignored (queue size %d)\n", res.QueueSize)
		return err
	}
	_, err = fmt.Fprintf(out, "%s (queue size %d)\n", res.Message, res.QueueSize)
	return err
}

// listenerURL is override, or the configured listener with wildcard hosts
// replaced by loopback.
func listenerURL(cfg config.Config, override string) string {
	if override != "" {
		return override
	}
	host := cfg.Listener.Host
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(cfg.Listener.Port))
}
