package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/statusrelay/internal/config"
	"github.com/zjrosen/statusrelay/internal/infrastructure/sqlite"
	"github.com/zjrosen/statusrelay/internal/render"
	"github.com/zjrosen/statusrelay/internal/transcript"
)

var errStoreDisabled = errors.New("transcript store is disabled (set store.enabled: true)")

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "List stored chat sessions or print one transcript",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Bool("delete", false, "delete the given session")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	if db == nil {
		return errStoreDisabled
	}
	defer func() { _ = db.Close() }()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return listSessions(out, db.Transcripts())
	}
	if del, _ := cmd.Flags().GetBool("delete"); del {
		if err := db.Transcripts().DeleteSession(args[0]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(out, "deleted %s\n", args[0])
		return err
	}
	return printTranscript(cmd.Context(), out, cfg, db.Transcripts(), args[0])
}

func listSessions(out io.Writer, repo *sqlite.TranscriptRepository) error {
	sessions, err := repo.Sessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(out, "no stored sessions")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tENTRIES\tFIRST\tLAST")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.ID, s.Entries,
			s.FirstAt.Local().Format("2006-01-02 15:04"), s.LastAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// printTranscript replays a stored session through a plain console sink.
func printTranscript(ctx context.Context, out io.Writer, cfg config.Config, store transcript.Store, id string) error {
	tr := transcript.New(id, transcript.WithStore(store))
	defer tr.Close()
	if err := tr.Load(); err != nil {
		return err
	}
	if tr.Len() == 0 {
		return fmt.Errorf("no stored session %q", id)
	}

	// Entries print with their stored timestamps.
	var at time.Time
	sink := render.NewConsoleSink(out,
		render.WithWidth(cfg.UI.Width),
		render.WithNoColor(),
		render.WithClock(func() time.Time { return at }),
	)
	for _, e := range tr.Entries() {
		at = e.At
		if _, err := sink.Send(ctx, e.Message); err != nil {
			return err
		}
	}
	return nil
}
