package cli

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"captiongen/config"
	"captiongen/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted captioning sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Session.Store != "sqlite" {
			return errors.New("session listing requires session.store: sqlite")
		}

		store, err := session.OpenSQLite(cfg.Session.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.List(cmd.Context())
		if err != nil {
			return err
		}

		pretty := isatty.IsTerminal(os.Stdout.Fd())
		renderSessionsTable(cmd.OutOrStdout(), sessions, pretty)
		return nil
	},
}

func renderSessionsTable(w io.Writer, sessions []*session.Session, pretty bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if pretty {
		t.SetStyle(table.StyleRounded)
	}
	t.AppendHeader(table.Row{"ID", "Stage", "Video", "Format", "Updated"})
	for _, s := range sessions {
		t.AppendRow(table.Row{s.ID, s.Stage, s.VideoName, s.Format, s.UpdatedAt.Format("2006-01-02 15:04:05")})
	}
	t.Render()
}
