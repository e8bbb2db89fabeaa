package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/btouchard/burrow/internal/store"
)

func NewSessionsCommand(c *cli) *cobra.Command {
	var (
		limit  int
		status string
		port   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded tunnel sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.NewSQLiteStore(c.cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer func() { _ = db.Close() }()

			recs, err := db.ListSessions(store.SessionFilter{Status: status, Port: port, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}

			if len(recs) == 0 {
				fmt.Fprintln(out, "no sessions recorded")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPORT\tURL\tSTARTED\tDURATION")
			for _, r := range recs {
				url := r.HTTPSURL
				if url == "" {
					url = r.HTTPURL
				}
				duration := "-"
				if !r.EndedAt.IsZero() {
					duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					r.ID[:min(8, len(r.ID))], r.Status, r.Port, url, humanize.Time(r.StartedAt), duration)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (running, stopped, exited, failed)")
	cmd.Flags().IntVar(&port, "port", 0, "filter by local port")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
