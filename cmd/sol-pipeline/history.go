package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/watermark"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the processing history, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.store.History(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROCESSING DATE\tFILES\tRECORDS\tRECORDED AT\tSUMMARY")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
				r.ProcessingDate.Format(watermark.DateLayout),
				r.FilesProcessed,
				r.RecordsProcessed,
				r.RecordedAt.Format("2006-01-02 15:04:05"),
				r.Summary,
			)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of runs to show (0 for all)")
}
