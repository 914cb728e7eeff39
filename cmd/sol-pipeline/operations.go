package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List the operations a controller can request",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, op := range a.dispatcher.Registry().Operations() {
			schema := op.Describe()
			fmt.Fprintf(w, "%s\t%s\n", op.Name(), schema.Description)

			owned := a.cfg.Stages[op.Name()]
			for _, p := range schema.Params {
				var flags []string
				if p.Required {
					flags = append(flags, "required")
				}
				if _, ok := owned[p.Name]; ok {
					flags = append(flags, "configured")
				}
				fmt.Fprintf(w, "  %s (%s)\t%s %s\n", p.Name, p.Type, p.Description, strings.Join(flags, ","))
			}
		}
		return w.Flush()
	},
}
