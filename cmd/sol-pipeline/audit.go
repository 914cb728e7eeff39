package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/audit"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/config"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the distribution audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [directory]",
	Short: "Verify the hash chain of recorded distribution events",
	Long: `Recomputes the hash of every recorded distribution event and checks that
each destination's events form one unbroken chain. The directory defaults
to audit.directory from the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		} else {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			dir = cfg.Audit.Directory
		}
		if dir == "" {
			return fmt.Errorf("no audit directory given or configured")
		}

		n, err := audit.VerifyDir(dir)
		if err != nil {
			return err
		}
		fmt.Printf("%d events verified in %s\n", n, dir)
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
}
