package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/protocol"
)

var dispatchArgs string

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <operation>",
	Short: "Execute a single operation without a controller",
	Long: `Executes one operation with the given JSON arguments merged over the
static configuration for that operation, and prints the result envelope.

Example:
  sol-pipeline dispatch determine_processing_scope --args '{"force_user_input": false}'`,
	Args: cobra.ExactArgs(1),
	RunE: dispatchOne,
}

func init() {
	dispatchCmd.Flags().StringVarP(&dispatchArgs, "args", "a", "{}", "Operation arguments as a JSON object")
}

func dispatchOne(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var arguments map[string]any
	if err := json.Unmarshal([]byte(dispatchArgs), &arguments); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.dispatcher.Dispatch(ctx, protocol.Request{
		Operation: args[0],
		Arguments: arguments,
	})
	a.refreshWatermarkGauge(ctx)

	fmt.Fprintln(os.Stdout, result.Output())
	if !result.OK() {
		return fmt.Errorf("%s failed", args[0])
	}
	return nil
}
