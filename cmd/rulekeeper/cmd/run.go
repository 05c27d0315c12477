package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/solatis/rulekeeper/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rules for one record and print the execution log as JSON",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("module", "", "module of the triggering record (required)")
	runCmd.Flags().String("record", "", "ID of the triggering record (required)")
	runCmd.Flags().String("trigger", string(types.TriggerManual), "trigger event (manual or automatic)")
	_ = runCmd.MarkFlagRequired("module")
	_ = runCmd.MarkFlagRequired("record")
}

func runRun(cmd *cobra.Command, args []string) error {
	moduleFlag, _ := cmd.Flags().GetString("module")
	recordFlag, _ := cmd.Flags().GetString("record")
	triggerFlag, _ := cmd.Flags().GetString("trigger")

	module, err := types.ParseModule(moduleFlag)
	if err != nil {
		return err
	}
	trigger := types.Trigger(triggerFlag)
	if trigger != types.TriggerManual && trigger != types.TriggerAutomatic {
		return fmt.Errorf("%w: %q (expected manual or automatic)", types.ErrInvalidTrigger, triggerFlag)
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	// Ctrl-C stops the run between rules; started actions finish.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	entries := a.engine.Run(ctx, module, trigger, types.RecordID(recordFlag))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
