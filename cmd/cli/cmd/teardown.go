package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gpubench/gpubench/internal/runrecord"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown <run-dir>",
	Short: "Delete VMs left over from a previous run",
	Long: `Read the instance record from a run directory and delete every VM
it lists. Use this after a --no-teardown run or a crash.

Instances that fail to delete stay in the record so teardown can be
retried.`,
	Args: cobra.ExactArgs(1),
	RunE: runTeardown,
}

func init() {
	rootCmd.AddCommand(teardownCmd)
}

func runTeardown(cmd *cobra.Command, args []string) error {
	runDir := args[0]
	record := runrecord.NewStore(runDir)

	instances, err := record.List()
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		fmt.Printf("No live instances recorded in %s\n", runDir)
		return nil
	}

	registry := buildRegistry(cfg)
	ctx := cmd.Context()

	var failed int
	for _, inst := range instances {
		handle := inst.DeleteHandle()
		fmt.Printf("Deleting %s (%s, %s x%d)... ", handle.String(), inst.GroupLabel, inst.GPUName, inst.GPUCount)

		prov, err := registry.Get(handle.Provider)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failed++
			continue
		}
		if err := prov.DeleteInstance(ctx, handle); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failed++
			continue
		}

		fmt.Println("done")
		if err := record.Remove(inst.InstanceID); err != nil {
			fmt.Printf("  warning: failed to update record: %v\n", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d instances could not be deleted; record kept at %s", failed, len(instances), record.Path())
	}
	if err := record.Clear(); err != nil {
		return err
	}
	fmt.Printf("All %d instances deleted\n", len(instances))
	return nil
}
