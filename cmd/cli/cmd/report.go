package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gpubench/gpubench/internal/storage"
)

var (
	reportRunID   string
	reportModel   string
	reportGPU     string
	reportStatus  string
	reportLimit   int
	reportRunList bool
)

var reportCmd = &cobra.Command{
	Use:   "report [result-id]",
	Short: "Query benchmark results from the history database",
	Long: `List results recorded by past runs, filtered by run, model, GPU,
or status. Pass a result ID to show one result in full, or use --runs to
list the runs themselves.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportRunID, "run", "", "Filter by run ID")
	reportCmd.Flags().StringVar(&reportModel, "model", "", "Filter by model name")
	reportCmd.Flags().StringVar(&reportGPU, "gpu", "", "Filter by GPU product name")
	reportCmd.Flags().StringVar(&reportStatus, "status", "", "Filter by status (completed, failed)")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 50, "Maximum rows to return")
	reportCmd.Flags().BoolVar(&reportRunList, "runs", false, "List runs instead of results")
}

func runReport(cmd *cobra.Command, args []string) error {
	db, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open results database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(cmd.Context()); err != nil {
		return err
	}
	store := storage.NewResultStore(db)

	if len(args) == 1 {
		return printResult(cmd, store, args[0])
	}
	if reportRunList {
		return printRuns(cmd, store)
	}

	results, err := store.ListResults(cmd.Context(), storage.ResultFilter{
		RunID:   reportRunID,
		Model:   reportModel,
		GPUName: reportGPU,
		Status:  reportStatus,
		Limit:   reportLimit,
	})
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tMODEL\tGPU\tSTATUS\tREQ/S\tOUT TOK/S\tMEAN TTFT MS\tCREATED")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s x%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Variant, r.Model, r.GPUName, r.GPUCount, r.Status,
			floatCell(r.RequestThroughput),
			floatCell(r.OutputTokenThroughput),
			floatCell(r.MeanTTFTMs),
			r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func printRuns(cmd *cobra.Command, store *storage.ResultStore) error {
	runs, err := store.ListRuns(cmd.Context(), reportLimit)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tCODE HASH\tRUN DIR")
	for _, run := range runs {
		hash := run.CodeHash
		if len(hash) > 8 {
			hash = hash[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			run.ID, run.StartedAt.Format("2006-01-02 15:04"), hash, run.RunDir)
	}
	return w.Flush()
}

func printResult(cmd *cobra.Command, store *storage.ResultStore, id string) error {
	r, err := store.GetResult(cmd.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("result %s not found", id)
	}
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", r.ID)
	fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	fmt.Fprintf(w, "Recipe:\t%s\n", r.RecipeDir)
	fmt.Fprintf(w, "Variant:\t%s\n", r.Variant)
	fmt.Fprintf(w, "Model:\t%s\n", r.Model)
	fmt.Fprintf(w, "Engine:\t%s\n", r.Engine)
	fmt.Fprintf(w, "GPU:\t%s x%d\n", r.GPUName, r.GPUCount)
	fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	fmt.Fprintf(w, "Result file:\t%s\n", r.ResultPath)
	fmt.Fprintf(w, "Requests:\t%s\n", intCell(r.SuccessfulRequests))
	fmt.Fprintf(w, "Req/s:\t%s\n", floatCell(r.RequestThroughput))
	fmt.Fprintf(w, "Out tok/s:\t%s\n", floatCell(r.OutputTokenThroughput))
	fmt.Fprintf(w, "Mean TTFT ms:\t%s\n", floatCell(r.MeanTTFTMs))
	fmt.Fprintf(w, "P99 TTFT ms:\t%s\n", floatCell(r.P99TTFTMs))
	fmt.Fprintf(w, "Created:\t%s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	return w.Flush()
}

func intCell(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func floatCell(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
