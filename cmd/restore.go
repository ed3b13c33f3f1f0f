package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	classvault "github.com/studistack/classvault/lib"
)

var restoreConfirm string

var restoreCmd = &cobra.Command{
	Use:   "restore [artifact file|stored artifact name]",
	Short: "Replaces every record set with the contents of a backup artifact",
	Example: `
  classvault restore ./classvault-2026-08-21-09-30-45--manual.json --confirm s3cret
  classvault restore classvault-2026-08-21-03-00-00--scheduled.json.gz --confirm s3cret --storage gs://mybackups/classvault
`,
	Long: `Replaces the content of every record set named in the artifact with the
documents it carries, identifiers included. The whole replacement is
applied as one atomic unit when the store supports it; otherwise sets are
replaced one by one and the exact progress is reported.

The argument is a path to an artifact file; when no such file exists the
name is fetched from the configured artifact storage instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		engine := buildEngine(ctx)

		raw, err := os.ReadFile(args[0])
		if os.IsNotExist(err) {
			fmt.Printf("No local file %q, fetching from artifact storage\n", args[0])
			raw, err = engine.OpenStoredArtifact(ctx, filepath.Base(args[0]))
		}
		errorCheck("reading artifact", err)

		result, restoreErr := engine.RunRestore(ctx, raw, restoreConfirm)
		if result != nil {
			printRestoreResult(result)
		}
		errorCheck("restoring", restoreErr)
	},
}

func printRestoreResult(result *classvault.RestoreResult) {
	for _, sr := range result.Sets {
		switch sr.Status {
		case classvault.SetReplaced:
			color.Green("  %s: replaced %d document(s)", sr.Name, sr.Documents)
		case classvault.SetSkipped:
			color.Yellow("  %s: skipped (%s)", sr.Name, sr.Reason)
		case classvault.SetFailed:
			color.Red("  %s: failed (%s)", sr.Name, sr.Reason)
		default:
			color.Red("  %s: not reached", sr.Name)
		}
	}

	switch result.Status {
	case classvault.RestoreCommitted:
		color.Green("Restore %s committed (atomic: %v)", result.RunID, result.Atomic)
	case classvault.RestorePartiallyApplied:
		color.Red("Restore %s PARTIALLY APPLIED, see record set statuses above", result.RunID)
	default:
		color.Yellow("Restore %s rolled back, store left untouched", result.RunID)
	}
}

func init() {
	restoreCmd.Flags().StringVar(&restoreConfirm, "confirm", "", "Restore confirmation secret (required)")
}
