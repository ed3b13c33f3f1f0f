package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "Lists backup artifacts available on the configured storage",
	Example: `  classvault list -l 30 --storage gs://mybackups/classvault

    This will list the 30 most recent artifacts in Google Storage at gs://mybackups/classvault

  classvault list classvault-2026-08 -l 30

    Lists 30 artifacts from the month of August 2026.
`,
	Long: `Lists backup artifacts available on the configured storage`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		engine := buildEngine(ctx)

		limit := viper.GetInt("limit")
		offset := viper.GetInt("offset")

		var prefix string
		if len(args) == 1 {
			prefix = args[0]
		}

		list, err := engine.ListBackups(ctx, limit, offset, prefix)
		errorCheck("listing backups", err)

		fmt.Println("")
		fmt.Printf("Artifacts found:\n")
		w := new(tabwriter.Writer)
		w.Init(os.Stdout, 23, 0, 3, ' ', 0)
		fmt.Fprintln(w, "size\tname")
		for _, a := range list {
			fmt.Fprintf(w, "%s\t%s\n", humanize.Bytes(uint64(a.SizeBytes)), a.Name)
		}
		w.Flush()
		fmt.Println("")
		fmt.Printf("Total: %d\n", len(list))
		fmt.Println("")
	},
}

func init() {
	listCmd.Flags().IntP("limit", "l", 20, "Limit on how many artifacts to return")
	listCmd.Flags().IntP("offset", "o", 0, "List artifacts starting at offset")

	for _, flag := range []string{"limit", "offset"} {
		if err := viper.BindPFlag(flag, listCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
