package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <path>",
	Short: "Dump the cross-backend history of an asset path",
	Long: `Dump the reconciled history of one asset path: a per-backend summary,
the repository's records when a repository is configured, optionally a
merged timeline and the full stored metadata of every reference.

Timeline entries are ordered by the raw timestamp strings the backends
emit; entries from different backends only order reliably against
their own kind.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		versions, cleanup, err := newAssetVersions()
		if err != nil {
			wrapFatalln("configure backends", err)
			return
		}
		defer cleanup()

		dump := versions.DumpAssetHistory(context.Background(), args[0],
			avfFlags.storageData, avfFlags.timeline)
		printYAML(dump)
	},
}

func init() {
	historyCmd.Flags().BoolVar(&avfFlags.timeline, "timeline", false, "include the merged event timeline")
	historyCmd.Flags().BoolVar(&avfFlags.storageData, "storage-data", false,
		"include the full stored metadata of every reference")
	rootCmd.AddCommand(historyCmd)
}
