package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <backend> <storage-id>",
	Short: "Show the stored metadata of a version",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		versions, cleanup, err := newAssetVersions()
		if err != nil {
			wrapFatalln("configure backends", err)
			return
		}
		defer cleanup()

		doc, err := versions.DescribeRaw(context.Background(), args[0], args[1])
		if err != nil {
			wrapFatalln("describe version", err)
			return
		}
		printYAML(doc)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
