package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <backend> <storage-id>",
	Short: "Retrieve a stored version",
	Long: `Retrieve a stored version from one backend. Without --target the
backend picks the destination (the stored file itself for disk, a
cache copy for git, the synced workspace file for p4).`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		versions, cleanup, err := newAssetVersions()
		if err != nil {
			wrapFatalln("configure backends", err)
			return
		}
		defer cleanup()

		path, err := versions.Retrieve(context.Background(), args[0], args[1], avfFlags.target)
		if err != nil {
			wrapFatalln("retrieve version", err)
			return
		}
		fmt.Println(path)
	},
}

func init() {
	addTargetFlag(retrieveCmd.Flags())
	rootCmd.AddCommand(retrieveCmd)
}
