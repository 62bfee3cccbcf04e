package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianvfx/avf/pkg/model"
)

var storeCmd = &cobra.Command{
	Use:   "store <file>",
	Short: "Store a new version of an asset",
	Long: `Store a new version of an asset on the configured backends.

Backends are written strictly in configuration order. When a backend
fails, earlier backends keep their copies and later ones are skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		versions, cleanup, err := newAssetVersions()
		if err != nil {
			wrapFatalln("configure backends", err)
			return
		}
		defer cleanup()

		meta := model.AssetMetadata{
			Creator:      avfFlags.creator,
			ToolVersion:  avfFlags.toolVersion,
			Description:  avfFlags.description,
			Tags:         avfFlags.tags,
			CreationTime: time.Now().UTC(),
		}
		identifiers, err := versions.CreateVersion(context.Background(), args[0], meta, avfFlags.backends...)
		if err != nil {
			wrapFatalln("store version", err)
			return
		}
		printYAML(identifiers)
	},
}

func init() {
	addMetadataFlags(storeCmd)
	addBackendsFlag(storeCmd)
	rootCmd.AddCommand(storeCmd)
}
