package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianvfx/avf/pkg/repository"
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Query the version repository",
	Long: `Query the version repository for matching versions. Requires a
repository in the configuration. All filters combine with AND; --tag
may repeat and every listed tag must be present.`,
	Run: func(cmd *cobra.Command, args []string) {
		versions, cleanup, err := newAssetVersions()
		if err != nil {
			wrapFatalln("configure backends", err)
			return
		}
		defer cleanup()

		query := repository.FindQuery{
			FilePath: avfFlags.filePath,
			Creator:  avfFlags.creator,
			Tags:     avfFlags.tags,
		}
		if query.After, err = parseTimeFlag(avfFlags.after); err != nil {
			wrapFatalln("parse --after", err)
			return
		}
		if query.Before, err = parseTimeFlag(avfFlags.before); err != nil {
			wrapFatalln("parse --before", err)
			return
		}

		found, err := versions.FindVersions(context.Background(), query)
		if err != nil {
			wrapFatalln("find versions", err)
			return
		}
		printYAML(found)
	},
}

func parseTimeFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed, nil
		}
	}
	_, err := time.Parse(time.RFC3339, value)
	return nil, err
}

func init() {
	findCmd.Flags().StringVar(&avfFlags.filePath, "path", "", "asset path filter")
	findCmd.Flags().StringVar(&avfFlags.creator, "creator", "", "creator filter")
	findCmd.Flags().StringSliceVar(&avfFlags.tags, "tag", nil, "tag filter, repeatable")
	findCmd.Flags().StringVar(&avfFlags.after, "after", "", "created at or after (RFC3339 or YYYY-MM-DD)")
	findCmd.Flags().StringVar(&avfFlags.before, "before", "", "created at or before (RFC3339 or YYYY-MM-DD)")
	rootCmd.AddCommand(findCmd)
}
