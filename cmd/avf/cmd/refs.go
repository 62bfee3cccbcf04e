package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridianvfx/avf/pkg/model"
)

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "List versionable references on every backend",
	Long: `List the objects each backend could turn into tracked versions:
stored files on disk, commits in git, submitted changelists on p4.
A backend that fails to answer is reported as empty.`,
	Run: func(cmd *cobra.Command, args []string) {
		logger := newLogger()
		entries, err := newBackends(logger)
		if err != nil {
			wrapFatalln("configure backends", err)
			return
		}

		ctx := context.Background()
		out := make(map[string][]model.StorageReference, len(entries))
		for _, entry := range entries {
			refs, err := entry.backend.ListReferences(ctx,
				model.ReferenceType(avfFlags.refType), avfFlags.pattern)
			if err != nil {
				logger.Warn("reference listing failed, treating backend as empty",
					zap.String("backend", entry.name), zap.Error(err))
				refs = nil
			}
			if refs == nil {
				refs = []model.StorageReference{}
			}
			out[entry.name] = refs
		}
		printYAML(out)
	},
}

func init() {
	refsCmd.Flags().StringVar(&avfFlags.refType, "type", "",
		"reference type filter: file, commit, changelist, snapshot")
	refsCmd.Flags().StringVar(&avfFlags.pattern, "pattern", "", "path substring filter")
	rootCmd.AddCommand(refsCmd)
}
