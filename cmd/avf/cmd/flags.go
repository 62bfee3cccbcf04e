package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type flagsT struct {
	creator     string
	toolVersion string
	description string
	tags        []string
	backends    []string
	target      string
	refType     string
	pattern     string
	timeline    bool
	storageData bool
	filePath    string
	after       string
	before      string
}

var avfFlags flagsT

func addMetadataFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&avfFlags.creator, "creator", "", "who created this version (required)")
	cmd.Flags().StringVar(&avfFlags.toolVersion, "tool-version", "", "tool that produced the asset (required)")
	cmd.Flags().StringVar(&avfFlags.description, "description", "", "free-form description")
	cmd.Flags().StringSliceVar(&avfFlags.tags, "tag", nil, "tag for this version, repeatable")
	_ = cmd.MarkFlagRequired("creator")
	_ = cmd.MarkFlagRequired("tool-version")
}

func addBackendsFlag(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&avfFlags.backends, "backend", nil,
		"backend to store on, repeatable (default: every configured backend)")
}

func addTargetFlag(flags *pflag.FlagSet) {
	flags.StringVar(&avfFlags.target, "target", "", "destination path for the retrieved file")
}
