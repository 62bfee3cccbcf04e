package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "avf",
	Short: "avf versions binary assets across storage backends",
	Long: `avf stores versions of binary assets (models, textures, rigs) on any
combination of storage backends: a content-addressed disk tree, a git
repository with one branch per version, or a changelist server. An
optional SQLite repository indexes every version for querying.

Backends and the repository are declared in a YAML config file.
`,
}

var cfgFile string

// used to patch over calls to os.Exit() during test
var logFatalln = log.Fatalln

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: avf.yaml in ., then $HOME/.avf)")
	rootCmd.PersistentFlags().String("loglevel", "", "log level (none, info, debug)")
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("loglevel"))
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	viper.SetDefault("git_prefix", "asset_versions")
	viper.SetDefault("log_level", "info")

	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("AVF_CONFIG") != "":
		viper.SetConfigFile(os.Getenv("AVF_CONFIG"))
	default:
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.avf")
		viper.SetConfigName("avf")
	}
	viper.SetEnvPrefix("avf")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		log.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
		return
	}
	logFatalln(msg + ": " + err.Error())
}

func printYAML(v interface{}) {
	buf, err := yaml.Marshal(v)
	if err != nil {
		wrapFatalln("render output", err)
		return
	}
	fmt.Print(string(buf))
}
