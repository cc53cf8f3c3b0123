package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "breviasync",
	Short: "Synchronize CMS content into Brevia vector index collections",
	Long: `breviasync mirrors CMS collections and documents and keeps the
Brevia vector index in sync with them: lifecycle events arrive over a
webhook API, bulk flows run as commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the breviasync version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("breviasync version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
