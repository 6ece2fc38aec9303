// Command fieldwalk runs the chat-driven inspection service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldwalk/fieldwalk/internal/version"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "fieldwalk",
		Short:         "Chat-driven field inspection service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config.toml")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fieldwalk %s\n", version.GetInfo())
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
