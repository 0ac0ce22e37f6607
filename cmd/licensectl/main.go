package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags
	Version = "dev"

	jsonOutput bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "licensectl",
		Short: "Offline tooling for MediLicense keys",
		Long: `licensectl generates and inspects license keys without a running
license service. Uniqueness against issued keys is only checked by the
service itself.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(newGenerateCmd())
	root.AddCommand(newParseCmd())
	root.AddCommand(newValidateFormatCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the licensectl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	})
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
