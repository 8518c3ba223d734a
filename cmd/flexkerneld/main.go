// Command flexkerneld drives the kernel core through its end-to-end
// scenarios, either as a one-shot run or as a long-lived process
// exporting metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "flexkerneld",
		Short: "Run flexkernel scheduler scenarios",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	root.AddCommand(newRunCmd(&cfgFile))
	root.AddCommand(newServeCmd(&cfgFile))
	return root
}
