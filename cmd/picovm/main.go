package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

const version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "picovm",
	Short: "Embeddable bytecode VM runtime",
	Long:  `picovm runs compiled bytecode tasks on a cooperative multi-VM runtime backed by a fixed memory pool`,
}

func main() {
	rootCmd.Version = version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(disasmCmd)
	rootCmd.AddCommand(snapCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().Int("verbose", 0, "log verbosity (0-2)")
	cobra.OnInitialize(func() {
		verbosity, _ := rootCmd.PersistentFlags().GetInt("verbose")
		commonlog.Configure(verbosity, nil)
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
