package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "gengateway",
		Short:         "Protective gateway in front of generative content providers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var opts rootOptions
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "gengateway.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs")

	root.AddCommand(
		newServeCmd(&opts),
		newGenerateCmd(&opts),
		newCacheCmd(&opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
