package main

import (
	"github.com/spf13/cobra"

	"anime-identifier-go/internal/config"
)

func newRootCommand() *cobra.Command {
	return newRootCommandWith(buildProcessor)
}

func newRootCommandWith(build processorFactory) *cobra.Command {
	var configFlag string
	var envFile string
	var verbose bool

	ctx := newCommandContext(&configFlag, &verbose, build)

	rootCmd := &cobra.Command{
		Use:           "acid",
		Short:         "Anime character identification",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				return config.LoadDotEnv(envFile)
			}
			return config.LoadDotEnv()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file instead of .env")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")

	rootCmd.AddCommand(newIdentifyCommand(ctx))
	rootCmd.AddCommand(newBatchCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
