package main

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version number of gpumux",

	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("gpumux version %s (%s)\n", version, shortCommit(commit))

		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("server %s version %s\n", status.Server, status.Version)
		return nil
	},
}

func shortCommit(commit string) string {
	return commit[:min(len(commit), 7)]
}
