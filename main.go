package main

import (
	"os"

	"github.com/spf13/cobra"

	cli "go.dedis.ch/castor/cmd"
)

func main() {
	command := &cobra.Command{
		Use:   "castor",
		Short: "Tuple store for MPC correlated randomness",
	}
	addServeCmd(command)
	addCliCmd(command)

	err := command.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// addServeCmd runs a node as a daemon
func addServeCmd(command *cobra.Command) {
	var configPath string
	var listen string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a castor node",
		Long:  "Start a castor node serving uploads, activations and reservations over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(configPath, listen)
		},
	}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path of the YAML configuration")
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "Override the listen address")

	command.AddCommand(serveCmd)
}

// addCliCmd starts the interactive console
func addCliCmd(command *cobra.Command) {
	var server string

	cliCmd := &cobra.Command{
		Use:   "cli",
		Short: "Operate a castor node interactively",
		Long:  "Upload and activate chunks, reserve tuples and inspect a running castor node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Console(server)
		},
	}

	cliCmd.Flags().StringVarP(&server, "server", "s", "http://127.0.0.1:8080", "Base URL of the node")

	command.AddCommand(cliCmd)
}
