package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/config"
	"go.dedis.ch/castor/httpserver"
	"go.dedis.ch/castor/peer/impl"
)

// -----------------------------------------------------------------------------
// Serve CMD

// Serve runs a node with the configuration at configPath until it receives
// SIGINT or SIGTERM. An empty path runs the default configuration.
func Serve(configPath string, listen string) error {
	conf := config.Default()
	if configPath != "" {
		var err error
		conf, err = config.FromYAML(configPath)
		if err != nil {
			return err
		}
	}
	if listen != "" {
		conf.Listen = listen
	}

	level, err := conf.Level()
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	runtime, err := conf.Open(context.Background())
	if err != nil {
		return err
	}
	defer runtime.Close()

	server := httpserver.NewServer(impl.NewPeer(runtime.Configuration))
	err = server.Start(conf.Listen)
	if err != nil {
		return err
	}

	fmt.Println("##########################################")
	fmt.Println("######     Starting a castor node    #####")
	fmt.Println("##########################################")
	fmt.Println("Role: ", conf.Role)
	fmt.Println("Node running on address: ", server.GetAddress())
	fmt.Println()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = server.Stop(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	fmt.Println("bye 👋")
	return nil
}

// -----------------------------------------------------------------------------
// Console CMD

var prompt = &survey.Select{
	Message: "What do you want to do ?",
	Options: actionOpts,
}

// Console runs the interactive operator console against the node at
// server.
func Console(server string) error {
	client := httpserver.NewClient(server, nil)

	_, err := client.Telemetry(context.Background())
	if err != nil {
		return err
	}
	fmt.Println("Connected to ", server)
	fmt.Println()

	var action string
	for {
		err := survey.AskOne(prompt, &action)
		if err != nil {
			return err
		}

		method := actions[action]
		err = method(client)
		if err == errExit {
			fmt.Println("bye 👋")
			return nil
		}
		if err != nil {
			printError(err)
		}
	}
}
