// Package main is Gantry's command-line client: get/put/download/upload
// against a running gantry-server, all dialing the broker directly as a
// short-lived agent.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gantryio/gantry/internal/brokerclient"
	"github.com/gantryio/gantry/internal/token"
)

const requestTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "get":
		err = runGet(os.Args[2:])
	case "put":
		err = runPut(os.Args[2:])
	case "download":
		err = runDownload(os.Args[2:])
	case "upload":
		err = runUpload(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "gantry:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gantry <get|put|download|upload> [flags]")
}

func connect(broker string) (*brokerclient.Client, error) {
	client := brokerclient.New(broker, fmt.Sprintf("gantry-cli-%d", os.Getpid()))
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	return client, nil
}
