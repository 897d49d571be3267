package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gantryio/gantry/internal/codec"
	"github.com/gantryio/gantry/internal/token"
)

func runPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	broker := fs.String("broker", "localhost:9091", "broker address")
	tokenPath := fs.String("token", "", "path to the raw JWT file to register")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tokenPath == "" {
		return fmt.Errorf("put: --token is required")
	}

	raw, err := os.ReadFile(*tokenPath)
	if err != nil {
		return fmt.Errorf("put: read %s: %w", *tokenPath, err)
	}

	client, err := connect(*broker)
	if err != nil {
		return err
	}
	defer client.Close()

	body, err := codec.Encode(&token.Token{RawToken: string(raw)})
	if err != nil {
		return fmt.Errorf("put: encode token: %w", err)
	}

	reply, err := client.Request(token.SubjectCatalogPutToken, &token.DeliverMessage{
		Message: &token.BrokerMessage{Body: body},
	}, requestTimeout)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}

	var result token.CatalogQueryResult
	if err := codec.Decode(reply.Message.Body, &result); err != nil {
		return fmt.Errorf("put: decode result: %w", err)
	}
	fmt.Printf("registered %s (%s)\n", result.Subject, result.Name)
	return nil
}
