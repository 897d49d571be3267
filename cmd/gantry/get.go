package main

import (
	"flag"
	"fmt"

	"github.com/gantryio/gantry/internal/codec"
	"github.com/gantryio/gantry/internal/token"
)

var queryTypesByKind = map[string]token.QueryType{
	"actors":    token.QueryActor,
	"accounts":  token.QueryAccount,
	"operators": token.QueryOperator,
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	broker := fs.String("broker", "localhost:9091", "broker address")
	kind := fs.String("kind", "", "one of actors, accounts, operators")
	issuer := fs.String("issuer", "", "filter results to this issuer subject")
	if err := fs.Parse(args); err != nil {
		return err
	}

	queryType, ok := queryTypesByKind[*kind]
	if !ok {
		return fmt.Errorf("get: --kind must be one of actors, accounts, operators")
	}

	client, err := connect(*broker)
	if err != nil {
		return err
	}
	defer client.Close()

	body, err := codec.Encode(&token.CatalogQuery{QueryType: queryType, Issuer: *issuer})
	if err != nil {
		return fmt.Errorf("get: encode query: %w", err)
	}

	reply, err := client.Request(token.SubjectCatalogQuery, &token.DeliverMessage{
		Message: &token.BrokerMessage{Body: body},
	}, requestTimeout)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}

	var results token.CatalogQueryResults
	if err := codec.Decode(reply.Message.Body, &results); err != nil {
		return fmt.Errorf("get: decode results: %w", err)
	}

	for _, r := range results.Results {
		fmt.Printf("%s\t%s\t%s\n", r.Subject, r.Issuer, r.Name)
	}
	return nil
}
