package catalog

import (
	"fmt"
	"log"

	"github.com/gantryio/gantry/internal/brokerclient"
	"github.com/gantryio/gantry/internal/codec"
	"github.com/gantryio/gantry/internal/middleware"
	"github.com/gantryio/gantry/internal/token"
)

// Serve subscribes to the catalog's subjects and dispatches incoming
// DeliverMessages to Service until done is closed.
func (s *Service) Serve(client *brokerclient.Client, debug bool, done <-chan struct{}) error {
	putDeliveries, err := client.Subscribe(token.SubjectCatalogPutToken)
	if err != nil {
		return fmt.Errorf("catalog: subscribe put: %w", err)
	}
	queryDeliveries, err := client.Subscribe(token.SubjectCatalogQuery)
	if err != nil {
		return fmt.Errorf("catalog: subscribe query: %w", err)
	}

	for {
		select {
		case <-done:
			return nil
		case deliver := <-putDeliveries:
			s.handlePut(client, deliver, debug)
		case deliver := <-queryDeliveries:
			s.handleQuery(client, deliver, debug)
		}
	}
}

func (s *Service) handlePut(client *brokerclient.Client, deliver *token.DeliverMessage, debug bool) {
	if deliver == nil || deliver.Message == nil {
		return
	}

	// The incoming message carries only a raw JWT. Run it through the JWT
	// middleware first, the same pre-invoke step the original architecture
	// ran before a put ever reached the catalog, so PutToken always sees a
	// decoded, validated Token.
	rawDeliver, err := codec.Encode(deliver)
	if err != nil {
		if debug {
			log.Printf("catalog: encode put token envelope: %v", err)
		}
		return
	}
	augmented, err := middleware.AugmentPutToken(rawDeliver)
	if err != nil {
		if debug {
			log.Printf("catalog: augment put token: %v", err)
		}
		return
	}
	var augmentedDeliver token.DeliverMessage
	if err := codec.Decode(augmented, &augmentedDeliver); err != nil {
		if debug {
			log.Printf("catalog: decode augmented envelope: %v", err)
		}
		return
	}

	var tok token.Token
	if err := codec.Decode(augmentedDeliver.Message.Body, &tok); err != nil {
		if debug {
			log.Printf("catalog: decode put token: %v", err)
		}
		return
	}

	result, err := s.PutToken(&tok)
	if err != nil {
		if debug {
			log.Printf("catalog: put token: %v", err)
		}
		return
	}

	s.publishPutResult(client, deliver.Message.ReplyTo, result)
}

func (s *Service) handleQuery(client *brokerclient.Client, deliver *token.DeliverMessage, debug bool) {
	if deliver == nil || deliver.Message == nil {
		return
	}

	var query token.CatalogQuery
	if err := codec.Decode(deliver.Message.Body, &query); err != nil {
		if debug {
			log.Printf("catalog: decode query: %v", err)
		}
		return
	}

	results, err := s.Query(&query)
	if err != nil {
		if debug {
			log.Printf("catalog: query: %v", err)
		}
		return
	}

	s.publishResult(client, deliver.Message.ReplyTo, results)
}

// publishPutResult replies to a put with a single, unwrapped
// CatalogQueryResult, matching the original's put_token/publish_results
// wire contract rather than the query path's wrapped CatalogQueryResults.
func (s *Service) publishPutResult(client *brokerclient.Client, replyTo string, result *token.CatalogQueryResult) {
	if replyTo == "" {
		return
	}

	body, err := codec.Encode(result)
	if err != nil {
		return
	}

	msg := &token.DeliverMessage{Message: &token.BrokerMessage{Body: body}}
	if err := client.Publish(replyTo, msg); err != nil {
		log.Printf("catalog: publish put result to %s: %v", replyTo, err)
	}
}

func (s *Service) publishResult(client *brokerclient.Client, replyTo string, results *token.CatalogQueryResults) {
	if replyTo == "" {
		return
	}

	body, err := codec.Encode(results)
	if err != nil {
		return
	}

	msg := &token.DeliverMessage{Message: &token.BrokerMessage{Body: body}}
	if err := client.Publish(replyTo, msg); err != nil {
		log.Printf("catalog: publish result to %s: %v", replyTo, err)
	}
}
