package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gantryio/gantry/internal/codec"
	"github.com/gantryio/gantry/internal/token"
)

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	broker := fs.String("broker", "localhost:9091", "broker address")
	actor := fs.String("actor", "", "actor subject to download")
	out := fs.String("out", "", "path to write the module bytes to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *actor == "" || *out == "" {
		return fmt.Errorf("download: --actor and --out are required")
	}

	client, err := connect(*broker)
	if err != nil {
		return err
	}
	defer client.Close()

	// Subscribe before asking, so no chunk the server sends right after its
	// ack can arrive unsubscribed.
	downloadSubject := token.SubjectStreamDownloadPrefix + *actor
	chunks, err := client.Subscribe(downloadSubject)
	if err != nil {
		return fmt.Errorf("download: subscribe: %w", err)
	}

	body, err := codec.Encode(&token.DownloadRequest{Actor: *actor})
	if err != nil {
		return fmt.Errorf("download: encode request: %w", err)
	}

	reply, err := client.Request(token.SubjectStreamDownload, &token.DeliverMessage{
		Message: &token.BrokerMessage{Body: body},
	}, requestTimeout)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}

	var ack token.TransferAck
	if err := codec.Decode(reply.Message.Body, &ack); err != nil {
		return fmt.Errorf("download: decode ack: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("download: %s has no uploaded module", *actor)
	}

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("download: create %s: %w", *out, err)
	}
	defer f.Close()

	var received uint64
	for received < ack.TotalChunks {
		select {
		case deliver := <-chunks:
			var chunk token.FileChunk
			if err := codec.Decode(deliver.Message.Body, &chunk); err != nil {
				return fmt.Errorf("download: decode chunk: %w", err)
			}
			if _, err := f.Write(chunk.ChunkBytes); err != nil {
				return fmt.Errorf("download: write chunk %d: %w", chunk.SequenceNo, err)
			}
			received++
		case <-time.After(requestTimeout):
			return fmt.Errorf("download: timed out waiting for chunk %d/%d", received, ack.TotalChunks)
		}
	}

	fmt.Printf("downloaded %s: %d bytes in %d chunks\n", *actor, ack.TotalBytes, ack.TotalChunks)
	return nil
}
