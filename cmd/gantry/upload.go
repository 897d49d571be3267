package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gantryio/gantry/internal/codec"
	"github.com/gantryio/gantry/internal/token"
)

func runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	broker := fs.String("broker", "localhost:9091", "broker address")
	actor := fs.String("actor", "", "actor subject to upload")
	file := fs.String("file", "", "path to the module bytes to upload")
	chunkSize := fs.Uint64("chunk-size", token.DefaultChunkSize, "bytes per chunk")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *actor == "" || *file == "" {
		return fmt.Errorf("upload: --actor and --file are required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("upload: read %s: %w", *file, err)
	}

	client, err := connect(*broker)
	if err != nil {
		return err
	}
	defer client.Close()

	reqBody, err := codec.Encode(&token.UploadRequest{
		Actor:      *actor,
		TotalBytes: uint64(len(data)),
		ChunkSize:  *chunkSize,
	})
	if err != nil {
		return fmt.Errorf("upload: encode request: %w", err)
	}

	reply, err := client.Request(token.SubjectStreamUpload, &token.DeliverMessage{
		Message: &token.BrokerMessage{Body: reqBody},
	}, requestTimeout)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	var ack token.TransferAck
	if err := codec.Decode(reply.Message.Body, &ack); err != nil {
		return fmt.Errorf("upload: decode ack: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("upload: server did not accept the upload for %s", *actor)
	}

	chunkSubject := token.SubjectStreamUploadPrefix + *actor
	for seq := uint64(0); seq < ack.TotalChunks; seq++ {
		start := seq * ack.ChunkSize
		end := start + ack.ChunkSize
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}

		chunkBody, err := codec.Encode(&token.FileChunk{
			SequenceNo: seq,
			Actor:      *actor,
			ChunkBytes: data[start:end],
		})
		if err != nil {
			return fmt.Errorf("upload: encode chunk %d: %w", seq, err)
		}

		reply, err := client.Request(chunkSubject, &token.DeliverMessage{
			Message: &token.BrokerMessage{Body: chunkBody},
		}, requestTimeout)
		if err != nil {
			return fmt.Errorf("upload: chunk %d: %w", seq, err)
		}

		var chunkAck token.ChunkAck
		if err := codec.Decode(reply.Message.Body, &chunkAck); err != nil {
			return fmt.Errorf("upload: decode chunk ack %d: %w", seq, err)
		}
		if !chunkAck.Success {
			return fmt.Errorf("upload: server rejected chunk %d", seq)
		}
	}

	fmt.Printf("uploaded %s: %d bytes in %d chunks\n", *actor, ack.TotalBytes, ack.TotalChunks)
	return nil
}
