// Package stream implements Gantry's chunked module-transfer service: it
// answers upload/download requests with a TransferAck establishing chunk
// size and count, then pumps (or accepts) the FileChunk stream that follows,
// all gated on the actor being registered in the catalog.
package stream

import (
	"fmt"
	"log"

	"github.com/gantryio/gantry/internal/blob"
	"github.com/gantryio/gantry/internal/brokerclient"
	"github.com/gantryio/gantry/internal/codec"
	"github.com/gantryio/gantry/internal/errs"
	"github.com/gantryio/gantry/internal/token"
)

// blobContainer is the single container every module's bytes live under.
const blobContainer = "gantry"

// ActorLister is the catalog capability this service needs: just enough to
// gate a transfer on the actor being registered. Satisfied by
// *catalog.Service without an import cycle.
type ActorLister interface {
	ListActors() ([]string, error)
}

// Service is the stream's message-handling core.
type Service struct {
	blobs            blob.Store
	actors           ActorLister
	defaultChunkSize uint64
}

// New builds a stream service over store, gating transfers on actors.
// defaultChunkSize is used for downloads, where the client proposes nothing,
// and as the fallback when an upload request omits chunk_size; a zero value
// falls back to token.DefaultChunkSize.
func New(store blob.Store, actors ActorLister, defaultChunkSize uint64) *Service {
	if defaultChunkSize == 0 {
		defaultChunkSize = token.DefaultChunkSize
	}
	return &Service{blobs: store, actors: actors, defaultChunkSize: defaultChunkSize}
}

// Serve subscribes to the stream's request subjects and dispatches incoming
// DeliverMessages until done is closed.
func (s *Service) Serve(client *brokerclient.Client, debug bool, done <-chan struct{}) error {
	downloadReqs, err := client.Subscribe(token.SubjectStreamDownload)
	if err != nil {
		return fmt.Errorf("stream: subscribe download: %w", err)
	}
	uploadReqs, err := client.Subscribe(token.SubjectStreamUpload)
	if err != nil {
		return fmt.Errorf("stream: subscribe upload: %w", err)
	}

	for {
		select {
		case <-done:
			return nil
		case deliver := <-downloadReqs:
			s.handleDownloadRequest(client, deliver, debug)
		case deliver := <-uploadReqs:
			s.handleUploadRequest(client, deliver, debug)
		}
	}
}

func (s *Service) isRegistered(actor string) (bool, error) {
	actors, err := s.actors.ListActors()
	if err != nil {
		return false, err
	}
	for _, a := range actors {
		if a == actor {
			return true, nil
		}
	}
	return false, nil
}

// handleDownloadRequest acks with the blob's size and the server's default
// chunk size, then pumps the file's chunks out over the per-actor download
// subject. The client is expected to already be subscribed to that subject
// before sending the request, since the chunks start flowing as soon as the
// ack does.
func (s *Service) handleDownloadRequest(client *brokerclient.Client, deliver *token.DeliverMessage, debug bool) {
	if deliver == nil || deliver.Message == nil {
		return
	}

	var req token.DownloadRequest
	if err := codec.Decode(deliver.Message.Body, &req); err != nil {
		if debug {
			log.Printf("stream: decode download request: %v", err)
		}
		return
	}

	registered, err := s.isRegistered(req.Actor)
	if err != nil {
		if debug {
			log.Printf("stream: check registration: %v", err)
		}
		return
	}
	if !registered {
		if debug {
			log.Printf("stream: download %s: %v", req.Actor, errs.ErrNotRegistered)
		}
		return
	}

	blobID := req.Actor + ".wasm"
	info, err := s.blobs.GetBlobInfo(blobContainer, blobID)
	if err != nil {
		if debug {
			log.Printf("stream: get blob info: %v", err)
		}
		return
	}
	if info == nil {
		s.replyFailedAck(client, deliver.Message.ReplyTo, req.Actor, debug)
		return
	}

	chunkSize := s.defaultChunkSize
	totalChunks := token.TotalChunks(info.ByteSize, chunkSize)

	ack := token.TransferAck{
		Success:     true,
		Actor:       req.Actor,
		TotalBytes:  info.ByteSize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
	}
	if err := s.publish(client, deliver.Message.ReplyTo, &ack); err != nil {
		if debug {
			log.Printf("stream: publish download ack: %v", err)
		}
		return
	}

	session, err := s.blobs.StartDownload(info, chunkSize)
	if err != nil {
		if debug {
			log.Printf("stream: start download: %v", err)
		}
		return
	}

	go s.pumpDownload(client, req.Actor, session, totalChunks, chunkSize, info.ByteSize, debug)
}

// pumpDownload reads every chunk of an in-progress download and publishes it
// to the actor's download subject, in order.
func (s *Service) pumpDownload(client *brokerclient.Client, actor string, session *blob.DownloadSession, totalChunks, chunkSize, totalBytes uint64, debug bool) {
	subject := token.SubjectStreamDownloadPrefix + actor
	for seq := uint64(0); seq < totalChunks; seq++ {
		data, err := s.blobs.ReadChunk(session, seq)
		if err != nil {
			if debug {
				log.Printf("stream: read chunk %d for %s: %v", seq, actor, err)
			}
			return
		}

		chunk := token.FileChunk{
			SequenceNo:  seq,
			Actor:       actor,
			TotalBytes:  totalBytes,
			ChunkSize:   chunkSize,
			TotalChunks: totalChunks,
			ChunkBytes:  data,
		}
		if err := s.publish(client, subject, &chunk); err != nil {
			if debug {
				log.Printf("stream: publish chunk %d for %s: %v", seq, actor, err)
			}
			return
		}
	}
}

// handleUploadRequest acks with the chunk size the client proposed (falling
// back to the default if it proposed none), subscribes to the per-actor
// upload-chunk subject before acking so no chunk can arrive unsubscribed,
// and pumps incoming chunks into the blob store as they land.
func (s *Service) handleUploadRequest(client *brokerclient.Client, deliver *token.DeliverMessage, debug bool) {
	if deliver == nil || deliver.Message == nil {
		return
	}

	var req token.UploadRequest
	if err := codec.Decode(deliver.Message.Body, &req); err != nil {
		if debug {
			log.Printf("stream: decode upload request: %v", err)
		}
		return
	}

	registered, err := s.isRegistered(req.Actor)
	if err != nil {
		if debug {
			log.Printf("stream: check registration: %v", err)
		}
		return
	}
	if !registered {
		if debug {
			log.Printf("stream: upload %s: %v", req.Actor, errs.ErrNotRegistered)
		}
		return
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.defaultChunkSize
	}
	totalChunks := token.TotalChunks(req.TotalBytes, chunkSize)

	chunkSubject := token.SubjectStreamUploadPrefix + req.Actor
	chunkDeliveries, err := client.Subscribe(chunkSubject)
	if err != nil {
		if debug {
			log.Printf("stream: subscribe upload chunks for %s: %v", req.Actor, err)
		}
		return
	}

	session, err := s.blobs.StartUpload(blob.Blob{
		ID:        req.Actor + ".wasm",
		Container: blobContainer,
		ByteSize:  req.TotalBytes,
	}, chunkSize)
	if err != nil {
		if debug {
			log.Printf("stream: start upload: %v", err)
		}
		return
	}

	ack := token.TransferAck{
		Success:     true,
		Actor:       req.Actor,
		TotalBytes:  req.TotalBytes,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
	}
	if err := s.publish(client, deliver.Message.ReplyTo, &ack); err != nil {
		if debug {
			log.Printf("stream: publish upload ack: %v", err)
		}
		return
	}

	go s.pumpUpload(client, chunkDeliveries, session, totalChunks, debug)
}

// pumpUpload accepts up to totalChunks incoming FileChunks, writing each to
// its sequence-implied offset and acking it individually on its own
// reply_to, matching the original's per-chunk ack design.
func (s *Service) pumpUpload(client *brokerclient.Client, deliveries <-chan *token.DeliverMessage, session *blob.UploadSession, totalChunks uint64, debug bool) {
	for received := uint64(0); received < totalChunks; received++ {
		deliver := <-deliveries
		if deliver == nil || deliver.Message == nil {
			continue
		}

		var chunk token.FileChunk
		if err := codec.Decode(deliver.Message.Body, &chunk); err != nil {
			if debug {
				log.Printf("stream: decode upload chunk: %v", err)
			}
			continue
		}

		if err := s.blobs.UploadChunk(session, chunk.SequenceNo, chunk.ChunkBytes); err != nil {
			if debug {
				log.Printf("stream: write chunk %d: %v", chunk.SequenceNo, err)
			}
			continue
		}

		ack := token.ChunkAck{
			Success:    true,
			SequenceNo: chunk.SequenceNo,
			BytesSent:  uint64(len(chunk.ChunkBytes)),
		}
		if err := s.publish(client, deliver.Message.ReplyTo, &ack); err != nil && debug {
			log.Printf("stream: publish chunk ack %d: %v", chunk.SequenceNo, err)
		}
	}
}

// replyFailedAck tells the caller their actor has no blob on file, rather
// than leaving them to time out against a request that will never be
// answered. A missing registration, unlike a missing blob, is silent: the
// caller is expected to detect that failure by timeout.
func (s *Service) replyFailedAck(client *brokerclient.Client, replyTo, actor string, debug bool) {
	if replyTo == "" {
		return
	}
	ack := token.TransferAck{Success: false, Actor: actor}
	if err := s.publish(client, replyTo, &ack); err != nil && debug {
		log.Printf("stream: publish failed ack for %s: %v", actor, err)
	}
}

func (s *Service) publish(client *brokerclient.Client, subject string, v interface{}) error {
	if subject == "" {
		return fmt.Errorf("stream: empty publish subject")
	}
	body, err := codec.Encode(v)
	if err != nil {
		return fmt.Errorf("stream: encode: %w", err)
	}
	return client.Publish(subject, &token.DeliverMessage{Message: &token.BrokerMessage{Subject: subject, Body: body}})
}
