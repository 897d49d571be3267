package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryio/gantry/internal/blob"
	"github.com/gantryio/gantry/internal/broker"
	"github.com/gantryio/gantry/internal/brokerclient"
	"github.com/gantryio/gantry/internal/codec"
	"github.com/gantryio/gantry/internal/token"
)

func encode(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := codec.Encode(v)
	require.NoError(t, err)
	return b
}

func decode(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, codec.Decode(data, v))
}

// fakeActorLister reports a fixed, immutable set of registered actors.
type fakeActorLister struct {
	actors []string
}

func (f fakeActorLister) ListActors() ([]string, error) {
	return f.actors, nil
}

func newConnectedClient(t *testing.T, addr, agentID string) *brokerclient.Client {
	t.Helper()
	c := brokerclient.New(addr, agentID)
	require.NoError(t, c.Connect())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestUploadThenDownloadRoundTrip(t *testing.T) {
	addr := "127.0.0.1:19281"
	b := broker.NewService(broker.Config{Port: addr})
	go func() { _ = b.Start() }()
	t.Cleanup(func() { _ = b.Stop() })
	time.Sleep(20 * time.Millisecond)

	store, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := New(store, fakeActorLister{actors: []string{"myactor"}}, 0)

	serverClient := newConnectedClient(t, addr, "stream-service")
	done := make(chan struct{})
	go func() { _ = svc.Serve(serverClient, true, done) }()
	t.Cleanup(func() { close(done) })
	time.Sleep(20 * time.Millisecond)

	uploader := newConnectedClient(t, addr, "uploader")
	payload := []byte("this is a pretend wasm module, long enough to span several chunks")
	chunkSize := uint64(10)

	uploadReq := token.UploadRequest{
		Actor:      "myactor",
		TotalBytes: uint64(len(payload)),
		ChunkSize:  chunkSize,
	}
	ackReply, err := uploader.Request(token.SubjectStreamUpload, &token.DeliverMessage{
		Message: &token.BrokerMessage{Body: encode(t, uploadReq)},
	}, 2*time.Second)
	require.NoError(t, err)

	var ack token.TransferAck
	decode(t, ackReply.Message.Body, &ack)
	require.True(t, ack.Success)
	totalChunks := ack.TotalChunks

	chunkSubject := token.SubjectStreamUploadPrefix + "myactor"
	for seq := uint64(0); seq < totalChunks; seq++ {
		start := seq * chunkSize
		end := start + chunkSize
		if end > uint64(len(payload)) {
			end = uint64(len(payload))
		}
		chunk := token.FileChunk{SequenceNo: seq, Actor: "myactor", ChunkBytes: payload[start:end]}
		reply, err := uploader.Request(chunkSubject, &token.DeliverMessage{
			Message: &token.BrokerMessage{Body: encode(t, chunk)},
		}, 2*time.Second)
		require.NoError(t, err)

		var chunkAck token.ChunkAck
		decode(t, reply.Message.Body, &chunkAck)
		assert.True(t, chunkAck.Success)
		assert.Equal(t, seq, chunkAck.SequenceNo)
	}

	// Give the upload pump a moment to settle, then download it back.
	time.Sleep(20 * time.Millisecond)

	downloader := newConnectedClient(t, addr, "downloader")
	downloadSubject := token.SubjectStreamDownloadPrefix + "myactor"
	chunks, err := downloader.Subscribe(downloadSubject)
	require.NoError(t, err)

	downloadAck, err := downloader.Request(token.SubjectStreamDownload, &token.DeliverMessage{
		Message: &token.BrokerMessage{Body: encode(t, token.DownloadRequest{Actor: "myactor"})},
	}, 2*time.Second)
	require.NoError(t, err)

	var dack token.TransferAck
	decode(t, downloadAck.Message.Body, &dack)
	require.True(t, dack.Success)
	assert.Equal(t, uint64(len(payload)), dack.TotalBytes)

	var reassembled []byte
	for seq := uint64(0); seq < dack.TotalChunks; seq++ {
		select {
		case deliver := <-chunks:
			var chunk token.FileChunk
			decode(t, deliver.Message.Body, &chunk)
			reassembled = append(reassembled, chunk.ChunkBytes...)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for download chunk %d", seq)
		}
	}

	assert.Equal(t, payload, reassembled)
}

// TestDownloadRequestForUnregisteredActorTimesOut checks that a download
// request for an unregistered actor gets no reply at all, not a failure ack,
// so the caller detects the failure by timeout.
func TestDownloadRequestForUnregisteredActorTimesOut(t *testing.T) {
	addr := "127.0.0.1:19282"
	b := broker.NewService(broker.Config{Port: addr})
	go func() { _ = b.Start() }()
	t.Cleanup(func() { _ = b.Stop() })
	time.Sleep(20 * time.Millisecond)

	store, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := New(store, fakeActorLister{}, 0)

	serverClient := newConnectedClient(t, addr, "stream-service")
	done := make(chan struct{})
	go func() { _ = svc.Serve(serverClient, false, done) }()
	t.Cleanup(func() { close(done) })
	time.Sleep(20 * time.Millisecond)

	client := newConnectedClient(t, addr, "caller")
	_, err = client.Request(token.SubjectStreamDownload, &token.DeliverMessage{
		Message: &token.BrokerMessage{Body: encode(t, token.DownloadRequest{Actor: "ghost"})},
	}, 200*time.Millisecond)
	require.Error(t, err)
}
