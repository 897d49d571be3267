// Package blob defines the blob capability the stream service transfers
// module bytes through: upload/download sessions keyed by container+id, with
// chunked reads and writes.
package blob

// BlobInfo describes a stored blob without its bytes.
type BlobInfo struct {
	Container string
	ID        string
	ByteSize  uint64
}

// Blob names a blob about to be created by an upload.
type Blob struct {
	ID        string
	Container string
	ByteSize  uint64
}

// UploadSession tracks an in-progress upload so chunks can be written at the
// right offset regardless of arrival order.
type UploadSession struct {
	Blob      Blob
	ChunkSize uint64
}

// DownloadSession tracks an in-progress download's chunk boundaries.
type DownloadSession struct {
	Info      *BlobInfo
	ChunkSize uint64
}

// Store is the blob capability.
type Store interface {
	// GetBlobInfo returns nil, nil if the blob does not exist.
	GetBlobInfo(container, id string) (*BlobInfo, error)

	StartUpload(blob Blob, chunkSize uint64) (*UploadSession, error)

	// UploadChunk writes one chunk of an in-progress upload at its
	// sequence-implied offset.
	UploadChunk(session *UploadSession, seq uint64, data []byte) error

	StartDownload(info *BlobInfo, chunkSize uint64) (*DownloadSession, error)

	// ReadChunk returns the bytes for chunk seq of a download session.
	ReadChunk(session *DownloadSession, seq uint64) ([]byte, error)
}
