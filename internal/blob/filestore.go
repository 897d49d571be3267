package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gantryio/gantry/internal/errs"
)

// FileStore lays blobs out as one file per container/id under a root
// directory, written and read at chunk-size-aligned offsets so chunks can
// arrive in any order.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir, creating dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &errs.StorageError{Op: "mkdir", Err: err}
	}
	return &FileStore{root: dir}, nil
}

func (fs *FileStore) path(container, id string) string {
	return filepath.Join(fs.root, container, id)
}

func (fs *FileStore) GetBlobInfo(container, id string) (*BlobInfo, error) {
	info, err := os.Stat(fs.path(container, id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.StorageError{Op: "stat", Err: err}
	}
	return &BlobInfo{Container: container, ID: id, ByteSize: uint64(info.Size())}, nil
}

func (fs *FileStore) StartUpload(blob Blob, chunkSize uint64) (*UploadSession, error) {
	dir := filepath.Join(fs.root, blob.Container)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &errs.StorageError{Op: "mkdir", Err: err}
	}

	f, err := os.OpenFile(fs.path(blob.Container, blob.ID), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &errs.StorageError{Op: "create", Err: err}
	}
	// Pre-size the file so out-of-order chunk writes never need to extend
	// it mid-transfer.
	if err := f.Truncate(int64(blob.ByteSize)); err != nil {
		f.Close()
		return nil, &errs.StorageError{Op: "truncate", Err: err}
	}
	f.Close()

	return &UploadSession{Blob: blob, ChunkSize: chunkSize}, nil
}

func (fs *FileStore) UploadChunk(session *UploadSession, seq uint64, data []byte) error {
	f, err := os.OpenFile(fs.path(session.Blob.Container, session.Blob.ID), os.O_WRONLY, 0644)
	if err != nil {
		return &errs.StorageError{Op: "open", Err: err}
	}
	defer f.Close()

	offset := int64(seq * session.ChunkSize)
	if _, err := f.WriteAt(data, offset); err != nil {
		return &errs.StorageError{Op: "write_at", Err: err}
	}
	return nil
}

func (fs *FileStore) StartDownload(info *BlobInfo, chunkSize uint64) (*DownloadSession, error) {
	if info == nil {
		return nil, fmt.Errorf("blob: start download: %w", errs.ErrNotFound)
	}
	return &DownloadSession{Info: info, ChunkSize: chunkSize}, nil
}

func (fs *FileStore) ReadChunk(session *DownloadSession, seq uint64) ([]byte, error) {
	f, err := os.Open(fs.path(session.Info.Container, session.Info.ID))
	if err != nil {
		return nil, &errs.StorageError{Op: "open", Err: err}
	}
	defer f.Close()

	offset := int64(seq * session.ChunkSize)
	remaining := session.Info.ByteSize - seq*session.ChunkSize
	size := session.ChunkSize
	if remaining < size {
		size = remaining
	}

	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, &errs.StorageError{Op: "read_at", Err: err}
	}
	return buf, nil
}
