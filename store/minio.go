package store

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
)

// MinIOStore keeps one snapshot object and one NDJSON audit object per
// conversation in a single bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore creates a store over an existing MinIO client.
func NewMinIOStore(client *minio.Client, bucket string) *MinIOStore {
	return &MinIOStore{
		client: client,
		bucket: bucket,
	}
}

func (s *MinIOStore) snapshotName(conversationID string) string {
	return fmt.Sprintf("%s/state.json", conversationID)
}

func (s *MinIOStore) auditName(conversationID string) string {
	return fmt.Sprintf("%s/audit.log", conversationID)
}

// GetSnapshot reads the conversation snapshot. A missing snapshot is
// (nil, "", nil), not an error.
func (s *MinIOStore) GetSnapshot(ctx context.Context, conversationID string) ([]byte, string, error) {
	objectName := s.snapshotName(conversationID)

	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", &StorageError{Op: "get", Key: objectName, Err: err}
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, "", nil
		}
		return nil, "", &StorageError{Op: "get", Key: objectName, Err: err}
	}

	info, err := obj.Stat()
	if err != nil {
		return nil, "", &StorageError{Op: "stat", Key: objectName, Err: err}
	}

	return content, info.ETag, nil
}

// PutSnapshot writes the snapshot after checking the stored ETag against
// expectedETag ("" = must not exist). The stat-then-put window is not
// atomic; the residual race is accepted and documented on the repository.
func (s *MinIOStore) PutSnapshot(ctx context.Context, conversationID string, data []byte, expectedETag string) error {
	objectName := s.snapshotName(conversationID)

	info, err := s.client.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code != "NoSuchKey" {
			return &StorageError{Op: "stat", Key: objectName, Err: err}
		}
		if expectedETag != "" {
			return &StorageError{Op: "put", Key: objectName, Conflict: true}
		}
	} else if info.ETag != expectedETag {
		return &StorageError{Op: "put", Key: objectName, Conflict: true}
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return &StorageError{Op: "put", Key: objectName, Err: err}
	}
	return nil
}

// AppendEvent appends one NDJSON line to the conversation's audit log.
func (s *MinIOStore) AppendEvent(ctx context.Context, conversationID string, line []byte) error {
	objectName := s.auditName(conversationID)

	existing, err := s.getContent(ctx, objectName)
	if err != nil {
		return err
	}

	content := append(existing, line...)
	content = append(content, '\n')

	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/x-ndjson"})
	if err != nil {
		return &StorageError{Op: "append", Key: objectName, Err: err}
	}

	log.Printf("[STORE] Appended audit event to %s (%d bytes total)", objectName, len(content))
	return nil
}

// ReadEvents returns every audit line for the conversation, oldest first.
func (s *MinIOStore) ReadEvents(ctx context.Context, conversationID string) ([][]byte, error) {
	content, err := s.getContent(ctx, s.auditName(conversationID))
	if err != nil {
		return nil, err
	}

	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, &StorageError{Op: "read", Key: s.auditName(conversationID), Err: err}
	}
	return lines, nil
}

// Ping verifies the bucket is reachable.
func (s *MinIOStore) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return &StorageError{Op: "ping", Key: s.bucket, Err: err}
	}
	if !ok {
		return &StorageError{Op: "ping", Key: s.bucket, Err: fmt.Errorf("bucket does not exist")}
	}
	return nil
}

func (s *MinIOStore) getContent(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, &StorageError{Op: "get", Key: objectName, Err: err}
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return []byte{}, nil
		}
		return nil, &StorageError{Op: "get", Key: objectName, Err: err}
	}
	return content, nil
}
