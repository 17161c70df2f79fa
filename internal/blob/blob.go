// Package blob stores raw document bytes in an object store.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
)

// ErrNotFound is returned when no object exists at the requested location.
var ErrNotFound = errors.New("object not found")

// Store is the object-store capability the lifecycle manager depends on.
// Put returns a location reference that Get accepts.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
	Ping(ctx context.Context) error
}

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// Encrypt requests SSE-S3 on every object. The server must have a KMS configured.
	Encrypt bool
}

// MinioStore implements Store on top of an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	sse    encrypt.ServerSide
}

// NewMinioStore connects and creates the bucket if it does not exist.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	s := &MinioStore{client: cli, bucket: cfg.Bucket}
	if cfg.Encrypt {
		s.sse = encrypt.NewSSE()
	}
	return s, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:          contentType,
		UserMetadata:         meta,
		ServerSideEncryption: s.sse,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

func (s *MinioStore) Get(ctx context.Context, location string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, location, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (s *MinioStore) Delete(ctx context.Context, location string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, location, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("ping object store: %w", err)
	}
	return nil
}

// MemoryStore keeps objects in a map.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	meta        map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memoryObject{}}
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string, meta map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: bytes.Clone(data), contentType: contentType, meta: maps.Clone(meta)}
	return key, nil
}

func (m *MemoryStore) Get(_ context.Context, location string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[location]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(o.data), nil
}

func (m *MemoryStore) Delete(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, location)
	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Metadata returns the user metadata stored with an object.
func (m *MemoryStore) Metadata(location string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[location]
	return maps.Clone(o.meta), ok
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

var (
	_ Store = (*MinioStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
