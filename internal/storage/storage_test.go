package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sampleapp/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryObjects struct {
	objects      map[string][]byte
	contentTypes map[string]string
}

func (m *memoryObjects) EnsureBucket(context.Context) error { return nil }

func (m *memoryObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return io.ErrShortWrite
	}
	m.objects[key] = data
	m.contentTypes[key] = contentType
	return nil
}

func (m *memoryObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryObjects) Bucket() string { return "exports" }

func TestStoragePutBytesAndGet(t *testing.T) {
	backend := &memoryObjects{objects: map[string][]byte{}, contentTypes: map[string]string{}}
	s := NewStorage(backend)

	require.NoError(t, s.PutBytes(context.Background(), "exports/users.csv", []byte("id,email\n"), "text/csv"))
	assert.Equal(t, "text/csv", backend.contentTypes["exports/users.csv"])

	rc, err := s.Get(context.Background(), "exports/users.csv")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "id,email\n", string(data))

	_, err = s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrObjectNotFound)
	assert.Equal(t, "exports", s.Bucket())
}

func TestOpenDisabled(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestOpenValidatesConfig(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "ftp"})
	require.Error(t, err)

	_, err = Open(context.Background(), config.StorageConfig{Backend: "minio"})
	require.Error(t, err)

	_, err = Open(context.Background(), config.StorageConfig{Backend: "s3"})
	require.Error(t, err)

	_, err = Open(context.Background(), config.StorageConfig{Backend: "gcs"})
	require.Error(t, err)
}
