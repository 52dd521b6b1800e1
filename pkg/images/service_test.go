package images

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *memoryBlobStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = data
	return nil
}

func (s *memoryBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *memoryBlobStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

type recordingRequester struct {
	requests []DerivativeRequest
}

func (r *recordingRequester) Request(ctx context.Context, req DerivativeRequest) error {
	r.requests = append(r.requests, req)
	return nil
}

func TestUpload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	blobs := newMemoryBlobStore()
	requester := &recordingRequester{}
	service := NewService(db, blobs, requester, nil, nil)

	mock.ExpectQuery("SELECT 1 FROM items").
		WithArgs(int64(7), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	// Original row, then one row per acknowledged derivative
	assetRows := func(id int64) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "created_at"}).AddRow(id, time.Now())
	}
	mock.ExpectQuery("INSERT INTO image_assets").WillReturnRows(assetRows(1))
	mock.ExpectQuery("INSERT INTO image_assets").WillReturnRows(assetRows(2))
	mock.ExpectQuery("INSERT INTO image_assets").WillReturnRows(assetRows(3))

	asset, err := service.Upload(context.Background(), 42, 7, bytes.NewReader(gifBytes(2<<20)))
	require.NoError(t, err)
	assert.Equal(t, VariantOriginal, asset.Variant)
	assert.Equal(t, "image/gif", asset.ContentType)
	assert.Equal(t, int64(2<<20), asset.SizeBytes)
	assert.NotEmpty(t, asset.Checksum)

	// Original stored verbatim; resizing is the requester's job
	assert.Equal(t, 1, blobs.len())
	require.Len(t, requester.requests, 2)
	assert.Equal(t, asset.StorageKey, requester.requests[0].SourceKey)
	assert.Equal(t, MaxDimension, requester.requests[0].MaxDimension)
	assert.Equal(t, ThumbDimension, requester.requests[1].MaxDimension)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRejectsOversizedBeforeAnyWork(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	blobs := newMemoryBlobStore()
	requester := &recordingRequester{}
	service := NewService(db, blobs, requester, nil, nil)

	mock.ExpectQuery("SELECT 1 FROM items").
		WithArgs(int64(7), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err = service.Upload(context.Background(), 42, 7, bytes.NewReader(jpegBytes(12<<20)))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	// Nothing was stored and no derivative was requested
	assert.Equal(t, 0, blobs.len())
	assert.Empty(t, requester.requests)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUploadRejectsUnownedItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, newMemoryBlobStore(), &recordingRequester{}, nil, nil)

	mock.ExpectQuery("SELECT 1 FROM items").
		WithArgs(int64(7), int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	_, err = service.Upload(context.Background(), 99, 7, bytes.NewReader(gifBytes(64)))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAsset(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	blobs := newMemoryBlobStore()
	require.NoError(t, blobs.Put(context.Background(), "items/7/x/original.gif", bytes.NewReader(gifBytes(64)), "image/gif"))
	service := NewService(db, blobs, &recordingRequester{}, nil, nil)

	mock.ExpectQuery("SELECT a.storage_key").
		WithArgs(int64(5), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"storage_key"}).AddRow("items/7/x/original.gif"))
	mock.ExpectExec("DELETE FROM image_assets").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = service.Delete(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, blobs.len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "items/1/a/original.jpg", bytes.NewReader(jpegBytes(128)), "image/jpeg"))

	body, err := store.Get(ctx, "items/1/a/original.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, jpegBytes(128), data)

	require.NoError(t, store.Delete(ctx, "items/1/a/original.jpg"))
	_, err = store.Get(ctx, "items/1/a/original.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemStoreRejectsTraversal(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../escape.jpg", bytes.NewReader(jpegBytes(16)), "image/jpeg")
	assert.Error(t, err)
}
