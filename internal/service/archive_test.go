package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinav/clinav/internal/config"
)

type fakeStore struct {
	mu       sync.Mutex
	exists   bool
	made     int
	failPuts int
	puts     []string
}

func (f *fakeStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeStore) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.made++
	f.exists = true
	return nil
}

func (f *fakeStore) FPutObject(ctx context.Context, bucket, object, path string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPuts > 0 {
		f.failPuts--
		return minio.UploadInfo{}, errors.New("connection reset")
	}
	f.puts = append(f.puts, bucket+"/"+object)
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func transcriptFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "asr-1_20261018_093000.000.log")
	require.NoError(t, os.WriteFile(path, []byte("login: admin\r\n"), 0644))
	return path
}

func TestTranscriptArchiver_Archive(t *testing.T) {
	store := &fakeStore{failPuts: 1}
	a := newTranscriptArchiver(store, config.MinioConfig{Bucket: "clinav", Prefix: "/transcripts/", RemoveLocal: true})
	a.backoff = []time.Duration{time.Millisecond}
	path := transcriptFile(t)

	uri, err := a.Archive(context.Background(), "asr-1", path)
	require.NoError(t, err)
	assert.Equal(t, "minio://clinav/transcripts/asr-1/asr-1_20261018_093000.000.log", uri)
	assert.Equal(t, 1, store.made)
	assert.Equal(t, []string{"clinav/transcripts/asr-1/asr-1_20261018_093000.000.log"}, store.puts)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "上传成功后删除本地文件")

	_, err = a.Archive(context.Background(), "asr-1", transcriptFile(t))
	require.NoError(t, err)
	assert.Equal(t, 1, store.made, "bucket 只校验一次")
}

func TestTranscriptArchiver_RetriesExhausted(t *testing.T) {
	store := &fakeStore{exists: true, failPuts: 5}
	a := newTranscriptArchiver(store, config.MinioConfig{Bucket: "clinav"})
	a.backoff = []time.Duration{time.Millisecond, time.Millisecond}
	path := transcriptFile(t)

	_, err := a.Archive(context.Background(), "asr-1", path)
	assert.ErrorContains(t, err, "after retries")
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "失败时保留本地文件")
}

func TestTranscriptArchiver_OnClose(t *testing.T) {
	store := &fakeStore{exists: true}
	a := newTranscriptArchiver(store, config.MinioConfig{Bucket: "clinav"})
	a.OnClose("sw1", transcriptFile(t))
	a.Wait()
	assert.Equal(t, []string{"clinav/sw1/asr-1_20261018_093000.000.log"}, store.puts)
}

func TestNewTranscriptArchiver_Incomplete(t *testing.T) {
	_, err := NewTranscriptArchiver(config.MinioConfig{Bucket: "clinav"})
	assert.Error(t, err)
}
