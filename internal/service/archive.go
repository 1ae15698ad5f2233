package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/clinav/clinav/internal/config"
	"github.com/clinav/clinav/pkg/logger"
)

// objectStore 归档用到的对象存储能力，*minio.Client 实现了它
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// TranscriptArchiver 会话记录文件关闭后上传到 MinIO
type TranscriptArchiver struct {
	store       objectStore
	bucket      string
	prefix      string
	removeLocal bool
	timeout     time.Duration
	backoff     []time.Duration

	mu            sync.Mutex
	bucketEnsured bool
	wg            sync.WaitGroup
}

// NewTranscriptArchiver 根据配置创建 MinIO 客户端
func NewTranscriptArchiver(cfg config.MinioConfig) (*TranscriptArchiver, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("minio configuration incomplete; host/port missing")
	}
	endpoint := fmt.Sprintf("%s:%d", host, cfg.Port)

	// 自定义传输以提升连接与响应的鲁棒性
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   16,
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client initialization failed: %w", err)
	}
	return newTranscriptArchiver(client, cfg), nil
}

func newTranscriptArchiver(store objectStore, cfg config.MinioConfig) *TranscriptArchiver {
	return &TranscriptArchiver{
		store:       store,
		bucket:      strings.TrimSpace(cfg.Bucket),
		prefix:      strings.Trim(cfg.Prefix, "/"),
		removeLocal: cfg.RemoveLocal,
		timeout:     2 * time.Minute,
		backoff:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

// ObjectName 会话记录在桶中的路径：{prefix}/{device}/{file}
func (a *TranscriptArchiver) ObjectName(device, localPath string) string {
	parts := []string{}
	if a.prefix != "" {
		parts = append(parts, a.prefix)
	}
	parts = append(parts, device, filepath.Base(localPath))
	return path.Join(parts...)
}

// Archive 上传一个记录文件，返回 minio:// 形式的地址
func (a *TranscriptArchiver) Archive(ctx context.Context, device, localPath string) (string, error) {
	if a.bucket == "" {
		return "", fmt.Errorf("minio bucket not configured")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("minio ensure bucket failed: %w", err)
	}

	object := a.ObjectName(device, localPath)
	opts := minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}

	// 带重试的对象写入（指数退避）
	var lastErr error
	for i := 0; i <= len(a.backoff); i++ {
		if _, err := a.store.FPutObject(ctx, a.bucket, object, localPath, opts); err == nil {
			lastErr = nil
			break
		} else {
			lastErr = err
		}
		if i == len(a.backoff) {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(a.backoff[i]):
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}

	if a.removeLocal {
		if err := os.Remove(localPath); err != nil {
			logger.Warnf("failed to remove archived transcript %s: %v", localPath, err)
		}
	}
	return "minio://" + path.Join(a.bucket, object), nil
}

// OnClose 作为会话记录的关闭回调，后台上传
func (a *TranscriptArchiver) OnClose(device, localPath string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		uri, err := a.Archive(ctx, device, localPath)
		if err != nil {
			logger.WithField("device", device).WithError(err).Warn("transcript archive failed")
			return
		}
		logger.WithField("device", device).WithField("uri", uri).Info("transcript archived")
	}()
}

// Wait 等待所有后台上传结束
func (a *TranscriptArchiver) Wait() {
	a.wg.Wait()
}

// ensureBucket 校验并创建 bucket
func (a *TranscriptArchiver) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bucketEnsured {
		return nil
	}
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	a.bucketEnsured = true
	return nil
}
