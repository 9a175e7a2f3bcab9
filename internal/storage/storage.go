package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"formflow/internal/errorz"
)

const (
	OpPut = "put"
	OpGet = "get"
)

// Storage defines the interface for question media backends
type Storage interface {
	PresignPut(ctx context.Context, key, contentType string, expiresIn time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, expiresIn time.Duration) (string, error)
	Put(ctx context.Context, key, contentType string, reader io.Reader) (MediaObject, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// LocalStorage implements Storage on the local filesystem. Presigned URLs
// point back at this service and carry an HMAC over op, key and expiry.
type LocalStorage struct {
	baseDir string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewLocalStorage creates a new local filesystem storage backend
func NewLocalStorage(baseDir, baseURL, secret string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{
		baseDir: baseDir,
		baseURL: baseURL,
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

func (s *LocalStorage) PresignPut(ctx context.Context, key, contentType string, expiresIn time.Duration) (string, error) {
	return s.presign(OpPut, key, expiresIn)
}

func (s *LocalStorage) PresignGet(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	return s.presign(OpGet, key, expiresIn)
}

func (s *LocalStorage) presign(op, key string, expiresIn time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	expires := s.now().Add(expiresIn).Unix()
	q := url.Values{}
	q.Set("op", op)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(op, key, expires))
	return fmt.Sprintf("%s/v1/media/files/%s?%s", s.baseURL, key, q.Encode()), nil
}

// Verify checks a presigned URL's query parameters for op on key
func (s *LocalStorage) Verify(op, key string, query url.Values) error {
	if query.Get("op") != op {
		return fmt.Errorf("%w: url not signed for %s", errorz.ErrForbidden, op)
	}
	expires, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad expiry", errorz.ErrForbidden)
	}
	if s.now().Unix() > expires {
		return fmt.Errorf("%w: url expired", errorz.ErrForbidden)
	}
	want := s.sign(op, key, expires)
	if !hmac.Equal([]byte(want), []byte(query.Get("sig"))) {
		return fmt.Errorf("%w: bad signature", errorz.ErrForbidden)
	}
	return nil
}

func (s *LocalStorage) sign(op, key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", op, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *LocalStorage) Put(ctx context.Context, key, contentType string, reader io.Reader) (MediaObject, error) {
	if err := ValidateKey(key); err != nil {
		return MediaObject{}, err
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return MediaObject{}, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return MediaObject{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(file, hash), reader)
	if err != nil {
		return MediaObject{}, fmt.Errorf("failed to write file: %w", err)
	}

	return MediaObject{
		Key:    key,
		Size:   size,
		MIME:   contentType,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", key, errorz.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("object %s: %w", key, errorz.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
