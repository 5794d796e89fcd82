package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exot-sync/internal/config"
	"github.com/stemsi/exot-sync/internal/model"
)

// Sentinel errors for media uploads.
var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
)

// Allowed question material, keyed by lower-case extension.
var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".txt":  "text/plain",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

var unsafeCategory = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// FileStore puts bytes somewhere publicly reachable.
type FileStore interface {
	// Put stores r under key ("<category>/<name>") and returns its public URL.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// MediaService validates uploads and partitions them by category.
type MediaService struct {
	store    FileStore
	maxBytes int64
	log      zerolog.Logger
}

// NewMediaService creates a new MediaService.
func NewMediaService(store FileStore, maxBytes int64, log zerolog.Logger) *MediaService {
	return &MediaService{
		store:    store,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "media_service").Logger(),
	}
}

// SaveUpload stores one uploaded file under its category with a UUID name.
func (s *MediaService) SaveUpload(ctx context.Context, category string, file multipart.File, header *multipart.FileHeader) (*model.UploadResult, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}
	if s.maxBytes > 0 && header.Size > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrFileTooLarge, header.Size, s.maxBytes)
	}

	key := path.Join(CleanCategory(category), uuid.New().String()+ext)
	url, err := s.store.Put(ctx, key, file, header.Size, contentType)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}

	s.log.Info().Str("key", key).Int64("size", header.Size).Msg("File stored")
	return &model.UploadResult{URL: url, OriginalName: header.Filename}, nil
}

// CleanCategory turns a client-supplied category into a safe path segment.
func CleanCategory(category string) string {
	c := unsafeCategory.ReplaceAllString(strings.TrimSpace(category), "_")
	if c == "" || strings.Trim(c, "_") == "" {
		return "unknown"
	}
	return c
}

// NewFileStore builds the store selected by FILE_STORE.
func NewFileStore(ctx context.Context, cfg *config.Config) (FileStore, error) {
	if cfg.FileStore == "s3" {
		return NewS3FileStore(ctx, cfg.S3)
	}
	return NewLocalFileStore(cfg.UploadDir, "/uploads"), nil
}

// ─── Local disk ────────────────────────────────────────────────────────────

// LocalFileStore writes under a directory served by the router.
type LocalFileStore struct {
	dir       string
	urlPrefix string
}

// NewLocalFileStore creates a new LocalFileStore.
func NewLocalFileStore(dir, urlPrefix string) *LocalFileStore {
	return &LocalFileStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}
}

func (s *LocalFileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	destPath := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return s.urlPrefix + "/" + key, nil
}

// ─── S3 ────────────────────────────────────────────────────────────────────

// S3FileStore writes to an S3-compatible bucket.
type S3FileStore struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

// NewS3FileStore creates a new S3FileStore. A custom endpoint switches to
// path-style addressing for MinIO and similar services.
func NewS3FileStore(ctx context.Context, cfg config.S3Config) (*S3FileStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3_BUCKET is not set")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		if cfg.Endpoint != "" {
			base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return &S3FileStore{client: client, bucket: cfg.Bucket, publicBaseURL: base}, nil
}

func (s *S3FileStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return s.publicBaseURL + "/" + key, nil
}
