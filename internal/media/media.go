// Package media rehosts generated images so drafts keep a durable URL after
// the generation service's temporary links expire.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/failsafe-go/failsafe-go"

	"github.com/cyderes/social-autopilot/internal/config"
	"github.com/cyderes/social-autopilot/internal/retry"
)

const maxImageBytes = 20 * 1024 * 1024

// Store copies a source image to durable storage and returns its new URL.
type Store interface {
	Rehost(ctx context.Context, key, sourceURL string) (string, error)
}

// S3Store uploads images to an S3 bucket.
type S3Store struct {
	uploader   s3manageriface.UploaderAPI
	client     *http.Client
	exec       failsafe.Executor[*http.Response]
	bucket     string
	prefix     string
	publicBase string
}

// NewS3Store creates an S3 media store. It returns nil, nil when no bucket is
// configured.
func NewS3Store(cfg config.MediaConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewS3StoreWithUploader(cfg, s3manager.NewUploader(sess)), nil
}

// NewS3StoreWithUploader creates a store around an existing uploader.
func NewS3StoreWithUploader(cfg config.MediaConfig, uploader s3manageriface.UploaderAPI) *S3Store {
	return &S3Store{
		uploader:   uploader,
		client:     &http.Client{Timeout: 60 * time.Second},
		exec:       retry.NewHTTPExecutor(retry.DefaultTransportConfig()),
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

// Rehost implements Store.
func (s *S3Store) Rehost(ctx context.Context, key, sourceURL string) (string, error) {
	data, contentType, err := s.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	objectKey := path.Join(s.prefix, key+extension(contentType))
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(objectKey),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", objectKey, err)
	}

	if s.publicBase != "" {
		return s.publicBase + "/" + objectKey, nil
	}
	return out.Location, nil
}

func (s *S3Store) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	if strings.HasPrefix(sourceURL, "data:") {
		return decodeDataURL(sourceURL)
	}

	resp, err := retry.DoHTTP(ctx, s.exec, s.client, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	})
	if err != nil {
		return nil, "", fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("downloading image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func decodeDataURL(u string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(u, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", fmt.Errorf("unsupported data URL")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding data URL: %w", err)
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func extension(contentType string) string {
	switch strings.SplitN(contentType, ";", 2)[0] {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	return ""
}
