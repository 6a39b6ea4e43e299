package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// CreativeArchive snapshots scraped ad creatives into durable storage so a
// recipe pipeline survives the competitor taking the ad down.
type CreativeArchive interface {
	// SnapshotCreative copies the creative at imageURL into the archive and
	// returns a durable public URL for it. Idempotent per ad archive id.
	SnapshotCreative(ctx context.Context, adArchiveID, imageURL string) (string, error)
}

// Config holds configuration for S3-compatible archive storage
// (AWS S3, Cloudflare R2, MinIO).
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
	PublicURL string // public URL prefix for R2.dev or custom CDN
}

// S3Archive implements CreativeArchive for S3-compatible services.
type S3Archive struct {
	client    *s3.Client
	fetch     *http.Client
	bucket    string
	publicURL string
}

// NewS3Archive creates a new S3-compatible archive client.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
// Returns:
//   - *S3Archive: initialized archive client.
//   - error: non-nil if the AWS config cannot be built.
func NewS3Archive(cfg *Config) (*S3Archive, error) {
	endpoint := normalizeEndpoint(cfg.Endpoint)

	region := cfg.Region
	if region == "" {
		if strings.Contains(endpoint, "r2.cloudflarestorage.com") {
			region = "auto"
		} else {
			region = "us-east-1"
		}
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpointURL := fmt.Sprintf("%s://%s", scheme, endpoint)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
		// Path-style for S3-compatible services
		o.UsePathStyle = true
	})

	return &S3Archive{
		client:    client,
		fetch:     &http.Client{Timeout: 30 * time.Second},
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

// normalizeEndpoint removes protocol prefix and path from endpoint
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}
	return strings.TrimSuffix(endpoint, "/")
}

// EnsureBucket creates the bucket if it doesn't exist. R2 buckets cannot be
// created via API and must exist already.
func (a *S3Archive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// SnapshotCreative copies the creative image into the archive keyed by ad
// archive id and returns its durable URL. A creative already archived for
// that ad is not fetched again.
func (a *S3Archive) SnapshotCreative(ctx context.Context, adArchiveID, imageURL string) (string, error) {
	key := "creatives/" + adArchiveID

	exists, err := a.exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return a.objectURL(key), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build creative fetch request: %w", err)
	}
	resp, err := a.fetch.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch creative %s: %w", imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("creative fetch returned HTTP %d for %s", resp.StatusCode, imageURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read creative body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive creative: %w", err)
	}

	return a.objectURL(key), nil
}

func (a *S3Archive) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

func (a *S3Archive) objectURL(key string) string {
	return fmt.Sprintf("%s/%s", a.publicURL, key)
}
