package tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// maxTileBytes bounds a single tile payload
const maxTileBytes = 4 << 20

// Fetcher retrieves tile bytes from an origin
type Fetcher interface {
	Fetch(ctx context.Context, c Coordinate) ([]byte, error)
	// Name labels the origin in metrics and logs
	Name() string
}

// ExpandTemplate substitutes {z}, {x} and {y}
func ExpandTemplate(template string, c Coordinate) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(c.Zoom),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
	).Replace(template)
}

// HTTPFetcher downloads tiles from a URL template such as
// https://tile.example.org/{z}/{x}/{y}.png
type HTTPFetcher struct {
	template  string
	userAgent string
	client    *http.Client
}

// NewHTTPFetcher creates a fetcher with its own client
func NewHTTPFetcher(template, userAgent string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		template:  template,
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Name() string { return "http" }

// Fetch downloads one tile
func (f *HTTPFetcher) Fetch(ctx context.Context, c Coordinate) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ExpandTemplate(f.template, c), nil)
	if err != nil {
		return nil, NewError("download").Tile(c).Cause(err).Err()
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, NewError("download").Tile(c).Cause(err).Err()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewError("download").Tile(c).Cause(ErrTileNotFound).Err()
	case resp.StatusCode != http.StatusOK:
		return nil, NewError("download").Tile(c).
			Context(fmt.Sprintf("status %d", resp.StatusCode)).
			Cause(ErrUpstreamStatus).Err()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, NewError("download").Tile(c).Cause(err).Err()
	}
	if len(data) == 0 {
		return nil, NewError("download").Tile(c).Cause(ErrEmptyTile).Err()
	}
	return data, nil
}

// S3GetObjectAPI is the part of the S3 client the fetcher uses
type S3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads pre-rendered tiles from a bucket
type S3Fetcher struct {
	client      S3GetObjectAPI
	bucket      string
	keyTemplate string
}

// NewS3Fetcher wraps an existing client
func NewS3Fetcher(client S3GetObjectAPI, bucket, keyTemplate string) *S3Fetcher {
	if keyTemplate == "" {
		keyTemplate = "{z}/{x}/{y}.png"
	}
	return &S3Fetcher{client: client, bucket: bucket, keyTemplate: keyTemplate}
}

// NewS3FetcherFromEnv builds a client from the default AWS credential chain
func NewS3FetcherFromEnv(ctx context.Context, bucket, keyTemplate string) (*S3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3Fetcher(s3.NewFromConfig(cfg), bucket, keyTemplate), nil
}

func (f *S3Fetcher) Name() string { return "s3" }

// Fetch reads one tile object
func (f *S3Fetcher) Fetch(ctx context.Context, c Coordinate) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(ExpandTemplate(f.keyTemplate, c)),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, NewError("download").Tile(c).Context("s3").Cause(ErrTileNotFound).Err()
		}
		return nil, NewError("download").Tile(c).Context("s3").Cause(err).Err()
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxTileBytes))
	if err != nil {
		return nil, NewError("download").Tile(c).Context("s3").Cause(err).Err()
	}
	if len(data) == 0 {
		return nil, NewError("download").Tile(c).Context("s3").Cause(ErrEmptyTile).Err()
	}
	return data, nil
}
