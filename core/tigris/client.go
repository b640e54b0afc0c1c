package tigris

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/jasonchiu/cloudhelper/core/config"
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("object precondition failed")
)

// API is the subset of the S3 client the object helpers use.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Client struct {
	s3     API
	bucket string
}

func NewFromConfig(cfg config.S3) (*Client, error) {
	accessKey := strings.TrimSpace(os.Getenv("TIGRIS_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("TIGRIS_SECRET_KEY"))
	if accessKey == "" || secretKey == "" {
		return nil, errors.New("missing Tigris credentials (set TIGRIS_ACCESS_KEY and TIGRIS_SECRET_KEY)")
	}

	endpoint := strings.TrimSpace(os.Getenv("TIGRIS_ENDPOINT"))
	if endpoint == "" {
		endpoint = strings.TrimSpace(cfg.Endpoint)
	}
	if endpoint == "" {
		return nil, errors.New("missing Tigris endpoint (set TIGRIS_ENDPOINT or s3 endpoint)")
	}
	region := strings.TrimSpace(os.Getenv("TIGRIS_REGION"))
	if region == "" {
		region = strings.TrimSpace(cfg.Region)
	}
	if region == "" {
		region = "auto"
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 bucket is required")
	}

	awsCfg := aws.Config{
		Region: region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(endpoint)
	})
	return New(client, cfg.Bucket), nil
}

// New wraps an existing S3 API client.
func New(api API, bucket string) *Client {
	return &Client{s3: api, bucket: bucket}
}

func (c *Client) GetJSON(ctx context.Context, key string, dst any) error {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrObjectNotFound
		}
		return err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// PutJSON writes v under key. With ifAbsent the write fails with
// ErrPreconditionFailed when the key already exists.
func (c *Client) PutJSON(ctx context.Context, key string, v any, ifAbsent bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	in := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if ifAbsent {
		in.IfNoneMatch = aws.String("*")
	}
	if _, err := c.s3.PutObject(ctx, in); err != nil {
		if isPreconditionFailed(err) {
			return ErrPreconditionFailed
		}
		return err
	}
	return nil
}

// PutMarker writes an empty object, used for index entries.
func (c *Client) PutMarker(ctx context.Context, key string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	return err
}

func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return err
}

// KeyPage is one ListObjectsV2 page. NextToken is empty on the last page.
type KeyPage struct {
	Keys      []string
	NextToken string
}

// ListPage lists at most maxKeys keys under prefix, resuming from token.
func (c *Client) ListPage(ctx context.Context, prefix, token string, maxKeys int) (KeyPage, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if maxKeys > 0 {
		in.MaxKeys = aws.Int32(int32(maxKeys))
	}
	if token != "" {
		in.ContinuationToken = aws.String(token)
	}
	out, err := c.s3.ListObjectsV2(ctx, in)
	if err != nil {
		return KeyPage{}, err
	}
	page := KeyPage{Keys: make([]string, 0, len(out.Contents))}
	for _, item := range out.Contents {
		if item.Key == nil {
			continue
		}
		page.Keys = append(page.Keys, *item.Key)
	}
	if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
		page.NextToken = *out.NextContinuationToken
	}
	return page, nil
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := strings.TrimSpace(apiErr.ErrorCode())
		return code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket"
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := strings.TrimSpace(apiErr.ErrorCode())
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}
