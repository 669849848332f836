package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
)

type S3 struct {
	url url.URL
	// pathStyle is needed by most s3-compatible servers (minio, ceph); see
	// https://aws.amazon.com/blogs/aws/amazon-s3-path-deprecation-plan-the-rest-of-the-story/
	pathStyle       bool
	region          string
	endpoint        string
	accessKeyId     string
	secretAccessKey string
}

type Option func(s *S3)

func WithPathStyle() Option {
	return func(s *S3) {
		s.pathStyle = true
	}
}
func WithRegion(region string) Option {
	return func(s *S3) {
		s.region = region
	}
}
func WithEndpoint(endpoint string) Option {
	return func(s *S3) {
		s.endpoint = endpoint
	}
}
func WithAccessKeyId(accessKeyId string) Option {
	return func(s *S3) {
		s.accessKeyId = accessKeyId
	}
}
func WithSecretAccessKey(secretAccessKey string) Option {
	return func(s *S3) {
		s.secretAccessKey = secretAccessKey
	}
}

func New(u url.URL, opts ...Option) *S3 {
	s := &S3{url: u}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push streams source into the bucket. The uploader only completes the object
// (or the multipart upload) after source returns io.EOF; any read error aborts it.
func (s *S3) Push(ctx context.Context, target string, source io.Reader, logger *log.Entry) (int64, error) {
	bucket, key := s.url.Hostname(), s.key(target)
	client, err := s.client(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load AWS config: %v", err)
	}
	uploader := manager.NewUploader(client)

	cr := &byteCounter{source: source}
	logger.Debugf("uploading to s3://%s/%s", bucket, key)
	if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   cr,
	}); err != nil {
		return cr.n, fmt.Errorf("failed to upload s3://%s/%s: %w", bucket, key, err)
	}
	return cr.n, nil
}

func (s *S3) PushFile(ctx context.Context, target, source string, logger *log.Entry) (int64, error) {
	f, err := os.Open(source)
	if err != nil {
		return 0, fmt.Errorf("failed to read input file %q, %v", source, err)
	}
	defer f.Close()
	return s.Push(ctx, target, f, logger)
}

func (s *S3) Protocol() string {
	return "s3"
}

func (s *S3) URL() string {
	return s.url.String()
}

func (s *S3) key(target string) string {
	return strings.TrimPrefix(path.Join(s.url.Path, target), "/")
}

func (s *S3) client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{}
	if s.region != "" {
		opts = append(opts, config.WithRegion(s.region))
	}
	if s.accessKeyId != "" || s.secretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.accessKeyId, s.secretAccessKey, ""),
		))
	}
	if log.IsLevelEnabled(log.TraceLevel) {
		opts = append(opts, config.WithClientLogMode(aws.LogRequest|aws.LogResponse))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	endpoint := getEndpoint(s.endpoint)
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = s.pathStyle
		// s3-compatible servers commonly reject the newer default checksum trailers
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}), nil
}

func getEndpoint(endpoint string) string {
	// for some reason, the lookup gets flaky when the endpoint is 127.0.0.1
	// so you have to set it to localhost explicitly.
	e := endpoint
	u, err := url.Parse(endpoint)
	if err == nil {
		if u.Hostname() == "127.0.0.1" {
			port := u.Port()
			u.Host = "localhost"
			if port != "" {
				u.Host += ":" + port
			}
			e = u.String()
		}
	}
	return e
}
