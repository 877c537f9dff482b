package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Store keeps payloads in an S3 bucket. Refs are object keys relative
// to the configured prefix.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// S3Config selects the bucket. Credentials come from the default AWS
// credential chain.
type S3Config struct {
	Bucket string
	Region string
	Prefix string
}

// NewS3Store builds the client from the ambient AWS config.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 content store: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
	}, nil
}

var _ Store = (*S3Store)(nil)

func (s *S3Store) Resolve(ctx context.Context, ref string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", ref, err)
	}
	return out.Body, nil
}

func (s *S3Store) ContentType(ctx context.Context, ref string) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("s3 head %s: %w", ref, err)
	}
	ct := aws.ToString(out.ContentType)
	if ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream" {
		return "", ErrUnknownType
	}
	return ct, nil
}

func (s *S3Store) Put(ctx context.Context, name string, r io.Reader, mimeType string) (string, error) {
	if !TypeAllowed(mimeType) {
		return "", ErrUnsupportedType
	}

	ref := fmt.Sprintf("%s/%s%s",
		time.Now().UTC().Format("2006-01"),
		uuid.NewString(),
		safeExt(name))

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(ref)),
		Body:        &cappedReader{r: r, remaining: MaxUploadBytes},
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return "", ErrTooLarge
		}
		return "", fmt.Errorf("s3 upload %s: %w", ref, err)
	}
	return ref, nil
}

func (s *S3Store) key(ref string) string {
	clean := strings.TrimPrefix(path.Clean("/"+ref), "/")
	if s.prefix == "" {
		return clean
	}
	return s.prefix + "/" + clean
}

// cappedReader fails the upload once more than the admission limit has
// been read, so oversized payloads abort instead of landing in the
// bucket.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrTooLarge
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return 0, ErrTooLarge
	}
	return n, err
}
