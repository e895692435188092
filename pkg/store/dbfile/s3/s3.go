package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/atipioc/pkg/store/dbfile"
)

// API is the subset of the S3 client the sink uses. *s3.Client satisfies it.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config configures the S3 sink.
type Config struct {
	Client    API
	Bucket    string
	KeyPrefix string
}

// Sink stores database files as objects under KeyPrefix.
type Sink struct {
	client    API
	bucket    string
	keyPrefix string
}

// New creates the sink. The bucket must already exist.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, errors.New("S3 dbfile sink: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("S3 dbfile sink: bucket is required")
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Sink{client: cfg.Client, bucket: cfg.Bucket, keyPrefix: prefix}, nil
}

func (s *Sink) objectKey(key string) string {
	return s.keyPrefix + key
}

func (s *Sink) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := dbfile.ValidateKey(key); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to S3: %w", key, err)
	}
	return nil
}

func (s *Sink) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", dbfile.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read %s from S3: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from S3: %w", key, err)
	}
	return data, nil
}

func (s *Sink) List(ctx context.Context, prefix string) ([]dbfile.Entry, error) {
	var out []dbfile.Entry

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}

		for _, obj := range page.Contents {
			e := dbfile.Entry{
				Key:  strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				e.ModTime = *obj.LastModified
			}
			out = append(out, e)
		}
	}

	dbfile.SortEntries(out)
	return out, nil
}

func (s *Sink) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from S3: %w", key, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return nil
}
