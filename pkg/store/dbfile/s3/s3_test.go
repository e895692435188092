package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/atipioc/pkg/store/dbfile"
	"github.com/marmos91/atipioc/pkg/store/dbfile/sinktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory single-bucket S3 API. ListObjectsV2 pages two keys
// at a time so the paginator is exercised.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.puts = append(f.puts, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		for start < len(keys) && keys[start] <= token {
			start++
		}
	}
	end := min(start+2, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	now := time.Now()
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k]))),
			LastModified: &now,
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func TestS3Sink(t *testing.T) {
	suite := &sinktest.Suite{
		NewSink: func(t *testing.T) dbfile.Sink {
			sink, err := New(context.Background(), Config{Client: newFakeS3(), Bucket: "iocs", KeyPrefix: "dbfiles"})
			require.NoError(t, err)
			return sink
		},
	}
	suite.Run(t)
}

func TestS3SinkKeyPrefix(t *testing.T) {
	api := newFakeS3()
	sink, err := New(context.Background(), Config{Client: api, Bucket: "iocs", KeyPrefix: "dbfiles"})
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), dbfile.Key("atip", "r1"), []byte("db")))
	assert.Equal(t, []string{"dbfiles/atip/r1.db"}, api.puts)
}

func TestS3SinkRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Client: newFakeS3()})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Bucket: "iocs"})
	assert.Error(t, err)
}
