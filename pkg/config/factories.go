package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/pkg/store/dbfile"
	dbfilefs "github.com/marmos91/atipioc/pkg/store/dbfile/fs"
	dbfilememory "github.com/marmos91/atipioc/pkg/store/dbfile/memory"
	dbfiles3 "github.com/marmos91/atipioc/pkg/store/dbfile/s3"
	"github.com/marmos91/atipioc/pkg/store/values"
	valuesbadger "github.com/marmos91/atipioc/pkg/store/values/badger"
	valuesmemory "github.com/marmos91/atipioc/pkg/store/values/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateValueStore creates the autosave value store based on configuration.
//
// Supported types:
//   - "none": autosave disabled, returns a nil store
//   - "memory": pkg/store/values/memory (lost on exit, useful for tests)
//   - "badger": pkg/store/values/badger (BadgerDB, persistent)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Autosave configuration
//
// Returns:
//   - values.Store: Initialized store, or nil when autosave is disabled
//   - error: Configuration or initialization error
func CreateValueStore(ctx context.Context, cfg *AutosaveConfig) (values.Store, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return valuesmemory.New(), nil
	case "badger":
		return createBadgerValueStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown autosave store type: %q (supported: none, memory, badger)", cfg.Type)
	}
}

// createBadgerValueStore creates a BadgerDB-backed value store.
func createBadgerValueStore(ctx context.Context, options map[string]any) (values.Store, error) {
	var storeCfg valuesbadger.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("invalid badger autosave config: %w", err)
	}

	store, err := valuesbadger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger value store: %w", err)
	}

	logger.Info("Badger autosave store opened at %s", storeCfg.DBPath)
	return store, nil
}

// CreateDBFileSink creates the database-file sink based on configuration.
//
// Supported types:
//   - "none": database files are not written, returns a nil sink
//   - "filesystem": pkg/store/dbfile/fs (one directory per IOC)
//   - "memory": pkg/store/dbfile/memory (lost on exit, useful for tests)
//   - "s3": pkg/store/dbfile/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Database-file configuration
//
// Returns:
//   - dbfile.Sink: Initialized sink, or nil when disabled
//   - error: Configuration or initialization error
func CreateDBFileSink(ctx context.Context, cfg *DBFileConfig) (dbfile.Sink, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "filesystem":
		return createFilesystemSink(ctx, cfg.Filesystem)
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return dbfilememory.New(), nil
	case "s3":
		return createS3Sink(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown dbfile sink type: %q", cfg.Type)
	}
}

// createFilesystemSink creates a filesystem-backed sink.
func createFilesystemSink(ctx context.Context, options map[string]any) (dbfile.Sink, error) {
	var fsCfg struct {
		Path string `mapstructure:"path"`
	}
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("invalid filesystem dbfile config: %w", err)
	}

	if fsCfg.Path == "" {
		return nil, fmt.Errorf("filesystem dbfile sink: path is required")
	}

	sink, err := dbfilefs.New(ctx, fsCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize filesystem dbfile sink: %w", err)
	}

	return sink, nil
}

// s3SinkConfig represents S3 sink configuration loaded from YAML files.
type s3SinkConfig struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// createS3Sink creates an S3-backed sink.
func createS3Sink(ctx context.Context, options map[string]any) (dbfile.Sink, error) {
	var storeCfg s3SinkConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("invalid S3 dbfile config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 dbfile sink: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 dbfile sink: region is required")
	}

	client, err := newS3Client(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	sink, err := dbfiles3.New(ctx, dbfiles3.Config{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 dbfile sink: %w", err)
	}

	logger.Info("S3 dbfile sink initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return sink, nil
}

// newS3Client builds an S3 client from the sink configuration.
//
// Credentials fall back to the default AWS chain when no static key pair
// is configured. A custom endpoint (MinIO, Localstack) implies path-style
// addressing.
func newS3Client(ctx context.Context, storeCfg s3SinkConfig) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(storeCfg.Region),
	}

	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
		}
		o.UsePathStyle = storeCfg.ForcePathStyle || storeCfg.Endpoint != ""
	})

	return client, nil
}
