package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/imedwei/offsite-vault/internal/utils"
)

// S3Storage implements Storage with the AWS SDK instead of the built-in
// signer. It is used for targets configured with provider "s3sdk".
type S3Storage struct {
	name       string
	role       string
	client     *s3.Client
	uploader   *manager.Uploader
	bucket     string
	region     string
	prefix     keyPrefix
	sse        string
	kmsKeyID   string
	objectLock bool
	logger     *slog.Logger
}

// S3Config holds S3-specific configuration.
type S3Config struct {
	Name                 string
	Role                 string
	AccessKeyID          string
	SecretAccessKey      string
	Region               string
	Bucket               string
	Endpoint             string // Optional custom endpoint
	Prefix               string // Optional prefix for all keys
	ServerSideEncryption string
	KMSKeyID             string
	ObjectLock           bool // Send Content-MD5, required by object-locked buckets
	UsePathStyle         bool // For S3-compatible services
	Logger               *slog.Logger
}

// NewS3Storage creates a new S3 storage provider.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.UsePathStyle
		},
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	name := cfg.Name
	if name == "" {
		name = cfg.Region
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &S3Storage{
		name:       name,
		role:       cfg.Role,
		client:     client,
		uploader:   manager.NewUploader(client),
		bucket:     cfg.Bucket,
		region:     cfg.Region,
		prefix:     keyPrefix(cfg.Prefix),
		sse:        cfg.ServerSideEncryption,
		kmsKeyID:   cfg.KMSKeyID,
		objectLock: cfg.ObjectLock,
		logger:     logger.With("store", name, "provider", "s3sdk"),
	}, nil
}

// Name implements Storage.
func (s *S3Storage) Name() string {
	return s.name
}

// Put implements Storage.
func (s *S3Storage) Put(ctx context.Context, key string, body []byte, headers map[string]string) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	fullKey := s.prefix.full(key)

	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(fullKey),
		Body:     bytes.NewReader(body),
		Metadata: make(map[string]string),
	}
	for k, v := range headers {
		lk := strings.ToLower(k)
		switch {
		case lk == "content-type":
			input.ContentType = aws.String(v)
		case strings.HasPrefix(lk, "x-amz-meta-"):
			input.Metadata[strings.TrimPrefix(lk, "x-amz-meta-")] = v
		}
	}

	if s.sse != "" {
		input.ServerSideEncryption = types.ServerSideEncryption(s.sse)
		if s.sse == string(types.ServerSideEncryptionAwsKms) && s.kmsKeyID != "" {
			input.SSEKMSKeyId = aws.String(s.kmsKeyID)
		}
	}

	if s.objectLock {
		hash := md5.Sum(body)
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(hash[:]))
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.logger.Debug("Object stored", "key", fullKey, "size", len(body))
	return nil
}

// Delete implements Storage.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix.full(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// Head returns the metadata of key.
func (s *S3Storage) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix.full(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head S3 object: %w", err)
	}

	info := &ObjectInfo{
		Key:      key,
		Size:     aws.ToInt64(out.ContentLength),
		ETag:     strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata: out.Metadata,
	}
	if out.LastModified != nil {
		info.LastModified = out.LastModified.UTC()
	}
	return info, nil
}

// List implements Storage.
func (s *S3Storage) List(ctx context.Context, prefix string) iter.Seq2[BackupRecord, error] {
	return func(yield func(BackupRecord, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(s.prefix.full(prefix)),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(BackupRecord{}, fmt.Errorf("failed to list S3 objects: %w", err))
				return
			}

			for _, obj := range page.Contents {
				rec, ok := s.objectToRecord(obj)
				if !ok {
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

func (s *S3Storage) objectToRecord(obj types.Object) (BackupRecord, bool) {
	key := aws.ToString(obj.Key)
	name := path.Base(key)
	if !utils.IsArchive(name) {
		return BackupRecord{}, false
	}

	rec := BackupRecord{
		ID:     strings.Trim(aws.ToString(obj.ETag), `"`),
		Key:    s.prefix.strip(key),
		Name:   name,
		Size:   aws.ToInt64(obj.Size),
		Region: s.region,
		Role:   s.role,
	}
	if t, err := utils.ParseArchiveTimestamp(name); err == nil {
		rec.Timestamp = t.Unix()
	} else if obj.LastModified != nil {
		rec.Timestamp = obj.LastModified.Unix()
	}
	return rec, true
}
