package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/imedwei/offsite-vault/internal/utils"
)

// GCSStorage implements Storage for Google Cloud Storage, the blob provider.
// GCS paginates natively; the iterator is translated into the same record
// sequence the S3 listing produces.
type GCSStorage struct {
	name   string
	role   string
	client *storage.Client
	bucket string
	prefix keyPrefix
	cmek   string
	logger *slog.Logger
}

// GCSConfig holds GCS-specific configuration.
type GCSConfig struct {
	Name               string
	Role               string
	Bucket             string
	ProjectID          string
	ServiceAccountJSON string
	Prefix             string // Optional prefix for all keys
	CustomerManagedKey string // Optional CMEK
	Logger             *slog.Logger
}

// NewGCSStorage creates a new GCS storage provider.
func NewGCSStorage(ctx context.Context, cfg GCSConfig) (*GCSStorage, error) {
	var opts []option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "gcs"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GCSStorage{
		name:   name,
		role:   cfg.Role,
		client: client,
		bucket: cfg.Bucket,
		prefix: keyPrefix(cfg.Prefix),
		cmek:   cfg.CustomerManagedKey,
		logger: logger.With("store", name, "provider", "gcs"),
	}, nil
}

// Name implements Storage.
func (g *GCSStorage) Name() string {
	return g.name
}

// Put implements Storage.
func (g *GCSStorage) Put(ctx context.Context, key string, body []byte, headers map[string]string) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	fullKey := g.prefix.full(key)

	w := g.client.Bucket(g.bucket).Object(fullKey).NewWriter(ctx)
	w.Metadata = make(map[string]string)
	for k, v := range headers {
		lk := strings.ToLower(k)
		switch {
		case lk == "content-type":
			w.ContentType = v
		case strings.HasPrefix(lk, "x-amz-meta-"):
			w.Metadata[strings.TrimPrefix(lk, "x-amz-meta-")] = v
		}
	}
	if g.cmek != "" {
		w.KMSKeyName = g.cmek
	}

	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload to GCS: %w", err)
	}

	// Close completes the upload; nothing is visible before it succeeds.
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload: %w", err)
	}

	g.logger.Debug("Object stored", "key", fullKey, "size", len(body))
	return nil
}

// Delete implements Storage.
func (g *GCSStorage) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(g.prefix.full(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// List implements Storage.
func (g *GCSStorage) List(ctx context.Context, prefix string) iter.Seq2[BackupRecord, error] {
	return func(yield func(BackupRecord, error) bool) {
		it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{
			Prefix: g.prefix.full(prefix),
		})

		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(BackupRecord{}, fmt.Errorf("failed to list GCS objects: %w", err))
				return
			}

			rec, ok := g.attrsToRecord(attrs)
			if !ok {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Close closes the GCS client connection.
func (g *GCSStorage) Close() error {
	return g.client.Close()
}

func (g *GCSStorage) attrsToRecord(attrs *storage.ObjectAttrs) (BackupRecord, bool) {
	name := path.Base(attrs.Name)
	if !utils.IsArchive(name) {
		return BackupRecord{}, false
	}

	rec := BackupRecord{
		ID:     attrs.Etag,
		Key:    g.prefix.strip(attrs.Name),
		Name:   name,
		Size:   attrs.Size,
		Region: g.name,
		Role:   g.role,
	}
	if t, err := utils.ParseArchiveTimestamp(name); err == nil {
		rec.Timestamp = t.Unix()
	} else if !attrs.Updated.IsZero() {
		rec.Timestamp = attrs.Updated.Unix()
	}
	return rec, true
}

// ValidateServiceAccountJSON validates the service account JSON string.
func ValidateServiceAccountJSON(jsonStr string) error {
	var sa struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal([]byte(jsonStr), &sa); err != nil {
		return fmt.Errorf("invalid service account JSON: %w", err)
	}

	if sa.Type != "service_account" {
		return fmt.Errorf("invalid service account type: %s", sa.Type)
	}

	return nil
}
