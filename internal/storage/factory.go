package storage

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/config"
	"github.com/imedwei/offsite-vault/internal/provider"
	"github.com/imedwei/offsite-vault/internal/signer"
	"github.com/imedwei/offsite-vault/internal/transport"
)

// RetryConfig holds retry configuration for storage operations.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryableStorage wraps a Storage implementation with retry logic. Only
// errors accepted by IsRetryable are retried.
type RetryableStorage struct {
	storage Storage
	config  RetryConfig
	logger  *slog.Logger
}

// NewRetryableStorage creates a new storage wrapper with retry logic.
func NewRetryableStorage(storage Storage, config RetryConfig, logger *slog.Logger) *RetryableStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryableStorage{
		storage: storage,
		config:  config,
		logger:  logger,
	}
}

// Name implements Storage.
func (r *RetryableStorage) Name() string {
	return r.storage.Name()
}

// Unwrap returns the wrapped Storage.
func (r *RetryableStorage) Unwrap() Storage {
	return r.storage
}

// Put implements Storage.Put with retry logic.
func (r *RetryableStorage) Put(ctx context.Context, key string, body []byte, headers map[string]string) error {
	return r.retry(ctx, "put", func() error {
		return r.storage.Put(ctx, key, body, headers)
	})
}

// Delete implements Storage.Delete with retry logic.
func (r *RetryableStorage) Delete(ctx context.Context, key string) error {
	return r.retry(ctx, "delete", func() error {
		return r.storage.Delete(ctx, key)
	})
}

// List implements Storage.List with retry logic. A listing is restarted only
// when it fails before yielding anything; later failures are passed through.
func (r *RetryableStorage) List(ctx context.Context, prefix string) iter.Seq2[BackupRecord, error] {
	return func(yield func(BackupRecord, error) bool) {
		delay := r.config.InitialDelay

		for attempt := 1; ; attempt++ {
			yielded := false
			var failure error

			for rec, err := range r.storage.List(ctx, prefix) {
				if err != nil {
					failure = err
					break
				}
				yielded = true
				if !yield(rec, nil) {
					return
				}
			}

			if failure == nil {
				return
			}
			if yielded || !IsRetryable(failure) || attempt >= r.config.MaxAttempts {
				yield(BackupRecord{}, failure)
				return
			}

			r.logger.Warn("Listing failed, retrying", "store", r.storage.Name(), "attempt", attempt, "error", failure)
			if err := sleep(ctx, delay); err != nil {
				yield(BackupRecord{}, err)
				return
			}
			delay = r.nextDelay(delay)
		}
	}
}

// retry executes a function with exponential backoff retry logic.
func (r *RetryableStorage) retry(ctx context.Context, op string, fn func() error) error {
	delay := r.config.InitialDelay

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return err
		}

		// Check if this is the last attempt
		if attempt >= r.config.MaxAttempts {
			return fmt.Errorf("operation failed after %d attempts: %w", attempt, err)
		}

		r.logger.Warn("Storage operation failed, retrying",
			"store", r.storage.Name(), "op", op, "attempt", attempt, "error", err)

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay = r.nextDelay(delay)
	}
}

// nextDelay calculates the next delay with exponential backoff.
func (r *RetryableStorage) nextDelay(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * r.config.Multiplier)
	if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
		delay = r.config.MaxDelay
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Deps holds the collaborators shared by all targets.
type Deps struct {
	Transport transport.Transport
	Clock     clock.Clock
	Logger    *slog.Logger
	Timeout   time.Duration
	Retry     RetryConfig
}

// NewStorage creates a storage target based on configuration.
func NewStorage(ctx context.Context, t config.Target, deps Deps) (Storage, error) {
	var (
		s   Storage
		err error
	)

	switch strings.ToLower(t.Provider) {
	case "", "aws", "s3", "wasabi", "generic", "minio":
		var p provider.Provider
		p, err = provider.Lookup(t.ProviderName(), t.Endpoint, t.PathStyle)
		if err != nil {
			break
		}
		creds := signer.Credentials{
			AccessKey:            t.AccessKey,
			SecretKey:            t.SecretKey,
			Region:               t.Region,
			Bucket:               t.Bucket,
			ObjectPrefix:         t.Prefix,
			ServerSideEncryption: t.ServerSideEncryption,
			KMSKeyID:             t.KMSKeyID,
		}
		s, err = NewObjectStore(ObjectStoreConfig{
			Name:        t.Name,
			Role:        t.Role,
			Provider:    p,
			Credentials: creds,
			Transport:   deps.Transport,
			Clock:       deps.Clock,
			Logger:      deps.Logger,
			Timeout:     deps.Timeout,
		})

	case "s3sdk":
		s, err = NewS3Storage(ctx, S3Config{
			Name:                 t.Name,
			Role:                 t.Role,
			AccessKeyID:          t.AccessKey,
			SecretAccessKey:      t.SecretKey,
			Region:               t.Region,
			Bucket:               t.Bucket,
			Endpoint:             t.Endpoint,
			Prefix:               t.Prefix,
			ServerSideEncryption: t.ServerSideEncryption,
			KMSKeyID:             t.KMSKeyID,
			ObjectLock:           t.ObjectLock,
			UsePathStyle:         t.PathStyle || t.Endpoint != "",
			Logger:               deps.Logger,
		})

	case "gcs":
		if t.ServiceAccountJSON != "" {
			if err := ValidateServiceAccountJSON(t.ServiceAccountJSON); err != nil {
				return nil, fmt.Errorf("invalid GCS service account: %w", err)
			}
		}
		s, err = NewGCSStorage(ctx, GCSConfig{
			Name:               t.Name,
			Role:               t.Role,
			Bucket:             t.Bucket,
			ProjectID:          t.ProjectID,
			ServiceAccountJSON: t.ServiceAccountJSON,
			Prefix:             t.Prefix,
			CustomerManagedKey: t.KMSKeyID,
			Logger:             deps.Logger,
		})

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", t.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage %q: %w", t.ProviderName(), t.Name, err)
	}

	if deps.Retry.MaxAttempts <= 1 {
		return s, nil
	}
	return NewRetryableStorage(s, deps.Retry, deps.Logger), nil
}
