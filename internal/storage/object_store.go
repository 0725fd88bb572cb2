package storage

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/imedwei/offsite-vault/internal/clock"
	"github.com/imedwei/offsite-vault/internal/provider"
	"github.com/imedwei/offsite-vault/internal/signer"
	"github.com/imedwei/offsite-vault/internal/transport"
	"github.com/imedwei/offsite-vault/internal/utils"
)

// Server-side encryption headers.
const (
	HeaderSSE         = "x-amz-server-side-encryption"
	HeaderSSEKMSKeyID = "x-amz-server-side-encryption-aws-kms-key-id"
)

// ObjectStoreConfig configures an ObjectStore.
type ObjectStoreConfig struct {
	Name        string // defaults to the credential region
	Role        string // copied onto listed records ("primary", "replica")
	Provider    provider.Provider
	Credentials signer.Credentials
	Transport   transport.Transport
	Clock       clock.Clock
	Logger      *slog.Logger
	Timeout     time.Duration // per request; 0 uses the transport default
}

// ObjectStore talks to an S3-compatible bucket with SigV4-signed requests
// sent through a Transport.
type ObjectStore struct {
	name      string
	role      string
	provider  provider.Provider
	creds     signer.Credentials
	prefix    keyPrefix
	signer    *signer.Signer
	transport transport.Transport
	logger    *slog.Logger
	timeout   time.Duration
}

// NewObjectStore creates an ObjectStore. Credentials are validated on every
// request, so missing fields surface as *signer.ConfigurationError from the
// operation that needed them.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	if cfg.Provider == nil {
		return nil, &signer.ConfigurationError{Field: "provider"}
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("object store requires a transport")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	creds := provider.ApplyDefaults(cfg.Provider, cfg.Credentials)
	name := cfg.Name
	if name == "" {
		name = creds.Region
	}

	return &ObjectStore{
		name:      name,
		role:      cfg.Role,
		provider:  cfg.Provider,
		creds:     creds,
		prefix:    keyPrefix(creds.ObjectPrefix),
		signer:    signer.New(cfg.Provider, cfg.Clock),
		transport: cfg.Transport,
		logger:    cfg.Logger.With("store", name, "provider", cfg.Provider.Name()),
		timeout:   cfg.Timeout,
	}, nil
}

// Name implements Storage.
func (s *ObjectStore) Name() string {
	return s.name
}

// Put implements Storage.
func (s *ObjectStore) Put(ctx context.Context, key string, body []byte, headers map[string]string) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}

	h := make(map[string]string, len(headers)+3)
	for k, v := range headers {
		h[k] = v
	}
	if !hasHeader(h, "Content-Type") {
		h["Content-Type"] = "application/octet-stream"
	}
	switch s.creds.ServerSideEncryption {
	case "":
	case "aws:kms":
		h[HeaderSSE] = "aws:kms"
		if s.creds.KMSKeyID != "" {
			h[HeaderSSEKMSKeyID] = s.creds.KMSKeyID
		}
	default:
		h[HeaderSSE] = s.creds.ServerSideEncryption
	}

	fullKey := s.prefix.full(key)
	if _, err := s.do(ctx, http.MethodPut, fullKey, body, h, nil); err != nil {
		return err
	}

	s.logger.Debug("Object stored", "key", fullKey, "size", len(body))
	return nil
}

// Delete implements Storage. A 404 counts as success.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}

	fullKey := s.prefix.full(key)
	_, err := s.do(ctx, http.MethodDelete, fullKey, nil, nil, nil)
	if err != nil && !IsNotFound(err) {
		return err
	}

	s.logger.Debug("Object deleted", "key", fullKey)
	return nil
}

// Head returns the metadata of key.
func (s *ObjectStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	resp, err := s.do(ctx, http.MethodHead, s.prefix.full(key), nil, nil, nil)
	if err != nil {
		return nil, err
	}

	info := &ObjectInfo{
		Key:      key,
		ETag:     strings.Trim(resp.Header.Get("ETag"), `"`),
		Metadata: make(map[string]string),
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		info.Size = n
	}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		info.LastModified = t.UTC()
	}
	for name, values := range resp.Header {
		lname := strings.ToLower(name)
		if strings.HasPrefix(lname, "x-amz-meta-") && len(values) > 0 {
			info.Metadata[strings.TrimPrefix(lname, "x-amz-meta-")] = values[0]
		}
	}
	return info, nil
}

// Get downloads key.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.do(ctx, http.MethodGet, s.prefix.full(key), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// List implements Storage. Pages are requested with ListObjectsV2
// continuation tokens until the store reports no more results.
func (s *ObjectStore) List(ctx context.Context, prefix string) iter.Seq2[BackupRecord, error] {
	return func(yield func(BackupRecord, error) bool) {
		fullPrefix := s.prefix.full(prefix)
		token := ""

		for page := 1; ; page++ {
			query := url.Values{
				"list-type": {"2"},
				"prefix":    {fullPrefix},
			}
			if token != "" {
				query.Set("continuation-token", token)
			}

			resp, err := s.do(ctx, http.MethodGet, "", nil, nil, query)
			if err != nil {
				yield(BackupRecord{}, fmt.Errorf("failed to list %s page %d: %w", s.name, page, err))
				return
			}
			if len(bytes.TrimSpace(resp.Body)) == 0 {
				return
			}

			result, err := parseListPage(resp.Body)
			if err != nil {
				yield(BackupRecord{}, err)
				return
			}

			for _, obj := range result.Contents {
				rec, ok := s.toRecord(obj)
				if !ok {
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}

			if !result.IsTruncated || result.NextContinuationToken == "" {
				return
			}
			token = result.NextContinuationToken
		}
	}
}

// do signs and sends one request. objectPath is the full key including the
// object prefix; an empty path addresses the bucket.
func (s *ObjectStore) do(ctx context.Context, method, objectPath string, body []byte, headers map[string]string, query url.Values) (*transport.Response, error) {
	resource := objectPath
	if s.provider.PathStyle() {
		resource = strings.TrimSuffix(s.creds.Bucket+"/"+objectPath, "/")
	}

	signed, err := s.signer.Sign(method, resource, body, headers, s.creds, query)
	if err != nil {
		return nil, err
	}

	target := s.provider.Scheme() + "://" + signed.Host + signed.CanonicalURI
	if signed.CanonicalQueryString != "" {
		target += "?" + signed.CanonicalQueryString
	}

	resp, err := s.transport.Send(ctx, &transport.Request{
		Method:  method,
		URL:     target,
		Header:  signed.Headers,
		Body:    body,
		Timeout: s.timeout,
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newHTTPStatusError(method, objectPath, resp)
	}
	return resp, nil
}

// toRecord converts a listed object, skipping anything that is not an
// archive.
func (s *ObjectStore) toRecord(obj listObject) (BackupRecord, bool) {
	name := path.Base(obj.Key)
	if !utils.IsArchive(name) {
		return BackupRecord{}, false
	}

	rec := BackupRecord{
		ID:     strings.Trim(obj.ETag, `"`),
		Key:    s.prefix.strip(obj.Key),
		Name:   name,
		Size:   obj.Size,
		Region: s.creds.Region,
		Role:   s.role,
	}
	if t, err := utils.ParseArchiveTimestamp(name); err == nil {
		rec.Timestamp = t.Unix()
	} else if t, err := time.Parse(time.RFC3339, obj.LastModified); err == nil {
		rec.Timestamp = t.Unix()
	}
	return rec, true
}

// -------------------------------------------------------------------------
// WIRE FORMAT
// -------------------------------------------------------------------------

type listBucketResult struct {
	XMLName               xml.Name     `xml:"ListBucketResult"`
	Contents              []listObject `xml:"Contents"`
	IsTruncated           bool         `xml:"IsTruncated"`
	NextContinuationToken string       `xml:"NextContinuationToken"`
}

type listObject struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	Size         int64  `xml:"Size"`
	ETag         string `xml:"ETag"`
}

type errorResponse struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

func parseListPage(body []byte) (*listBucketResult, error) {
	var result listBucketResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, &ProtocolError{Operation: "list", Err: err}
	}
	return &result, nil
}

func newHTTPStatusError(method, key string, resp *transport.Response) *HTTPStatusError {
	e := &HTTPStatusError{Method: method, Key: key, StatusCode: resp.StatusCode}

	var parsed errorResponse
	if err := xml.Unmarshal(resp.Body, &parsed); err == nil && (parsed.Code != "" || parsed.Message != "") {
		e.Code = parsed.Code
		e.Message = parsed.Message
		return e
	}
	e.Message = bodyFragment(resp.Body)
	return e
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
