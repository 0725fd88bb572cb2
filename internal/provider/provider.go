// Package provider describes how each S3-compatible storage provider names
// its hosts. The signing and listing algorithms are shared; only host
// construction and defaults differ per provider.
package provider

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/imedwei/offsite-vault/internal/signer"
)

// DefaultRegion is the region served without a region segment in the host.
const DefaultRegion = "us-east-1"

// Settings holds per-provider defaults applied to unset credential fields.
type Settings struct {
	Region               string
	ServerSideEncryption string
}

// Provider resolves hosts and defaults for one S3-compatible service.
type Provider interface {
	signer.HostBuilder

	// Name returns the provider identifier used in configuration.
	Name() string

	// Scheme returns the URL scheme requests use.
	Scheme() string

	// PathStyle reports whether the bucket is addressed in the path rather
	// than in the host name.
	PathStyle() bool

	// DefaultSettings returns defaults for unset credential fields.
	DefaultSettings() Settings
}

// ApplyDefaults fills unset credential fields from the provider defaults.
func ApplyDefaults(p Provider, creds signer.Credentials) signer.Credentials {
	d := p.DefaultSettings()
	if creds.Region == "" {
		creds.Region = d.Region
	}
	if creds.ServerSideEncryption == "" {
		creds.ServerSideEncryption = d.ServerSideEncryption
	}
	return creds
}

// Lookup returns the provider registered under name. endpoint and pathStyle
// only apply to the generic provider.
func Lookup(name, endpoint string, pathStyle bool) (Provider, error) {
	switch strings.ToLower(name) {
	case "aws", "s3":
		return AWS{}, nil
	case "wasabi":
		return Wasabi{}, nil
	case "generic", "minio":
		return NewGeneric(endpoint, pathStyle)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// -------------------------------------------------------------------------
// AWS
// -------------------------------------------------------------------------

// AWS is Amazon S3.
type AWS struct{}

// Name implements Provider.
func (AWS) Name() string { return "aws" }

// Scheme implements Provider.
func (AWS) Scheme() string { return "https" }

// PathStyle implements Provider.
func (AWS) PathStyle() bool { return false }

// DefaultSettings implements Provider.
func (AWS) DefaultSettings() Settings {
	return Settings{Region: DefaultRegion}
}

// BuildHost implements signer.HostBuilder. The default region has no region
// segment in the host name.
func (AWS) BuildHost(creds signer.Credentials) string {
	if creds.Region == "" || creds.Region == DefaultRegion {
		return creds.Bucket + ".s3.amazonaws.com"
	}
	return fmt.Sprintf("%s.s3.%s.amazonaws.com", creds.Bucket, creds.Region)
}

// -------------------------------------------------------------------------
// WASABI
// -------------------------------------------------------------------------

// Wasabi is Wasabi hot cloud storage.
type Wasabi struct{}

// Name implements Provider.
func (Wasabi) Name() string { return "wasabi" }

// Scheme implements Provider.
func (Wasabi) Scheme() string { return "https" }

// PathStyle implements Provider.
func (Wasabi) PathStyle() bool { return false }

// DefaultSettings implements Provider.
func (Wasabi) DefaultSettings() Settings {
	return Settings{Region: DefaultRegion}
}

// BuildHost implements signer.HostBuilder.
func (Wasabi) BuildHost(creds signer.Credentials) string {
	if creds.Region == "" || creds.Region == DefaultRegion {
		return creds.Bucket + ".s3.wasabisys.com"
	}
	return fmt.Sprintf("%s.s3.%s.wasabisys.com", creds.Bucket, creds.Region)
}

// -------------------------------------------------------------------------
// GENERIC
// -------------------------------------------------------------------------

// Generic is any S3-compatible service behind a custom endpoint (MinIO,
// Ceph RGW, Backblaze B2, ...).
type Generic struct {
	scheme    string
	host      string
	pathStyle bool
}

// NewGeneric parses endpoint ("https://minio.local:9000") into a provider.
func NewGeneric(endpoint string, pathStyle bool) (*Generic, error) {
	if endpoint == "" {
		return nil, &signer.ConfigurationError{Field: "endpoint"}
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, &signer.ConfigurationError{Field: "endpoint", Reason: fmt.Sprintf("invalid URL %q", endpoint)}
	}

	return &Generic{scheme: u.Scheme, host: u.Host, pathStyle: pathStyle}, nil
}

// Name implements Provider.
func (g *Generic) Name() string { return "generic" }

// Scheme implements Provider.
func (g *Generic) Scheme() string { return g.scheme }

// PathStyle implements Provider.
func (g *Generic) PathStyle() bool { return g.pathStyle }

// DefaultSettings implements Provider.
func (g *Generic) DefaultSettings() Settings {
	return Settings{Region: DefaultRegion}
}

// BuildHost implements signer.HostBuilder.
func (g *Generic) BuildHost(creds signer.Credentials) string {
	if g.pathStyle {
		return g.host
	}
	return creds.Bucket + "." + g.host
}
