package signer

import "fmt"

// Credentials identify a bucket on an S3-compatible provider and the keys
// used to sign requests against it.
type Credentials struct {
	AccessKey            string
	SecretKey            string
	Region               string
	Bucket               string
	ObjectPrefix         string
	ServerSideEncryption string // "", "AES256" or "aws:kms"
	KMSKeyID             string
}

// ConfigurationError reports a missing or invalid credential field. It is a
// caller bug and must never be retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s is required", e.Field)
}

// Validate checks that every field needed for signing is present.
func (c Credentials) Validate() error {
	switch {
	case c.AccessKey == "":
		return &ConfigurationError{Field: "access_key"}
	case c.SecretKey == "":
		return &ConfigurationError{Field: "secret_key"}
	case c.Region == "":
		return &ConfigurationError{Field: "region"}
	case c.Bucket == "":
		return &ConfigurationError{Field: "bucket"}
	}

	switch c.ServerSideEncryption {
	case "", "AES256", "aws:kms":
	default:
		return &ConfigurationError{Field: "server_side_encryption", Reason: fmt.Sprintf("unsupported value %q", c.ServerSideEncryption)}
	}
	return nil
}

// String hides the secret key.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{AccessKey: %s, Region: %s, Bucket: %s}", c.AccessKey, c.Region, c.Bucket)
}
