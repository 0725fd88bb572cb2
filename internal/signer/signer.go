// -------------------------------------------------------------------------------
// Signer - AWS Signature Version 4 Request Signing
//
// Builds the canonical request for an S3-compatible API call and signs it with
// the HMAC-SHA256 key chain. Output is byte-for-byte deterministic for a fixed
// clock so it can be checked against published test vectors.
// -------------------------------------------------------------------------------

package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/imedwei/offsite-vault/internal/clock"
)

const (
	// Algorithm is the SigV4 algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// Service is the service segment of the credential scope.
	Service = "s3"

	amzDateFormat   = "20060102T150405Z"
	dateStampFormat = "20060102"
)

// EmptyPayloadHash is the hex SHA-256 of an empty body.
var EmptyPayloadHash = hashSHA256(nil)

// HostBuilder resolves the host name requests for a credential set are sent
// to. Providers implement it.
type HostBuilder interface {
	BuildHost(creds Credentials) string
}

// HostBuilderFunc adapts a function to HostBuilder.
type HostBuilderFunc func(creds Credentials) string

// BuildHost implements HostBuilder.
func (f HostBuilderFunc) BuildHost(creds Credentials) string {
	return f(creds)
}

// SignedRequest is the result of signing. Headers holds everything that must
// be sent, including Authorization, with the casing the caller supplied.
type SignedRequest struct {
	Method               string
	Host                 string
	CanonicalURI         string
	CanonicalQueryString string
	CanonicalHeaders     string
	SignedHeaders        string
	PayloadHash          string
	AmzDate              string
	CredentialScope      string
	CanonicalRequest     string
	StringToSign         string
	Signature            string
	Authorization        string
	Headers              map[string]string
}

// Signer signs requests for one provider host scheme.
type Signer struct {
	hosts HostBuilder
	clock clock.Clock
}

// New creates a new Signer.
func New(hosts HostBuilder, clk clock.Clock) *Signer {
	if clk == nil {
		clk = clock.System{}
	}
	return &Signer{hosts: hosts, clock: clk}
}

// Sign builds and signs a request. objectKey is the resource path without a
// leading slash; an empty key addresses the bucket root.
func (s *Signer) Sign(method, objectKey string, body []byte, headers map[string]string, creds Credentials, query url.Values) (*SignedRequest, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	amzDate := now.Format(amzDateFormat)
	dateStamp := now.Format(dateStampFormat)
	host := s.hosts.BuildHost(creds)
	payloadHash := hashSHA256(body)

	// --- Merge caller headers with the signing headers ---
	merged := foldHeaders(headers)
	merged["Host"] = host
	merged["X-Amz-Date"] = amzDate
	merged["X-Amz-Content-Sha256"] = payloadHash

	canonicalHeaders, signedHeaders := buildCanonicalHeaders(merged)
	canonicalURI := BuildCanonicalURI(objectKey)
	canonicalQuery := BuildCanonicalQueryString(query)

	canonicalRequest := strings.Join([]string{
		method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, creds.Region, Service)
	stringToSign := fmt.Sprintf("%s\n%s\n%s\n%s",
		Algorithm,
		amzDate,
		credentialScope,
		hashSHA256([]byte(canonicalRequest)),
	)

	signingKey := deriveSigningKey(creds.SecretKey, dateStamp, creds.Region, Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	authorization := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, creds.AccessKey, credentialScope, signedHeaders, signature)
	merged["Authorization"] = authorization

	return &SignedRequest{
		Method:               method,
		Host:                 host,
		CanonicalURI:         canonicalURI,
		CanonicalQueryString: canonicalQuery,
		CanonicalHeaders:     canonicalHeaders,
		SignedHeaders:        signedHeaders,
		PayloadHash:          payloadHash,
		AmzDate:              amzDate,
		CredentialScope:      credentialScope,
		CanonicalRequest:     canonicalRequest,
		StringToSign:         stringToSign,
		Signature:            signature,
		Authorization:        authorization,
		Headers:              merged,
	}, nil
}

// -------------------------------------------------------------------------
// CANONICALIZATION
// -------------------------------------------------------------------------

// BuildCanonicalURI percent-encodes each path segment of key on its own and
// keeps '+' literal. An empty key yields "/".
func BuildCanonicalURI(key string) string {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "/"
	}

	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(sigV4Encode(seg), "%2B", "+")
	}
	return "/" + strings.Join(segments, "/")
}

// BuildCanonicalQueryString encodes every key and value independently and
// sorts the resulting pairs. Multi-valued keys contribute one pair per value.
func BuildCanonicalQueryString(values url.Values) string {
	if len(values) == 0 {
		return ""
	}

	var params []string
	for k, vs := range values {
		for _, v := range vs {
			params = append(params, sigV4Encode(k)+"="+sigV4Encode(v))
		}
	}
	sort.Strings(params)
	return strings.Join(params, "&")
}

// buildCanonicalHeaders returns the canonical header block (one "name:value\n"
// line per header) and the semicolon-joined signed header list.
func buildCanonicalHeaders(headers map[string]string) (string, string) {
	lowered := make(map[string]string, len(headers))
	names := make([]string, 0, len(headers))
	for name, value := range headers {
		lname := strings.ToLower(strings.TrimSpace(name))
		if _, seen := lowered[lname]; !seen {
			names = append(names, lname)
		}
		lowered[lname] = collapseWhitespace(value)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(lowered[name])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

// foldHeaders drops signer-owned headers and folds names that differ only
// in case into one entry. The entry keeps the lexically smallest spelling of
// the name; its values are trimmed, sorted and joined with ",".
func foldHeaders(headers map[string]string) map[string]string {
	names := make(map[string]string, len(headers))
	values := make(map[string][]string, len(headers))
	for name, value := range headers {
		if isReservedHeader(name) {
			continue
		}
		lname := strings.ToLower(strings.TrimSpace(name))
		if prev, ok := names[lname]; !ok || name < prev {
			names[lname] = name
		}
		values[lname] = append(values[lname], collapseWhitespace(value))
	}

	merged := make(map[string]string, len(names)+4)
	for lname, vs := range values {
		sort.Strings(vs)
		merged[names[lname]] = strings.Join(vs, ",")
	}
	return merged
}

// collapseWhitespace trims v and folds internal whitespace runs to one space.
func collapseWhitespace(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// isReservedHeader reports whether the signer owns the header.
func isReservedHeader(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "host", "x-amz-date", "x-amz-content-sha256", "authorization":
		return true
	}
	return false
}

// sigV4Encode performs RFC 3986 encoding: unreserved characters (A-Z, a-z,
// 0-9, '-', '.', '_', '~') pass through, everything else is percent-encoded.
// Spaces become %20, not +.
func sigV4Encode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// -------------------------------------------------------------------------
// CRYPTO HELPERS
// -------------------------------------------------------------------------

// deriveSigningKey computes the SigV4 signing key from the secret.
func deriveSigningKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

// hmacSHA256 computes HMAC-SHA256.
func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// hashSHA256 computes a hex-encoded SHA256 hash.
func hashSHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
