// Package sigv4 implements AWS Signature Version 4 request signing for
// S3-compatible object stores.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"
	// UnsignedPayload may be used as PayloadHash to skip body hashing.
	UnsignedPayload = "UNSIGNED-PAYLOAD"
	// EmptyPayloadHash is the SHA-256 of an empty body.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	amzDateFormat   = "20060102T150405Z"
	shortDateFormat = "20060102"
	terminator      = "aws4_request"
)

// Credentials are static access keys.
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
}

// Signer signs requests for one region and service.
type Signer struct {
	Credentials
	Region  string
	Service string
}

// Request describes the parts of an HTTP request that are signed.
type Request struct {
	Method string
	// Host is the request authority, including a non-default port.
	Host   string
	Bucket string
	Key    string
	// PathStyle puts the bucket in the path instead of the host.
	PathStyle bool
	Query     url.Values
	Header    http.Header
	Payload   []byte
	// PayloadHash overrides hashing Payload when set.
	PayloadHash string
}

// Signed is the outcome of signing. Header holds every signed header plus
// Authorization; Path and RawQuery must be sent exactly as returned.
type Signed struct {
	Header           http.Header
	Path             string
	RawQuery         string
	PayloadHash      string
	CanonicalRequest string
	StringToSign     string
	SignedHeaders    string
	Signature        string
	Authorization    string
}

// URL assembles the request URL for scheme.
func (s Signed) URL(scheme, host string) string {
	u := scheme + "://" + host + s.Path
	if s.RawQuery != "" {
		u += "?" + s.RawQuery
	}

	return u
}

// Sign computes the signature for req at t.
func (s Signer) Sign(req Request, t time.Time) Signed {
	t = t.UTC()
	amzDate := t.Format(amzDateFormat)
	shortDate := t.Format(shortDateFormat)

	payloadHash := req.PayloadHash
	if payloadHash == "" {
		payloadHash = HashPayload(req.Payload)
	}

	header := http.Header{}
	for k, vs := range req.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	header.Set("Host", req.Host)
	header.Set("X-Amz-Date", amzDate)
	header.Set("X-Amz-Content-Sha256", payloadHash)

	if s.SessionToken != "" {
		header.Set("X-Amz-Security-Token", s.SessionToken)
	}

	path := CanonicalURI(req.Bucket, req.Key, req.PathStyle)
	query := CanonicalQuery(req.Query)
	canonHeaders, signedHeaders := canonicalHeaders(header)

	canonicalRequest := strings.Join([]string{
		req.Method,
		path,
		query,
		canonHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{shortDate, s.Region, s.Service, terminator}, "/")
	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	key := SigningKey(s.SecretKey, shortDate, s.Region, s.Service)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(stringToSign)))

	auth := Algorithm + " Credential=" + s.AccessKey + "/" + scope +
		", SignedHeaders=" + signedHeaders +
		", Signature=" + signature

	header.Set("Authorization", auth)

	return Signed{
		Header:           header,
		Path:             path,
		RawQuery:         query,
		PayloadHash:      payloadHash,
		CanonicalRequest: canonicalRequest,
		StringToSign:     stringToSign,
		SignedHeaders:    signedHeaders,
		Signature:        signature,
		Authorization:    auth,
	}
}

// CanonicalURI builds the request path. In path style the bucket is the
// first segment; the key is always encoded as a single component, so any
// "/" inside it is escaped.
func CanonicalURI(bucket, key string, pathStyle bool) string {
	var b strings.Builder

	if pathStyle && bucket != "" {
		b.WriteString("/")
		b.WriteString(EncodeURIComponent(bucket))
	}

	if key != "" || b.Len() == 0 {
		b.WriteString("/")
		b.WriteString(EncodeURIComponent(key))
	}

	return b.String()
}

// CanonicalQuery encodes q sorted by encoded key, then by encoded value.
func CanonicalQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}

	type pair struct{ k, v string }

	pairs := make([]pair, 0, len(q))

	for k, vs := range q {
		ek := EncodeURIComponent(k)
		if len(vs) == 0 {
			pairs = append(pairs, pair{ek, ""})
			continue
		}

		for _, v := range vs {
			pairs = append(pairs, pair{ek, EncodeURIComponent(v)})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}

		return pairs[i].v < pairs[j].v
	})

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}

	return strings.Join(parts, "&")
}

// canonicalHeaders returns the canonical header block (with trailing
// newline) and the signed-headers list.
func canonicalHeaders(h http.Header) (string, string) {
	names := make([]string, 0, len(h))
	values := make(map[string]string, len(h))

	for k, vs := range h {
		name := strings.ToLower(k)
		trimmed := make([]string, len(vs))

		for i, v := range vs {
			trimmed[i] = collapseSpaces(v)
		}

		if prev, ok := values[name]; ok {
			values[name] = prev + "," + strings.Join(trimmed, ",")
			continue
		}

		names = append(names, name)
		values[name] = strings.Join(trimmed, ",")
	}

	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte(':')
		b.WriteString(values[n])
		b.WriteByte('\n')
	}

	return b.String(), strings.Join(names, ";")
}

func collapseSpaces(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// EncodeURIComponent percent-encodes every byte outside the unreserved set
// A-Z a-z 0-9 - _ . ~ using upper-case hex.
func EncodeURIComponent(s string) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}

		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}

	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}

	return false
}

// HashPayload returns the hex SHA-256 of p.
func HashPayload(p []byte) string {
	return hashHex(p)
}

// SigningKey derives the per-day signing key.
func SigningKey(secret, date, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), []byte(date))
	k = hmacSHA256(k, []byte(region))
	k = hmacSHA256(k, []byte(service))

	return hmacSHA256(k, []byte(terminator))
}

func hmacSHA256(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)

	return m.Sum(nil)
}

func hashHex(p []byte) string {
	sum := sha256.Sum256(p)
	return hex.EncodeToString(sum[:])
}
