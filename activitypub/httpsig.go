package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
)

var (
	postSignedHeaders = []string{httpsig.RequestTarget, "date", "host", "digest"}
	getSignedHeaders  = []string{httpsig.RequestTarget, "date", "host"}
)

// SignRequest signs an outgoing HTTP request with the given private key.
// body must be the exact bytes that will be sent, nil for a GET.
// keyId format: "https://example.com/u/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	// httpsig reads host from the header map, net/http sends it from req.Host
	req.Header.Set("Host", req.URL.Host)

	headers := getSignedHeaders
	if body != nil {
		headers = postSignedHeaders
		// the signer adds the digest itself and refuses to overwrite one
		req.Header.Del("Digest")
	}

	// Signers are not safe for concurrent use, build one per request.
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	if err := signer.SignRequest(privateKey, keyId, req, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	// httpsig always announces hs2019, peers expect the concrete algorithm.
	// The parameter is not covered by the signature.
	req.Header.Set("Signature", withAlgorithm(req.Header.Get("Signature"), "rsa-sha256"))
	return nil
}

// withAlgorithm replaces the algorithm parameter of a Signature header value.
func withAlgorithm(value, algorithm string) string {
	parts := splitSignatureHeader(value)
	found := false
	for i, part := range parts {
		k, _, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(k, "algorithm") {
			parts[i] = `algorithm="` + algorithm + `"`
			found = true
		}
	}
	if !found {
		parts = append(parts, `algorithm="`+algorithm+`"`)
	}
	return strings.Join(parts, ",")
}

// Sign returns the headers a request to rawURL must carry.
func Sign(method, rawURL string, privateKey *rsa.PrivateKey, keyId string, body []byte) (http.Header, error) {
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := SignRequest(req, privateKey, keyId, body); err != nil {
		return nil, err
	}
	return req.Header, nil
}

// VerifyResult is what a valid signature tells about the request.
type VerifyResult struct {
	KeyId string
	// DigestMismatch is set when the body does not hash to the Digest header.
	// It does not fail verification, some servers send broken digests.
	DigestMismatch bool
}

// Verify checks the Signature header of an inbound POST.
// inboxPath is where this server mounts the inbox. It is used for
// (request-target) instead of anything the sender supplied.
func Verify(header http.Header, host string, body []byte, inboxPath string, publicKeyPem string) (VerifyResult, error) {
	if header.Get("Signature") == "" {
		return VerifyResult{}, signatureError(ReasonMissingHeader, "signature", nil)
	}
	if header.Get("Date") == "" {
		return VerifyResult{}, signatureError(ReasonMissingHeader, "date", nil)
	}

	h := header.Clone()
	// net/http moves Host out of the header map on inbound requests
	h.Set("Host", host)
	req := &http.Request{
		Method: http.MethodPost,
		URL:    &url.URL{Path: inboxPath},
		Host:   host,
		Header: h,
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return VerifyResult{}, signatureError(ReasonMalformedHeader, "", err)
	}

	pubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return VerifyResult{}, signatureError(ReasonUnknownKey, verifier.KeyId(), err)
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		return VerifyResult{}, signatureError(ReasonInvalidSignature, verifier.KeyId(), err)
	}

	return VerifyResult{
		KeyId:          verifier.KeyId(),
		DigestMismatch: !digestMatches(header.Get("Digest"), body),
	}, nil
}

// Digest returns the Digest header value for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

func digestMatches(value string, body []byte) bool {
	want := Digest(body)
	for _, part := range strings.Split(value, ",") {
		algo, encoded, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if "SHA-256="+encoded == want {
			return true
		}
	}
	return false
}

// SignatureParams splits a Signature header into its fields.
func SignatureParams(value string) map[string]string {
	params := make(map[string]string)
	for _, part := range splitSignatureHeader(value) {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(k)] = strings.Trim(v, `"`)
	}
	return params
}

// splitSignatureHeader splits on commas outside quoted values.
func splitSignatureHeader(value string) []string {
	var parts []string
	quoted := false
	start := 0
	for i, r := range value {
		switch r {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, value[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, value[start:])
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA private key")
		}
		return rsaKey, nil
	default:
		privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return privateKey, nil
	}
}

// ParsePublicKey converts PEM string to *rsa.PublicKey. Both PKIX and PKCS1
// encodings are in use across the fediverse.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if block.Type == "RSA PUBLIC KEY" {
		pubKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return pubKey, nil
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
