package activitypub

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

var (
	testKeysOnce sync.Once
	testKeys     [2]*rsa.PrivateKey
)

// generateTestKeyPair returns one of two RSA keys shared by the package tests
func generateTestKeyPair(t *testing.T, n int) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	testKeysOnce.Do(func() {
		for i := range testKeys {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			testKeys[i] = key
		}
	})
	return testKeys[n], &testKeys[n].PublicKey
}

// privateKeyToPEM converts private key to PEM string
func privateKeyToPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// publicKeyToPEM converts public key to PEM string
func publicKeyToPEM(key *rsa.PublicKey) string {
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		panic(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	}))
}

func signedInboxHeaders(t *testing.T, key *rsa.PrivateKey, keyId string, body []byte) http.Header {
	t.Helper()
	header, err := Sign(http.MethodPost, "https://example.com/f/inbox", key, keyId, body)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return header
}

func TestParsePrivateKey(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t, 0)

	parsed, err := ParsePrivateKey(privateKeyToPEM(privateKey))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t, 0)
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey failed: %v", err)
	}

	parsed, err := ParsePrivateKey(string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePrivateKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
	if _, err := ParsePrivateKey(""); err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestParsePublicKey(t *testing.T) {
	_, publicKey := generateTestKeyPair(t, 0)

	parsed, err := ParsePublicKey(publicKeyToPEM(publicKey))
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}

	pkcs1 := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(publicKey),
	}))
	parsed, err = ParsePublicKey(pkcs1)
	if err != nil {
		t.Fatalf("ParsePublicKey failed on PKCS1: %v", err)
	}
	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed PKCS1 key doesn't match original")
	}
}

func TestParsePublicKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePublicKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
	if _, err := ParsePublicKey(""); err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestSignRequestSetsHeaders(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t, 0)
	body := []byte(`{"type":"Create"}`)

	header := signedInboxHeaders(t, privateKey, "https://example.com/u/alice#main-key", body)

	if header.Get("Date") == "" {
		t.Error("Expected Date header")
	}
	if header.Get("Host") != "example.com" {
		t.Errorf("Expected Host 'example.com', got '%s'", header.Get("Host"))
	}
	if header.Get("Digest") != Digest(body) {
		t.Errorf("Expected Digest '%s', got '%s'", Digest(body), header.Get("Digest"))
	}

	params := SignatureParams(header.Get("Signature"))
	if params["keyid"] != "https://example.com/u/alice#main-key" {
		t.Errorf("Expected keyId in signature, got '%s'", params["keyid"])
	}
	if params["headers"] != "(request-target) date host digest" {
		t.Errorf("Expected signed headers '(request-target) date host digest', got '%s'", params["headers"])
	}
	if params["algorithm"] != "rsa-sha256" {
		t.Errorf("Expected algorithm rsa-sha256, got '%s'", params["algorithm"])
	}
}

func TestSignGetHasNoDigest(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t, 0)

	header, err := Sign(http.MethodGet, "https://remote.social/users/bob", privateKey, "https://example.com/i/actor#main-key", nil)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if header.Get("Digest") != "" {
		t.Error("Expected no Digest header on GET")
	}
	if params := SignatureParams(header.Get("Signature")); params["headers"] != "(request-target) date host" {
		t.Errorf("Expected signed headers '(request-target) date host', got '%s'", params["headers"])
	}
}

func TestSignAndVerifyRoundtrip(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t, 0)
	publicPEM := publicKeyToPEM(publicKey)

	tests := []struct {
		name  string
		body  []byte
		keyId string
	}{
		{"create", []byte(`{"type":"Create","object":{}}`), "https://myserver.com/users/testuser#main-key"},
		{"follow", []byte(`{"type":"Follow"}`), "https://myserver.com/users/testuser#main-key"},
		{"key id without fragment", []byte(`{}`), "https://myserver.com/users/alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := signedInboxHeaders(t, privateKey, tt.keyId, tt.body)

			result, err := Verify(header, "example.com", tt.body, "/f/inbox", publicPEM)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if result.KeyId != tt.keyId {
				t.Errorf("Expected keyId '%s', got '%s'", tt.keyId, result.KeyId)
			}
			if result.DigestMismatch {
				t.Error("Expected digest to match")
			}
		})
	}
}

func TestVerifyTamperedHeaders(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t, 0)
	publicPEM := publicKeyToPEM(publicKey)
	body := []byte(`{"type":"Like"}`)

	tests := []struct {
		name   string
		mutate func(h http.Header)
		host   string
		path   string
	}{
		{
			name:   "date changed",
			mutate: func(h http.Header) { h.Set("Date", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)) },
		},
		{
			name:   "digest changed",
			mutate: func(h http.Header) { h.Set("Digest", Digest([]byte(`{"type":"Delete"}`))) },
		},
		{
			name: "signature byte flipped",
			mutate: func(h http.Header) {
				sig := h.Get("Signature")
				i := strings.Index(sig, `signature="`) + len(`signature="`)
				flipped := byte('A')
				if sig[i] == 'A' {
					flipped = 'B'
				}
				h.Set("Signature", sig[:i]+string(flipped)+sig[i+1:])
			},
		},
		{name: "other host", host: "evil.example"},
		{name: "other inbox path", path: "/u/alice/inbox"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := signedInboxHeaders(t, privateKey, "https://myserver.com/users/alice#main-key", body)
			if tt.mutate != nil {
				tt.mutate(header)
			}
			host, path := "example.com", "/f/inbox"
			if tt.host != "" {
				host = tt.host
			}
			if tt.path != "" {
				path = tt.path
			}

			_, err := Verify(header, host, body, path, publicPEM)
			var sigErr *SignatureError
			if !errors.As(err, &sigErr) {
				t.Fatalf("Expected SignatureError, got %v", err)
			}
		})
	}
}

func TestVerifyWrongKey(t *testing.T) {
	privateKey1, _ := generateTestKeyPair(t, 0)
	_, publicKey2 := generateTestKeyPair(t, 1)
	body := []byte(`{"type":"Create"}`)

	header := signedInboxHeaders(t, privateKey1, "https://myserver.com/users/alice#main-key", body)

	_, err := Verify(header, "example.com", body, "/f/inbox", publicKeyToPEM(publicKey2))
	var sigErr *SignatureError
	if !errors.As(err, &sigErr) || sigErr.Reason != ReasonInvalidSignature {
		t.Errorf("Expected invalid signature, got %v", err)
	}
}

func TestVerifyBodyMismatchIsOnlyFlagged(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t, 0)
	header := signedInboxHeaders(t, privateKey, "https://myserver.com/users/alice#main-key", []byte(`{"a":1}`))

	result, err := Verify(header, "example.com", []byte(`{"a":2}`), "/f/inbox", publicKeyToPEM(publicKey))
	if err != nil {
		t.Fatalf("Expected body mismatch to pass verification, got %v", err)
	}
	if !result.DigestMismatch {
		t.Error("Expected DigestMismatch to be set")
	}
}

func TestVerifyMissingHeaders(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t, 0)
	body := []byte(`{}`)

	for _, name := range []string{"Signature", "Date"} {
		t.Run(name, func(t *testing.T) {
			header := signedInboxHeaders(t, privateKey, "https://myserver.com/users/alice#main-key", body)
			header.Del(name)

			// an unusable key proves no key is looked at before the header check
			_, err := Verify(header, "example.com", body, "/f/inbox", "")
			var sigErr *SignatureError
			if !errors.As(err, &sigErr) || sigErr.Reason != ReasonMissingHeader {
				t.Errorf("Expected missing header rejection, got %v", err)
			}
		})
	}
}

func TestVerifyInvalidPEM(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t, 0)
	body := []byte(`{}`)
	header := signedInboxHeaders(t, privateKey, "https://myserver.com/users/alice#main-key", body)

	_, err := Verify(header, "example.com", body, "/f/inbox", "invalid PEM")
	var sigErr *SignatureError
	if !errors.As(err, &sigErr) || sigErr.Reason != ReasonUnknownKey {
		t.Errorf("Expected unknown key rejection, got %v", err)
	}
}

func TestSignatureParams(t *testing.T) {
	params := SignatureParams(`keyId="https://a.example/u/x#main-key",algorithm="rsa-sha256",headers="(request-target) host date",signature="abc,def=="`)

	if params["keyid"] != "https://a.example/u/x#main-key" {
		t.Errorf("Unexpected keyId '%s'", params["keyid"])
	}
	if params["signature"] != "abc,def==" {
		t.Errorf("Expected commas inside quotes to survive, got '%s'", params["signature"])
	}
}

func TestWithAlgorithm(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{
			"replaces hs2019",
			`keyId="k",algorithm="hs2019",headers="(request-target) date host",signature="a,b=="`,
			`keyId="k",algorithm="rsa-sha256",headers="(request-target) date host",signature="a,b=="`,
		},
		{
			"adds missing parameter",
			`keyId="k",signature="abc"`,
			`keyId="k",signature="abc",algorithm="rsa-sha256"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withAlgorithm(tt.value, "rsa-sha256"); got != tt.want {
				t.Errorf("Expected '%s', got '%s'", tt.want, got)
			}
		})
	}
}

func TestSignedHeaderAnnouncesRsaSha256AndVerifies(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t, 0)
	body := []byte(`{"type":"Like"}`)

	header, err := Sign(http.MethodPost, "https://example.com/f/inbox", privateKey, "https://myserver.com/u/alice#main-key", body)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if strings.Contains(header.Get("Signature"), "hs2019") {
		t.Errorf("Expected no hs2019 in '%s'", header.Get("Signature"))
	}

	if _, err := Verify(header, "example.com", body, "/f/inbox", publicKeyToPEM(publicKey)); err != nil {
		t.Errorf("Expected rewritten signature to verify, got %v", err)
	}
}
