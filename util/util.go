package util

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	_ "embed"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

//go:embed version.txt
var embeddedVersion string

const DefaultKeyBits = 4096

type RsaKeyPair struct {
	Private string
	Public  string
}

// Hash returns the hex encoded sha256 of the joined parts.
func Hash(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// UserAgent is sent with every federation request.
func UserAgent(domain string) string {
	return fmt.Sprintf("%s/%s (+https://%s/)", Name, GetVersion(), domain)
}

func GeneratePemKeypair() *RsaKeyPair {
	pair, err := GenerateKeyPair(DefaultKeyBits)
	if err != nil {
		panic(err)
	}
	return pair
}

// GenerateKeyPair returns a PKCS1 private key and a PKIX public key, the
// encoding other fediverse servers expect in publicKeyPem.
func GenerateKeyPair(bits int) (*RsaKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}
	return encodeKeyPair(key)
}

func encodeKeyPair(key *rsa.PrivateKey) (*RsaKeyPair, error) {
	keyPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		},
	)

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(
		&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		},
	)

	return &RsaKeyPair{Private: string(keyPEM), Public: string(pubPEM)}, nil
}

// LoadOrCreateKeyPair reads a PEM private key from path, generating and
// writing a new one when the file does not exist.
func LoadOrCreateKeyPair(path string, bits int) (*RsaKeyPair, error) {
	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		pair, err := GenerateKeyPair(bits)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(pair.Private), 0600); err != nil {
			return nil, fmt.Errorf("failed to write key to %s: %w", path, err)
		}
		return pair, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key from %s: %w", path, err)
	}

	block, _ := pem.Decode(buf)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var ok bool
			if key, ok = parsed.(*rsa.PrivateKey); !ok {
				err = fmt.Errorf("key in %s is not RSA", path)
			}
		}
	default:
		err = fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse key from %s: %w", path, err)
	}
	return encodeKeyPair(key)
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// MarkdownToHTML renders a Markdown body as the HTML remote servers display.
// Raw HTML in the source is omitted and dangerous link targets are dropped.
func MarkdownToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return strings.TrimSpace(buf.String())
}
