package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testInboxPath = "/f/inbox"

func newTestValidator(t *testing.T) (*Validator, *fakeFetcher, *Metrics) {
	t.Helper()
	fetcher := newFakeFetcher()
	_, pub := generateTestKeyPair(t, 0)
	fetcher.actors[remoteProfile] = personDocument(remoteProfile, publicKeyToPEM(pub))
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewValidator(fetcher, metrics, zaptest.NewLogger(t)), fetcher, metrics
}

func activityBody(t *testing.T, activity map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(activity)
	require.NoError(t, err)
	return body
}

func createActivity(actor, id, object string) map[string]any {
	return map[string]any{
		"id":     id,
		"type":   "Create",
		"actor":  actor,
		"object": map[string]any{"id": object, "type": "Note"},
	}
}

func requireReason(t *testing.T, err error, want SignatureReason) {
	t.Helper()
	var se *SignatureError
	require.True(t, errors.As(err, &se), "expected signature error, got %v", err)
	assert.Equal(t, want, se.Reason)
}

func TestValidateAcceptsSignedRequest(t *testing.T) {
	v, _, _ := newTestValidator(t)
	key, _ := generateTestKeyPair(t, 0)
	body := activityBody(t, createActivity(remoteProfile, "https://remote.example/a/1", "https://remote.example/notes/1"))
	header := signedInboxHeaders(t, key, KeyId(remoteProfile), body)

	doc, err := v.Validate(context.Background(), header, "example.com", body, testInboxPath)
	require.NoError(t, err)
	assert.Equal(t, remoteProfile, doc.ID)
}

func TestValidateAcceptsAnnounceOfForeignObject(t *testing.T) {
	v, _, _ := newTestValidator(t)
	key, _ := generateTestKeyPair(t, 0)
	body := activityBody(t, map[string]any{
		"id":     "https://remote.example/announces/1",
		"type":   "Announce",
		"actor":  remoteProfile,
		"object": "https://origin.example/notes/5",
	})
	header := signedInboxHeaders(t, key, KeyId(remoteProfile), body)

	_, err := v.Validate(context.Background(), header, "example.com", body, testInboxPath)
	assert.NoError(t, err)
}

func TestValidateRejections(t *testing.T) {
	key, _ := generateTestKeyPair(t, 0)
	other, _ := generateTestKeyPair(t, 1)

	cases := []struct {
		name   string
		header func(body []byte) http.Header
		body   map[string]any
		reason SignatureReason
	}{
		{
			name:   "missing signature",
			header: func([]byte) http.Header { return http.Header{"Date": []string{"Mon, 01 Jan 2024 00:00:00 GMT"}} },
			body:   createActivity(remoteProfile, "https://remote.example/a/1", "https://remote.example/notes/1"),
			reason: ReasonMissingHeader,
		},
		{
			name: "missing date",
			header: func(body []byte) http.Header {
				h := signedInboxHeaders(t, key, KeyId(remoteProfile), body)
				h.Del("Date")
				return h
			},
			body:   createActivity(remoteProfile, "https://remote.example/a/1", "https://remote.example/notes/1"),
			reason: ReasonMissingHeader,
		},
		{
			name: "no key id",
			header: func([]byte) http.Header {
				return http.Header{
					"Signature": []string{`algorithm="rsa-sha256",signature="abc"`},
					"Date":      []string{"Mon, 01 Jan 2024 00:00:00 GMT"},
				}
			},
			body:   createActivity(remoteProfile, "https://remote.example/a/1", "https://remote.example/notes/1"),
			reason: ReasonMalformedHeader,
		},
		{
			name: "plain http key",
			header: func(body []byte) http.Header {
				return signedInboxHeaders(t, key, "http://remote.example/users/bob#main-key", body)
			},
			body:   createActivity(remoteProfile, "https://remote.example/a/1", "https://remote.example/notes/1"),
			reason: ReasonNotHTTPS,
		},
		{
			name: "plain http actor",
			header: func(body []byte) http.Header {
				return signedInboxHeaders(t, key, KeyId(remoteProfile), body)
			},
			body:   createActivity("http://remote.example/users/bob", "https://remote.example/a/1", "https://remote.example/notes/1"),
			reason: ReasonNotHTTPS,
		},
		{
			name: "actor on another host",
			header: func(body []byte) http.Header {
				return signedInboxHeaders(t, key, KeyId(remoteProfile), body)
			},
			body:   createActivity("https://elsewhere.example/users/bob", "https://remote.example/a/1", "https://remote.example/notes/1"),
			reason: ReasonDomainMismatch,
		},
		{
			name: "id on another host",
			header: func(body []byte) http.Header {
				return signedInboxHeaders(t, key, KeyId(remoteProfile), body)
			},
			body:   createActivity(remoteProfile, "https://elsewhere.example/a/1", "https://remote.example/notes/1"),
			reason: ReasonDomainMismatch,
		},
		{
			name: "created object on another host",
			header: func(body []byte) http.Header {
				return signedInboxHeaders(t, key, KeyId(remoteProfile), body)
			},
			body:   createActivity(remoteProfile, "https://remote.example/a/1", "https://elsewhere.example/notes/1"),
			reason: ReasonDomainMismatch,
		},
		{
			name: "unknown key",
			header: func(body []byte) http.Header {
				return signedInboxHeaders(t, key, KeyId("https://remote.example/users/carol"), body)
			},
			body:   createActivity("https://remote.example/users/carol", "https://remote.example/a/1", "https://remote.example/notes/1"),
			reason: ReasonUnknownKey,
		},
		{
			name: "signed by another key",
			header: func(body []byte) http.Header {
				return signedInboxHeaders(t, other, KeyId(remoteProfile), body)
			},
			body:   createActivity(remoteProfile, "https://remote.example/a/1", "https://remote.example/notes/1"),
			reason: ReasonInvalidSignature,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, _, metrics := newTestValidator(t)
			body := activityBody(t, tc.body)

			_, err := v.Validate(context.Background(), tc.header(body), "example.com", body, testInboxPath)
			requireReason(t, err, tc.reason)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SignatureRejections.WithLabelValues(string(tc.reason))))
		})
	}
}

func TestValidateWrongInboxPath(t *testing.T) {
	v, _, _ := newTestValidator(t)
	key, _ := generateTestKeyPair(t, 0)
	body := activityBody(t, createActivity(remoteProfile, "https://remote.example/a/1", "https://remote.example/notes/1"))
	header := signedInboxHeaders(t, key, KeyId(remoteProfile), body)

	_, err := v.Validate(context.Background(), header, "example.com", body, "/u/alice/inbox")
	requireReason(t, err, ReasonInvalidSignature)
}

func TestValidateToleratesDigestMismatch(t *testing.T) {
	v, _, _ := newTestValidator(t)
	key, _ := generateTestKeyPair(t, 0)
	body := activityBody(t, createActivity(remoteProfile, "https://remote.example/a/1", "https://remote.example/notes/1"))
	header := signedInboxHeaders(t, key, KeyId(remoteProfile), []byte(`{"other":"body"}`))

	_, err := v.Validate(context.Background(), header, "example.com", body, testInboxPath)
	assert.NoError(t, err)
}

func TestValidateRejectsInvalidJSON(t *testing.T) {
	v, fetcher, _ := newTestValidator(t)
	key, _ := generateTestKeyPair(t, 0)
	body := []byte(`{not json`)
	header := signedInboxHeaders(t, key, KeyId(remoteProfile), body)

	_, err := v.Validate(context.Background(), header, "example.com", body, testInboxPath)
	require.Error(t, err)
	var se *SignatureError
	assert.False(t, errors.As(err, &se))
	assert.Zero(t, fetcher.calls)
}
