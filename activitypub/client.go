package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/fedimag/cache"
	"github.com/deemkeen/fedimag/domain"
	"github.com/deemkeen/fedimag/util"
	"go.uber.org/zap"
)

const (
	ActorTTL         = time.Hour
	ObjectTTL        = time.Hour
	WebfingerTTL     = time.Hour
	CollectionTTL    = 24 * time.Hour
	DeliveryDedupTTL = 45 * time.Minute
	// NegativeTTL is how long a failed actor fetch keeps answering from cache.
	NegativeTTL = time.Hour

	DefaultRequestTimeout = 5 * time.Second

	maxDocumentSize = 5 << 20
)

// Client fetches and caches remote documents and delivers activities.
// It is safe for concurrent use.
type Client struct {
	inst        domain.Instance
	instanceKey *rsa.PrivateKey
	cache       cache.Store
	remotes     RemoteActorStore
	http        *http.Client
	timeout     time.Duration
	userAgent   string
	now         func() time.Time
	metrics     *Metrics
	log         *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient signs every GET with instanceKey, the key of the instance actor.
func NewClient(inst domain.Instance, instanceKey *rsa.PrivateKey, store cache.Store, remotes RemoteActorStore, log *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		inst:        inst,
		instanceKey: instanceKey,
		cache:       store,
		remotes:     remotes,
		http:        &http.Client{},
		timeout:     DefaultRequestTimeout,
		userAgent:   util.UserAgent(inst.Domain),
		now:         time.Now,
		log:         log.Named("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(kind string, parts ...string) string {
	return "ap_" + kind + ":" + util.Hash(parts...)
}

// actorFetch is the outcome of one network fetch of an actor. The marker is
// the instruction for the remote actor record and is applied by the caller.
type actorFetch struct {
	doc    *ActorDocument
	body   []byte
	marker domain.Marker
	err    error
}

// GetActorObject returns the actor document at profileURL.
// A failed fetch is remembered for NegativeTTL and reported as
// ErrActorUnavailable without touching the network.
func (c *Client) GetActorObject(ctx context.Context, profileURL string) (*ActorDocument, error) {
	key := cacheKey("actor", profileURL)
	if data, ok := c.cached(ctx, key); ok {
		if doc, err := decodeActor(data); err == nil {
			c.metrics.fetch("actor", "hit")
			return doc, nil
		}
	}
	if _, ok := c.cached(ctx, cacheKey("actor_gone", profileURL)); ok {
		c.metrics.fetch("actor", "negative")
		return nil, fmt.Errorf("%w: %s", ErrActorUnavailable, profileURL)
	}

	res := c.fetchActor(ctx, profileURL)
	if err := c.applyMarker(ctx, profileURL, res); err != nil {
		c.log.Warn("Client: Failed to update remote actor record", zap.String("actor", profileURL), zap.Error(err))
	}
	if res.err != nil {
		c.metrics.fetch("actor", "error")
		if res.marker.Kind == domain.MarkerTimeout || res.marker.Kind == domain.MarkerDeleted {
			c.store(ctx, cacheKey("actor_gone", profileURL), []byte(res.marker.Kind), NegativeTTL)
		}
		return nil, res.err
	}

	c.metrics.fetch("actor", "ok")
	c.store(ctx, key, res.body, ActorTTL)
	return res.doc, nil
}

func (c *Client) fetchActor(ctx context.Context, profileURL string) actorFetch {
	body, status, err := c.get(ctx, profileURL, acceptActivity)
	if err != nil {
		return actorFetch{
			marker: domain.Marker{Kind: domain.MarkerTimeout, At: c.now()},
			err:    &FetchError{URL: profileURL, Marker: domain.MarkerTimeout, Err: err},
		}
	}
	if status >= 400 && status < 500 {
		return actorFetch{
			marker: domain.Marker{Kind: domain.MarkerDeleted, At: c.now()},
			err:    &FetchError{URL: profileURL, Status: status, Marker: domain.MarkerDeleted},
		}
	}
	if status < 200 || status >= 300 {
		return actorFetch{err: &FetchError{URL: profileURL, Status: status}}
	}

	doc, err := decodeActor(body)
	if err != nil {
		return actorFetch{err: &FetchError{URL: profileURL, Status: status, Err: err}}
	}
	if hostOf(doc.ID) != hostOf(profileURL) {
		return actorFetch{err: &FetchError{URL: profileURL, Status: status, Err: fmt.Errorf("actor id %s is not on the requested host", doc.ID)}}
	}
	return actorFetch{
		doc:    doc,
		body:   body,
		marker: domain.Marker{Kind: domain.MarkerClear, At: c.now()},
	}
}

// applyMarker writes the outcome of a fetch back onto the remote actor record.
// Only successful fetches create records.
func (c *Client) applyMarker(ctx context.Context, profileURL string, res actorFetch) error {
	if c.remotes == nil || res.marker.Kind == domain.MarkerNone {
		return nil
	}
	if res.doc == nil {
		return c.remotes.MarkRemoteActor(ctx, profileURL, res.marker)
	}

	existing, err := c.remotes.FindRemoteActor(ctx, res.doc.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	record := res.doc.RemoteActor(existing)
	res.marker.Apply(record)
	return c.remotes.UpsertRemoteActor(ctx, record)
}

// GetCollectionObject fetches a collection, cached for a day.
func (c *Client) GetCollectionObject(ctx context.Context, rawURL string) (*Collection, error) {
	data, err := c.getCached(ctx, "collection", rawURL, acceptActivity, CollectionTTL, false)
	if err != nil {
		return nil, err
	}
	var coll Collection
	if err := json.Unmarshal(data, &coll); err != nil {
		return nil, fmt.Errorf("failed to parse collection JSON: %w", err)
	}
	return &coll, nil
}

// GetObject fetches any remote object. A 410 carrying a Tombstone is a
// valid answer.
func (c *Client) GetObject(ctx context.Context, rawURL string) (map[string]any, error) {
	data, err := c.getCached(ctx, "object", rawURL, acceptActivity, ObjectTTL, true)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse object JSON: %w", err)
	}
	return doc, nil
}

func (c *Client) GetWebfinger(ctx context.Context, rawURL string) (*Webfinger, error) {
	data, err := c.getCached(ctx, "webfinger", rawURL, ContentTypeJRD, WebfingerTTL, false)
	if err != nil {
		return nil, err
	}
	var wf Webfinger
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse webfinger JSON: %w", err)
	}
	return &wf, nil
}

// ResolveHandle turns user@host into the profile URL of the actor.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	user, host, ok := strings.Cut(strings.TrimPrefix(handle, "@"), "@")
	if !ok || user == "" || host == "" {
		return "", fmt.Errorf("invalid handle %q", handle)
	}

	resource := fmt.Sprintf("acct:%s@%s", user, host)
	wfURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", host, url.QueryEscape(resource))
	wf, err := c.GetWebfinger(ctx, wfURL)
	if err != nil {
		return "", err
	}
	profile := wf.SelfLink()
	if profile == "" {
		return "", fmt.Errorf("webfinger for %s has no self link", handle)
	}
	return profile, nil
}

func (c *Client) getCached(ctx context.Context, kind, rawURL, accept string, ttl time.Duration, allowTombstone bool) ([]byte, error) {
	key := cacheKey(kind, rawURL)
	if data, ok := c.cached(ctx, key); ok {
		c.metrics.fetch(kind, "hit")
		return data, nil
	}

	body, status, err := c.get(ctx, rawURL, accept)
	if err != nil {
		c.metrics.fetch(kind, "error")
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	ok := status >= 200 && status < 300
	if !ok && allowTombstone && status == http.StatusGone && isTombstone(body) {
		ok = true
	}
	if !ok {
		c.metrics.fetch(kind, "error")
		return nil, &FetchError{URL: rawURL, Status: status}
	}

	c.metrics.fetch(kind, "ok")
	c.store(ctx, key, body, ttl)
	return body, nil
}

func isTombstone(body []byte) bool {
	var doc struct {
		Type string `json:"type"`
	}
	return json.Unmarshal(body, &doc) == nil && doc.Type == "Tombstone"
}

// get issues a GET signed with the instance key.
func (c *Client) get(ctx context.Context, rawURL, accept string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	if c.instanceKey != nil {
		if err := SignRequest(req, c.instanceKey, KeyId(c.inst.InstanceActorURL()), nil); err != nil {
			return nil, 0, err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// Post delivers body to inbox signed with the key of actor.
// A delivery of the same activity to the same inbox within DeliveryDedupTTL
// is a no-op. The inbox is claimed before the request goes out, so of two
// concurrent deliveries only one reaches the remote server. A failed delivery
// releases its claim.
func (c *Client) Post(ctx context.Context, inbox string, actor domain.Actor, body []byte) error {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to read activity id: %w", err)
	}

	dedupKey := cacheKey("deliver", inbox, envelope.ID)
	claimed, err := c.cache.SetNX(ctx, dedupKey, []byte("1"), DeliveryDedupTTL)
	if err != nil {
		// deliver without dedup rather than not at all
		c.log.Warn("Client: Cache claim failed", zap.String("key", dedupKey), zap.Error(err))
	}
	if err == nil && !claimed {
		c.metrics.delivery("duplicate")
		c.log.Debug("Client: Skipping duplicate delivery", zap.String("inbox", inbox), zap.String("activity", envelope.ID))
		return nil
	}

	if err := c.deliver(ctx, inbox, actor, body); err != nil {
		if claimed {
			c.release(dedupKey)
		}
		return err
	}
	c.log.Debug("Client: Delivered activity", zap.String("inbox", inbox), zap.String("activity", envelope.ID))
	return nil
}

func (c *Client) deliver(ctx context.Context, inbox string, actor domain.Actor, body []byte) error {
	if c.remotes != nil {
		record, err := c.remotes.FindRemoteActorByInbox(ctx, inbox)
		if err == nil && record.DeletedAt != nil {
			c.metrics.delivery("dead")
			c.log.Warn("Client: Skipping delivery to deleted actor", zap.String("inbox", inbox))
			return fmt.Errorf("%w: %s", ErrActorUnavailable, inbox)
		}
	}

	privateKey, err := ParsePrivateKey(actor.PrivateKeyPem())
	if err != nil {
		return fmt.Errorf("failed to parse private key of %s: %w", actor.Handle(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeActivity)
	req.Header.Set("Accept", ContentTypeActivity)
	req.Header.Set("User-Agent", c.userAgent)

	if err := SignRequest(req, privateKey, KeyId(actor.ProfileURL(c.inst)), body); err != nil {
		return err
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.delivery("error")
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.deliveryTime(c.now().Sub(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.delivery("failed")
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{Inbox: inbox, Status: resp.StatusCode, Body: string(snippet)}
	}

	c.metrics.delivery("ok")
	return nil
}

// release drops a delivery claim. It uses its own context, the caller's may
// be the one that just expired.
func (c *Client) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.cache.Delete(ctx, key); err != nil {
		c.log.Warn("Client: Cache release failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Client) cached(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("Client: Cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, ok
}

func (c *Client) store(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.cache.Set(ctx, key, value, ttl); err != nil {
		c.log.Warn("Client: Cache write failed", zap.String("key", key), zap.Error(err))
	}
}
