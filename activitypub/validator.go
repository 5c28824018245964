package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Validator authenticates inbound inbox requests.
type Validator struct {
	fetcher Fetcher
	metrics *Metrics
	log     *zap.Logger
}

func NewValidator(fetcher Fetcher, metrics *Metrics, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{fetcher: fetcher, metrics: metrics, log: log.Named("validator")}
}

// Validate checks the HTTP signature of a request received on inboxPath and
// returns the document of the signing actor. The key, the actor and the
// activity id must live on the same https host. Create, Update and Delete
// must also carry an object of that host, an Announce may relay any object.
func (v *Validator) Validate(ctx context.Context, header http.Header, host string, body []byte, inboxPath string) (*ActorDocument, error) {
	actor, err := v.validate(ctx, header, host, body, inboxPath)
	if err != nil {
		var se *SignatureError
		if errors.As(err, &se) {
			v.metrics.rejection(se.Reason)
			v.log.Info("Validator: Request rejected",
				zap.String("reason", string(se.Reason)),
				zap.String("detail", se.Detail))
		}
		return nil, err
	}
	return actor, nil
}

func (v *Validator) validate(ctx context.Context, header http.Header, host string, body []byte, inboxPath string) (*ActorDocument, error) {
	if header.Get("Signature") == "" {
		return nil, signatureError(ReasonMissingHeader, "Signature", nil)
	}
	if header.Get("Date") == "" {
		return nil, signatureError(ReasonMissingHeader, "Date", nil)
	}

	keyId := SignatureParams(header.Get("Signature"))["keyid"]
	if keyId == "" {
		return nil, signatureError(ReasonMalformedHeader, "keyId", nil)
	}
	if !isHTTPS(keyId) {
		return nil, signatureError(ReasonNotHTTPS, keyId, nil)
	}

	var activity map[string]any
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}
	actorURL := idOf(activity["actor"])
	if !isHTTPS(actorURL) {
		return nil, signatureError(ReasonNotHTTPS, "actor "+actorURL, nil)
	}
	origin := hostOf(keyId)
	if hostOf(actorURL) != origin {
		return nil, signatureError(ReasonDomainMismatch, fmt.Sprintf("key %s signs for %s", keyId, actorURL), nil)
	}
	if id := idOf(activity); id != "" {
		if !isHTTPS(id) {
			return nil, signatureError(ReasonNotHTTPS, "id "+id, nil)
		}
		if hostOf(id) != origin {
			return nil, signatureError(ReasonDomainMismatch, "id "+id, nil)
		}
	}
	switch str(activity, "type") {
	case "Create", "Update", "Delete":
		if object := idOf(activity["object"]); object != "" && hostOf(object) != origin {
			return nil, signatureError(ReasonDomainMismatch, "object "+object, nil)
		}
	}

	doc, err := v.fetcher.GetActorObject(ctx, StripFragment(keyId))
	if err != nil {
		return nil, signatureError(ReasonUnknownKey, keyId, err)
	}

	res, err := Verify(header, host, body, inboxPath, doc.PublicKey.PublicKeyPem)
	if err != nil {
		return nil, err
	}
	if res.DigestMismatch {
		v.log.Warn("Validator: Digest does not match body", zap.String("keyId", keyId))
	}
	return doc, nil
}
