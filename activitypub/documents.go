package activitypub

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/fedimag/domain"
)

// ActorDocument represents the JSON structure of an ActivityPub actor
type ActorDocument struct {
	Context           any    `json:"@context,omitempty"`
	ID                string `json:"id"`
	Type              string `json:"type"`
	PreferredUsername string `json:"preferredUsername"`
	Name              string `json:"name,omitempty"`
	Summary           string `json:"summary,omitempty"`
	Inbox             string `json:"inbox"`
	Outbox            string `json:"outbox,omitempty"`
	Followers         string `json:"followers,omitempty"`
	Following         string `json:"following,omitempty"`
	Featured          string `json:"featured,omitempty"`
	Moderators        string `json:"moderators,omitempty"`
	URL               string `json:"url,omitempty"`
	Published         string `json:"published,omitempty"`

	Endpoints *ActorEndpoints `json:"endpoints,omitempty"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	PostingRestrictedToMods bool `json:"postingRestrictedToMods,omitempty"`
}

type ActorEndpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

func decodeActor(body []byte) (*ActorDocument, error) {
	var actor ActorDocument
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}
	return &actor, nil
}

func (a *ActorDocument) SharedInbox() string {
	if a.Endpoints == nil {
		return ""
	}
	return a.Endpoints.SharedInbox
}

// IsGroup reports whether the actor is a community rather than a person.
func (a *ActorDocument) IsGroup() bool {
	return a.Type == "Group"
}

// RemoteActor copies the document onto a cache record, keeping the
// identity of an existing record.
func (a *ActorDocument) RemoteActor(existing *domain.RemoteActor) *domain.RemoteActor {
	r := existing
	if r == nil {
		r = &domain.RemoteActor{}
	}
	r.ProfileId = a.ID
	r.Type = a.Type
	r.Username = a.PreferredUsername
	r.PublicKeyPem = a.PublicKey.PublicKeyPem
	r.InboxUrl = a.Inbox
	r.SharedInboxUrl = a.SharedInbox()
	r.FollowersUrl = a.Followers
	return r
}

// Collection is an OrderedCollection or Collection page.
type Collection struct {
	Context      any    `json:"@context,omitempty"`
	ID           string `json:"id"`
	Type         string `json:"type"`
	TotalItems   int    `json:"totalItems"`
	First        any    `json:"first,omitempty"`
	Next         string `json:"next,omitempty"`
	Items        []any  `json:"items,omitempty"`
	OrderedItems []any  `json:"orderedItems,omitempty"`
}

// ItemIDs returns the ids of the inline items of the collection.
func (c *Collection) ItemIDs() []string {
	items := c.OrderedItems
	if len(items) == 0 {
		items = c.Items
	}
	return idList(items)
}

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

type Webfinger struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebfingerLink `json:"links"`
}

// SelfLink returns the ActivityPub profile the record points at.
func (w *Webfinger) SelfLink() string {
	for _, l := range w.Links {
		if l.Rel == "self" && (l.Type == ContentTypeActivity || l.Type == ContentTypeLD || l.Type == "application/ld+json") {
			return l.Href
		}
	}
	return ""
}
