package activitypub

import (
	"net/url"
	"strings"

	"github.com/deemkeen/fedimag/domain"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	PublicAudience         = "https://www.w3.org/ns/activitystreams#Public"

	ContentTypeActivity = "application/activity+json"
	ContentTypeLD       = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	ContentTypeJRD      = "application/jrd+json"

	acceptActivity = "application/activity+json, application/ld+json"
)

// ExtensionContextPath is the locally hosted vocabulary extension.
const ExtensionContextPath = "/contexts"

// Context is the @context every outbound document carries.
func Context(inst domain.Instance) []any {
	return []any{ActivityStreamsContext, inst.URL(ExtensionContextPath)}
}

// IsPublic reports whether v is one of the spellings of the public collection.
func IsPublic(v string) bool {
	return v == PublicAudience || v == "as:Public" || v == "Public"
}

// KeyId returns the id of the main key of an actor profile.
func KeyId(profileURL string) string {
	return profileURL + "#main-key"
}

// StripFragment removes the #fragment of a key id.
func StripFragment(raw string) string {
	base, _, _ := strings.Cut(raw, "#")
	return base
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func isHTTPS(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme == "https" && u.Host != ""
}

// ExtensionContext is the JSON-LD document served at ExtensionContextPath.
func ExtensionContext() map[string]any {
	return map[string]any{
		"@context": map[string]any{
			"as":        "https://www.w3.org/ns/activitystreams#",
			"lemmy":     "https://join-lemmy.org/ns#",
			"toot":      "http://joinmastodon.org/ns#",
			"schema":    "http://schema.org#",
			"Hashtag":   "as:Hashtag",
			"sensitive": "as:sensitive",
			"moderators": map[string]any{
				"@id":   "lemmy:moderators",
				"@type": "@id",
			},
			"featured": map[string]any{
				"@id":   "toot:featured",
				"@type": "@id",
			},
			"postingRestrictedToMods": "lemmy:postingRestrictedToMods",
			"votersCount":             "toot:votersCount",
		},
	}
}
