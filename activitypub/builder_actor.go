package activitypub

import (
	"github.com/deemkeen/fedimag/domain"
)

const securityContext = "https://w3id.org/security/v1"

// ActorObject returns the profile document served for a local user or magazine.
func (b *Builder) ActorObject(a domain.Actor) *ActorDocument {
	inst := b.inst
	profile := a.ProfileURL(inst)

	doc := &ActorDocument{
		Context:           []any{ActivityStreamsContext, securityContext, inst.URL(ExtensionContextPath)},
		ID:                profile,
		PreferredUsername: a.Handle(),
		Name:              a.Handle(),
		Inbox:             a.InboxURL(inst),
		Outbox:            profile + "/outbox",
		Followers:         a.FollowersURL(inst),
		URL:               profile,
	}
	doc.Endpoints = &ActorEndpoints{SharedInbox: a.SharedInboxURL(inst)}
	doc.PublicKey.ID = KeyId(profile)
	doc.PublicKey.Owner = profile
	doc.PublicKey.PublicKeyPem = a.PublicKeyPem()

	switch actor := a.(type) {
	case *domain.User:
		doc.Type = "Person"
		doc.Following = profile + "/following"
		doc.Published = formatTime(actor.CreatedAt)
	case *domain.Magazine:
		doc.Type = "Group"
		if actor.Title != "" {
			doc.Name = actor.Title
		}
		doc.Moderators = profile + "/moderators"
		doc.Featured = profile + "/pinned"
		doc.PostingRestrictedToMods = actor.PostingRestrictedToMods
		doc.Published = formatTime(actor.CreatedAt)
	}
	return doc
}

// InstanceActor is the Application actor whose key signs outgoing fetches.
func (b *Builder) InstanceActor(publicKeyPem string) *ActorDocument {
	inst := b.inst
	profile := inst.InstanceActorURL()

	doc := &ActorDocument{
		Context:           []any{ActivityStreamsContext, securityContext},
		ID:                profile,
		Type:              "Application",
		PreferredUsername: inst.Domain,
		Name:              inst.Domain,
		Inbox:             inst.URL("%s", inst.SharedInboxPath),
		Outbox:            profile + "/outbox",
		URL:               inst.URL("/"),
	}
	doc.Endpoints = &ActorEndpoints{SharedInbox: inst.URL("%s", inst.SharedInboxPath)}
	doc.PublicKey.ID = KeyId(profile)
	doc.PublicKey.Owner = profile
	doc.PublicKey.PublicKeyPem = publicKeyPem
	return doc
}

// ModeratorsCollectionURL is the Add/Remove target for moderator changes.
func ModeratorsCollectionURL(inst domain.Instance, m *domain.Magazine) string {
	return m.ProfileURL(inst) + "/moderators"
}

// PinnedCollectionURL is the Add/Remove target for pinned entries.
func PinnedCollectionURL(inst domain.Instance, m *domain.Magazine) string {
	return m.ProfileURL(inst) + "/pinned"
}
