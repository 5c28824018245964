package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when a lookup has no match.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key (such as a remote id) already exists.
var ErrDuplicate = errors.New("duplicate")

// Instance describes the local node, everything needed to mint public URLs.
type Instance struct {
	Domain           string
	SharedInboxPath  string
	CatchAllMagazine string
}

// URL returns an absolute https URL on the local domain for the given path.
func (i Instance) URL(format string, args ...any) string {
	return fmt.Sprintf("https://%s%s", i.Domain, fmt.Sprintf(format, args...))
}

// IsLocalURL reports whether raw points at the local domain.
func (i Instance) IsLocalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, i.Domain)
}

// InstanceActorURL is the profile of the node itself, whose key signs outgoing GETs.
func (i Instance) InstanceActorURL() string {
	return i.URL("/i/actor")
}

// Actor is a federated identity, either a User or a Magazine.
// URL derivation differs per variant and per locality, callers only see the capability.
type Actor interface {
	ActorID() uuid.UUID
	ActorType() ActorType
	Handle() string
	IsLocal() bool
	ProfileURL(inst Instance) string
	InboxURL(inst Instance) string
	SharedInboxURL(inst Instance) string
	FollowersURL(inst Instance) string
	PublicKeyPem() string
	PrivateKeyPem() string

	sealed()
}

type ActorType string

const (
	ActorTypeUser     ActorType = "user"
	ActorTypeMagazine ActorType = "magazine"
)

// User is a local account or the local representation of a remote person.
type User struct {
	Id         uuid.UUID
	Username   string
	Remote     *RemoteActor // nil for local users
	PublicKey  string
	PrivateKey string
	IsBanned   bool
	DeletedAt  *time.Time
	TrashedAt  *time.Time
	CreatedAt  time.Time
}

func (u *User) ActorID() uuid.UUID   { return u.Id }
func (u *User) ActorType() ActorType { return ActorTypeUser }
func (u *User) Handle() string       { return u.Username }
func (u *User) IsLocal() bool        { return u.Remote == nil }
func (u *User) sealed()              {}

func (u *User) ProfileURL(inst Instance) string {
	if u.Remote != nil {
		return u.Remote.ProfileId
	}
	return inst.URL("/u/%s", u.Username)
}

func (u *User) InboxURL(inst Instance) string {
	if u.Remote != nil {
		return u.Remote.InboxUrl
	}
	return inst.URL("/u/%s/inbox", u.Username)
}

func (u *User) SharedInboxURL(inst Instance) string {
	if u.Remote != nil {
		return u.Remote.SharedInboxUrl
	}
	return inst.URL("%s", inst.SharedInboxPath)
}

func (u *User) FollowersURL(inst Instance) string {
	if u.Remote != nil {
		return u.Remote.FollowersUrl
	}
	return inst.URL("/u/%s/followers", u.Username)
}

func (u *User) PublicKeyPem() string {
	if u.Remote != nil {
		return u.Remote.PublicKeyPem
	}
	return u.PublicKey
}

func (u *User) PrivateKeyPem() string { return u.PrivateKey }

// Magazine is a community (ActivityPub Group), local or remote.
type Magazine struct {
	Id                      uuid.UUID
	Name                    string
	Title                   string
	Remote                  *RemoteActor
	PublicKey               string
	PrivateKey              string
	PostingRestrictedToMods bool
	CreatedAt               time.Time
}

func (m *Magazine) ActorID() uuid.UUID   { return m.Id }
func (m *Magazine) ActorType() ActorType { return ActorTypeMagazine }
func (m *Magazine) Handle() string       { return m.Name }
func (m *Magazine) IsLocal() bool        { return m.Remote == nil }
func (m *Magazine) sealed()              {}

func (m *Magazine) ProfileURL(inst Instance) string {
	if m.Remote != nil {
		return m.Remote.ProfileId
	}
	return inst.URL("/m/%s", m.Name)
}

func (m *Magazine) InboxURL(inst Instance) string {
	if m.Remote != nil {
		return m.Remote.InboxUrl
	}
	return inst.URL("/m/%s/inbox", m.Name)
}

func (m *Magazine) SharedInboxURL(inst Instance) string {
	if m.Remote != nil {
		return m.Remote.SharedInboxUrl
	}
	return inst.URL("%s", inst.SharedInboxPath)
}

func (m *Magazine) FollowersURL(inst Instance) string {
	if m.Remote != nil {
		return m.Remote.FollowersUrl
	}
	return inst.URL("/m/%s/followers", m.Name)
}

func (m *Magazine) PublicKeyPem() string {
	if m.Remote != nil {
		return m.Remote.PublicKeyPem
	}
	return m.PublicKey
}

func (m *Magazine) PrivateKeyPem() string { return m.PrivateKey }

// IsCatchAll reports whether m is the synthetic local bucket for uncategorized content.
// The catch-all magazine never federates.
func (m *Magazine) IsCatchAll(inst Instance) bool {
	return m.Remote == nil && inst.CatchAllMagazine != "" && strings.EqualFold(m.Name, inst.CatchAllMagazine)
}

// PreferredInbox returns the shared inbox of a remote actor when it has one.
func PreferredInbox(a Actor, inst Instance) string {
	if a.IsLocal() {
		return ""
	}
	if shared := a.SharedInboxURL(inst); shared != "" {
		return shared
	}
	return a.InboxURL(inst)
}
