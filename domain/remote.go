package domain

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// RemoteActor is the local cache of a remote identity's key material and endpoints.
type RemoteActor struct {
	Id             uuid.UUID
	ProfileId      string
	Type           string // Person, Group, Service, Application
	Username       string
	PublicKeyPem   string
	InboxUrl       string
	SharedInboxUrl string
	FollowersUrl   string
	LastFetchedAt  time.Time
	DeletedAt      *time.Time
	TimeoutAt      *time.Time
}

// Domain returns the host part of the profile URL.
func (r *RemoteActor) Domain() string {
	u, err := url.Parse(r.ProfileId)
	if err != nil {
		return ""
	}
	return u.Host
}

// Handle returns user@domain.
func (r *RemoteActor) Handle() string {
	return r.Username + "@" + r.Domain()
}

// Unavailable reports whether a negative-result marker is set.
func (r *RemoteActor) Unavailable() bool {
	return r.DeletedAt != nil || r.TimeoutAt != nil
}

// MarkerKind classifies a negative-result marker.
type MarkerKind string

const (
	MarkerNone    MarkerKind = ""
	MarkerTimeout MarkerKind = "timeout"
	MarkerDeleted MarkerKind = "deleted"
	// MarkerClear wipes previous markers after a successful fetch.
	MarkerClear MarkerKind = "clear"
)

// Marker is an instruction produced by a fetch for the remote actor record.
type Marker struct {
	Kind MarkerKind
	At   time.Time
}

// Apply mutates r according to the marker.
func (m Marker) Apply(r *RemoteActor) {
	switch m.Kind {
	case MarkerTimeout:
		at := m.At
		r.TimeoutAt = &at
	case MarkerDeleted:
		at := m.At
		r.DeletedAt = &at
	case MarkerClear:
		r.TimeoutAt = nil
		r.DeletedAt = nil
		r.LastFetchedAt = m.At
	}
}
