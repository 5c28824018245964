package activitypub

import (
	"context"

	"github.com/deemkeen/fedimag/domain"
	"github.com/google/uuid"
)

// Lookups are expected to return domain.ErrNotFound when nothing matches.

type UserRepository interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	FindUserByProfileURL(ctx context.Context, profileURL string) (*domain.User, error)
	SaveUser(ctx context.Context, u *domain.User) error
}

type FollowRepository interface {
	// FollowerInboxes returns the preferred inbox of every remote follower.
	FollowerInboxes(ctx context.Context, actor domain.Actor) ([]string, error)
	AddFollower(ctx context.Context, followed domain.Actor, follower *domain.User) error
	RemoveFollower(ctx context.Context, followed domain.Actor, follower *domain.User) error
}

type MagazineRepository interface {
	FindMagazineByID(ctx context.Context, id uuid.UUID) (*domain.Magazine, error)
	FindMagazineByName(ctx context.Context, name string) (*domain.Magazine, error)
	FindMagazineByProfileURL(ctx context.Context, profileURL string) (*domain.Magazine, error)
	// SubscriberInboxes returns the preferred inbox of every remote subscriber.
	SubscriberInboxes(ctx context.Context, m *domain.Magazine) ([]string, error)
	ModeratorInboxes(ctx context.Context, m *domain.Magazine) ([]string, error)
	IsModerator(ctx context.Context, m *domain.Magazine, u *domain.User) (bool, error)
	SaveMagazine(ctx context.Context, m *domain.Magazine) error
}

type ContentRepository interface {
	FindContent(ctx context.Context, kind domain.ContentKind, id uuid.UUID) (*domain.Content, error)
	FindContentByApID(ctx context.Context, apId string) (*domain.Content, error)
	// SaveContent returns domain.ErrDuplicate when the remote id is taken.
	SaveContent(ctx context.Context, c *domain.Content) error
}

type ActivityRepository interface {
	// SaveActivity stores a. A remote activity stored before keeps its UUID,
	// which is written back to a.
	SaveActivity(ctx context.Context, a *domain.Activity) error
	FindActivity(ctx context.Context, id uuid.UUID) (*domain.Activity, error)
	// StoreCachedJSON persists the first built document. Later calls for the
	// same activity must not overwrite it.
	StoreCachedJSON(ctx context.Context, id uuid.UUID, doc []byte) error
}

type RemoteActorStore interface {
	FindRemoteActor(ctx context.Context, profileURL string) (*domain.RemoteActor, error)
	// FindRemoteActorByInbox matches the personal inbox, shared inboxes serve many actors.
	FindRemoteActorByInbox(ctx context.Context, inbox string) (*domain.RemoteActor, error)
	UpsertRemoteActor(ctx context.Context, r *domain.RemoteActor) error
	// MarkRemoteActor applies m to the record for profileURL, if there is one.
	MarkRemoteActor(ctx context.Context, profileURL string, m domain.Marker) error
}

type InstancePolicy interface {
	IsBannedInstance(ctx context.Context, host string) (bool, error)
	IsBannedTag(ctx context.Context, tag string) (bool, error)
}

// FederationToggle reports whether federation is switched on right now.
type FederationToggle func() bool

// Fetcher is the read side of the remote client.
type Fetcher interface {
	GetActorObject(ctx context.Context, profileURL string) (*ActorDocument, error)
	GetObject(ctx context.Context, rawURL string) (map[string]any, error)
}

// Poster delivers a signed activity to a remote inbox.
type Poster interface {
	Post(ctx context.Context, inbox string, actor domain.Actor, body []byte) error
}
