package domain

import (
	"time"

	"github.com/google/uuid"
)

type ActivityKind string

const (
	Create   ActivityKind = "Create"
	Update   ActivityKind = "Update"
	Delete   ActivityKind = "Delete"
	Follow   ActivityKind = "Follow"
	Accept   ActivityKind = "Accept"
	Reject   ActivityKind = "Reject"
	Undo     ActivityKind = "Undo"
	Announce ActivityKind = "Announce"
	Like     ActivityKind = "Like"
	Add      ActivityKind = "Add"
	Remove   ActivityKind = "Remove"
	Flag     ActivityKind = "Flag"
	Block    ActivityKind = "Block"
)

// Object is the closed set of things an activity can point at.
type Object interface {
	objectVariant()
}

// ContentObject wraps a local or federated content entity.
type ContentObject struct{ Content *Content }

// ActorObject wraps a user or magazine.
type ActorObject struct{ Actor Actor }

// URLObject is a bare remote identifier.
type URLObject struct{ URL string }

// ActivityObject embeds another activity, as wrapped by Undo, Announce, Accept and Reject.
type ActivityObject struct{ Activity *Activity }

func (ContentObject) objectVariant()  {}
func (ActorObject) objectVariant()    {}
func (URLObject) objectVariant()      {}
func (ActivityObject) objectVariant() {}

// Activity is one federation event.
type Activity struct {
	UUID       uuid.UUID
	ApId       string // set when the activity originated remotely
	Kind       ActivityKind
	Actor      Actor
	Object     Object
	Target     string
	Audience   *Magazine
	Summary    string
	Expires    *time.Time
	CachedJSON []byte
	CreatedAt  time.Time
}

func NewActivity(kind ActivityKind, actor Actor, object Object) *Activity {
	return &Activity{
		UUID:      uuid.New(),
		Kind:      kind,
		Actor:     actor,
		Object:    object,
		CreatedAt: time.Now().UTC(),
	}
}

// URL returns the public id of the activity.
func (a *Activity) URL(inst Instance) string {
	if a.ApId != "" {
		return a.ApId
	}
	return inst.URL("/activities/%s", a.UUID)
}

// InnerActivity returns the wrapped sibling activity, if any.
func (a *Activity) InnerActivity() *Activity {
	if o, ok := a.Object.(ActivityObject); ok {
		return o.Activity
	}
	return nil
}

// InnerActivityURL returns the wrapped remote activity id for Undo and Announce of a URL.
func (a *Activity) InnerActivityURL() string {
	if a.Kind != Undo && a.Kind != Announce {
		return ""
	}
	if o, ok := a.Object.(URLObject); ok {
		return o.URL
	}
	return ""
}
