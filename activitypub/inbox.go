package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"github.com/deemkeen/fedimag/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Activity is the envelope of an inbound activity.
type Activity struct {
	Context any    `json:"@context"`
	ID      string `json:"id"`
	Type    string `json:"type"`
	Actor   any    `json:"actor"`
	Object  any    `json:"object"`
}

// ActorURL returns the id of the sending actor.
func (a *Activity) ActorURL() string { return idOf(a.Actor) }

// InboxDeps are the collaborators of the inbox processor.
type InboxDeps struct {
	Instance   domain.Instance
	Normalizer *Normalizer
	Follows    FollowRepository
	Activities ActivityRepository
	Fetcher    Fetcher
	Tasks      queue.Dispatcher
	Log        *zap.Logger
}

// Inbox routes authenticated inbound activities.
type Inbox struct {
	inst       domain.Instance
	normalizer *Normalizer
	follows    FollowRepository
	activities ActivityRepository
	fetcher    Fetcher
	tasks      queue.Dispatcher
	log        *zap.Logger
}

func NewInbox(d InboxDeps) *Inbox {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Inbox{
		inst:       d.Instance,
		normalizer: d.Normalizer,
		follows:    d.Follows,
		activities: d.Activities,
		fetcher:    d.Fetcher,
		tasks:      d.Tasks,
		log:        log.Named("inbox"),
	}
}

// Process handles one activity whose signature has been checked. Objects
// refused by policy are acknowledged, the error is only returned for
// failures of the node itself.
func (in *Inbox) Process(ctx context.Context, body []byte) error {
	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return fmt.Errorf("failed to parse activity: %w", err)
	}

	in.log.Info("Inbox: Received activity",
		zap.String("type", activity.Type),
		zap.String("actor", activity.ActorURL()))

	var err error
	switch activity.Type {
	case "Create":
		err = in.handleCreate(ctx, &activity)
	case "Announce":
		err = in.handleAnnounce(ctx, &activity)
	case "Follow":
		err = in.handleFollow(ctx, &activity, body)
	case "Undo":
		err = in.handleUndo(ctx, &activity)
	case "Accept", "Reject":
		in.log.Info("Inbox: Follow answered",
			zap.String("type", activity.Type),
			zap.String("follow", idOf(activity.Object)))
	default:
		in.log.Debug("Inbox: Unsupported activity type", zap.String("type", activity.Type))
	}

	if outcome, ok := OutcomeOf(err); ok {
		in.log.Info("Inbox: Object not ingested",
			zap.String("id", activity.ID),
			zap.String("outcome", string(outcome)))
		return nil
	}
	return err
}

func (in *Inbox) handleCreate(ctx context.Context, activity *Activity) error {
	object, err := in.object(ctx, activity.Object)
	if err != nil {
		return err
	}
	if !ingestible(str(object, "type")) {
		in.log.Debug("Inbox: Unsupported object type", zap.String("type", str(object, "type")))
		return nil
	}
	_, err = in.normalizer.Ingest(ctx, activity.ActorURL(), object)
	return err
}

// handleAnnounce ingests the boosted object. The object is always fetched
// from its origin, an embedded copy is not signed by its author.
func (in *Inbox) handleAnnounce(ctx context.Context, activity *Activity) error {
	id := idOf(activity.Object)
	if id == "" || in.inst.IsLocalURL(id) {
		return nil
	}
	object, err := in.fetcher.GetObject(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch announced object %s: %w", id, err)
	}
	if str(object, "type") == "Create" {
		if object, err = in.object(ctx, object["object"]); err != nil {
			return err
		}
	}
	if !ingestible(str(object, "type")) {
		return nil
	}

	author := idOf(object["attributedTo"])
	if author == "" || hostOf(author) != hostOf(idOf(object)) {
		return fmt.Errorf("announced object %s has no author on its host", id)
	}
	_, err = in.normalizer.Ingest(ctx, author, object)
	return err
}

func (in *Inbox) handleFollow(ctx context.Context, activity *Activity, body []byte) error {
	target, err := in.localActor(ctx, idOf(activity.Object))
	if err != nil || target == nil {
		return err
	}
	follower, err := in.remoteUser(ctx, activity.ActorURL())
	if err != nil {
		return err
	}

	if err := in.follows.AddFollower(ctx, target, follower); err != nil {
		return fmt.Errorf("failed to add follower: %w", err)
	}

	follow := &domain.Activity{
		UUID:       uuid.New(),
		ApId:       activity.ID,
		Kind:       domain.Follow,
		Actor:      follower,
		Object:     domain.ActorObject{Actor: target},
		CachedJSON: body,
		CreatedAt:  time.Now().UTC(),
	}
	if err := in.activities.SaveActivity(ctx, follow); err != nil {
		return fmt.Errorf("failed to save follow: %w", err)
	}

	task, err := queue.NewTask(TaskFollowResponse, FollowResponseMessage{
		ActorType:        target.ActorType(),
		ActorID:          target.ActorID(),
		FollowActivityID: follow.UUID,
		Accept:           true,
	})
	if err != nil {
		return err
	}
	if err := in.tasks.Dispatch(ctx, task); err != nil {
		return fmt.Errorf("failed to queue accept: %w", err)
	}

	in.log.Info("Inbox: Accepted follow",
		zap.String("follower", follower.Handle()),
		zap.String("target", target.Handle()))
	return nil
}

func (in *Inbox) handleUndo(ctx context.Context, activity *Activity) error {
	inner, ok := activity.Object.(map[string]any)
	if !ok || str(inner, "type") != "Follow" {
		in.log.Debug("Inbox: Ignoring undo", zap.String("object", idOf(activity.Object)))
		return nil
	}
	if idOf(inner["actor"]) != activity.ActorURL() {
		return fmt.Errorf("undo of a follow by another actor")
	}

	target, err := in.localActor(ctx, idOf(inner["object"]))
	if err != nil || target == nil {
		return err
	}
	follower, err := in.remoteUser(ctx, activity.ActorURL())
	if err != nil {
		return err
	}
	if err := in.follows.RemoveFollower(ctx, target, follower); err != nil {
		return fmt.Errorf("failed to remove follower: %w", err)
	}

	in.log.Info("Inbox: Removed follow",
		zap.String("follower", follower.Handle()),
		zap.String("target", target.Handle()))
	return nil
}

// object returns an embedded object, or fetches it when only its id was sent.
func (in *Inbox) object(ctx context.Context, v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	id := idOf(v)
	if id == "" {
		return nil, fmt.Errorf("activity without object")
	}
	object, err := in.fetcher.GetObject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object %s: %w", id, err)
	}
	return object, nil
}

// localActor returns nil for objects that are not local actors.
func (in *Inbox) localActor(ctx context.Context, profileURL string) (domain.Actor, error) {
	if !in.inst.IsLocalURL(profileURL) {
		return nil, nil
	}
	actor, err := in.normalizer.ResolveActor(ctx, profileURL)
	if errors.Is(err, domain.ErrNotFound) {
		in.log.Debug("Inbox: Unknown local actor", zap.String("actor", profileURL))
		return nil, nil
	}
	return actor, err
}

func (in *Inbox) remoteUser(ctx context.Context, profileURL string) (*domain.User, error) {
	actor, err := in.normalizer.ResolveActor(ctx, profileURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", profileURL, err)
	}
	u, ok := actor.(*domain.User)
	if !ok || u.IsLocal() {
		return nil, fmt.Errorf("%s is not a remote person", profileURL)
	}
	return u, nil
}

func ingestible(objectType string) bool {
	switch objectType {
	case "Note", "Page", "Article", "Question", "Video":
		return true
	}
	return false
}
