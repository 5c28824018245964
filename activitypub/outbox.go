package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"github.com/deemkeen/fedimag/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Task kinds handled by the outbox.
const (
	TaskCreate         = "create"
	TaskUpdate         = "update"
	TaskDelete         = "delete"
	TaskLike           = "like"
	TaskUndoLike       = "undo_like"
	TaskFollow         = "follow"
	TaskUnfollow       = "unfollow"
	TaskFollowResponse = "follow_response"
	TaskAnnounce       = "announce"
	TaskModerator      = "moderator"
	TaskPin            = "pin"
	TaskFlag           = "flag"
	TaskBlock          = "block"
	TaskDeliver        = "deliver"
)

// ContentMessage points at a piece of content. It drives Create and Update.
type ContentMessage struct {
	Kind      domain.ContentKind `json:"kind"`
	ContentID uuid.UUID          `json:"contentId"`
}

// DeleteMessage deletes a content, or the account of the actor when
// ContentID is nil. ActorID defaults to the content author.
type DeleteMessage struct {
	Kind      domain.ContentKind `json:"kind,omitempty"`
	ContentID uuid.UUID          `json:"contentId"`
	ActorType domain.ActorType   `json:"actorType,omitempty"`
	ActorID   uuid.UUID          `json:"actorId"`
}

// LikeMessage carries the id the caller minted for the Like so it can be
// undone later.
type LikeMessage struct {
	ActivityID uuid.UUID          `json:"activityId"`
	UserID     uuid.UUID          `json:"userId"`
	Kind       domain.ContentKind `json:"kind"`
	ContentID  uuid.UUID          `json:"contentId"`
}

type UndoLikeMessage struct {
	UserID         uuid.UUID `json:"userId"`
	LikeActivityID uuid.UUID `json:"likeActivityId"`
}

type FollowMessage struct {
	ActivityID uuid.UUID        `json:"activityId"`
	FollowerID uuid.UUID        `json:"followerId"`
	TargetType domain.ActorType `json:"targetType"`
	TargetID   uuid.UUID        `json:"targetId"`
}

type UnfollowMessage struct {
	FollowerID       uuid.UUID        `json:"followerId"`
	TargetType       domain.ActorType `json:"targetType"`
	TargetID         uuid.UUID        `json:"targetId"`
	FollowActivityID uuid.UUID        `json:"followActivityId"`
}

// FollowResponseMessage answers a stored remote Follow.
type FollowResponseMessage struct {
	ActorType        domain.ActorType `json:"actorType"`
	ActorID          uuid.UUID        `json:"actorId"`
	FollowActivityID uuid.UUID        `json:"followActivityId"`
	Accept           bool             `json:"accept"`
}

// AnnounceMessage boosts a content, or with ObjectURL set, relays a remote
// activity from a local magazine.
type AnnounceMessage struct {
	ActorType domain.ActorType   `json:"actorType"`
	ActorID   uuid.UUID          `json:"actorId"`
	Kind      domain.ContentKind `json:"kind,omitempty"`
	ContentID uuid.UUID          `json:"contentId"`
	ObjectURL string             `json:"objectUrl,omitempty"`
}

type ModeratorMessage struct {
	ActorID    uuid.UUID `json:"actorId"`
	MagazineID uuid.UUID `json:"magazineId"`
	UserID     uuid.UUID `json:"userId"`
	Remove     bool      `json:"remove"`
}

type PinMessage struct {
	ActorID uuid.UUID `json:"actorId"`
	EntryID uuid.UUID `json:"entryId"`
	Remove  bool      `json:"remove"`
}

type FlagMessage struct {
	ReporterID uuid.UUID          `json:"reporterId"`
	Kind       domain.ContentKind `json:"kind"`
	ContentID  uuid.UUID          `json:"contentId"`
	Reason     string             `json:"reason"`
}

type BlockMessage struct {
	ActivityID uuid.UUID  `json:"activityId"`
	ActorID    uuid.UUID  `json:"actorId"`
	MagazineID uuid.UUID  `json:"magazineId"`
	UserID     uuid.UUID  `json:"userId"`
	Reason     string     `json:"reason"`
	Expires    *time.Time `json:"expires,omitempty"`
	// Undo lifts the ban created by the Block with BlockActivityID.
	Undo            bool      `json:"undo,omitempty"`
	BlockActivityID uuid.UUID `json:"blockActivityId,omitempty"`
}

// DeliverMessage is one POST of a stored activity to one inbox.
type DeliverMessage struct {
	Inbox      string    `json:"inbox"`
	ActivityID uuid.UUID `json:"activityId"`
}

// OutboxDeps are the collaborators of the outbox handlers.
type OutboxDeps struct {
	Instance   domain.Instance
	Enabled    FederationToggle
	Users      UserRepository
	Magazines  MagazineRepository
	Contents   ContentRepository
	Activities ActivityRepository
	Audience   *Audience
	Builder    *Builder
	Tasks      queue.Dispatcher
	Poster     Poster
	Log        *zap.Logger
}

// Outbox turns local mutations into deliveries. Every handler is a no-op
// while federation is switched off.
type Outbox struct {
	inst       domain.Instance
	enabled    FederationToggle
	users      UserRepository
	magazines  MagazineRepository
	contents   ContentRepository
	activities ActivityRepository
	audience   *Audience
	builder    *Builder
	tasks      queue.Dispatcher
	poster     Poster
	log        *zap.Logger
}

func NewOutbox(d OutboxDeps) *Outbox {
	enabled := d.Enabled
	if enabled == nil {
		enabled = func() bool { return true }
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Outbox{
		inst:       d.Instance,
		enabled:    enabled,
		users:      d.Users,
		magazines:  d.Magazines,
		contents:   d.Contents,
		activities: d.Activities,
		audience:   d.Audience,
		builder:    d.Builder,
		tasks:      d.Tasks,
		poster:     d.Poster,
		log:        log.Named("outbox"),
	}
}

// Register wires every handler onto r.
func (o *Outbox) Register(r *queue.Router) {
	r.Handle(TaskCreate, queue.Handle(o.HandleCreate))
	r.Handle(TaskUpdate, queue.Handle(o.HandleUpdate))
	r.Handle(TaskDelete, queue.Handle(o.HandleDelete))
	r.Handle(TaskLike, queue.Handle(o.HandleLike))
	r.Handle(TaskUndoLike, queue.Handle(o.HandleUndoLike))
	r.Handle(TaskFollow, queue.Handle(o.HandleFollow))
	r.Handle(TaskUnfollow, queue.Handle(o.HandleUnfollow))
	r.Handle(TaskFollowResponse, queue.Handle(o.HandleFollowResponse))
	r.Handle(TaskAnnounce, queue.Handle(o.HandleAnnounce))
	r.Handle(TaskModerator, queue.Handle(o.HandleModerator))
	r.Handle(TaskPin, queue.Handle(o.HandlePin))
	r.Handle(TaskFlag, queue.Handle(o.HandleFlag))
	r.Handle(TaskBlock, queue.Handle(o.HandleBlock))
	r.Handle(TaskDeliver, queue.Handle(o.HandleDeliver))
}

func (o *Outbox) HandleCreate(ctx context.Context, msg ContentMessage) error {
	return o.publishContent(ctx, domain.Create, msg)
}

func (o *Outbox) HandleUpdate(ctx context.Context, msg ContentMessage) error {
	return o.publishContent(ctx, domain.Update, msg)
}

func (o *Outbox) publishContent(ctx context.Context, kind domain.ActivityKind, msg ContentMessage) error {
	if !o.enabled() {
		return nil
	}
	c, err := o.content(ctx, msg.Kind, msg.ContentID)
	if err != nil {
		return err
	}
	if !c.IsLocal() {
		return nil
	}

	a := domain.NewActivity(kind, c.Author, domain.ContentObject{Content: c})
	a.Audience = c.Magazine
	return o.publish(ctx, a, func(doc map[string]any) ([]string, error) {
		return o.contentAudience(ctx, c.Author, c, doc)
	})
}

func (o *Outbox) HandleDelete(ctx context.Context, msg DeleteMessage) error {
	if !o.enabled() {
		return nil
	}

	if msg.ContentID == uuid.Nil {
		actor, err := o.actor(ctx, msg.ActorType, msg.ActorID)
		if err != nil || actor == nil {
			return err
		}
		a := domain.NewActivity(domain.Delete, actor, domain.ActorObject{Actor: actor})
		return o.publish(ctx, a, func(map[string]any) ([]string, error) {
			return o.followerInboxes(ctx, actor)
		})
	}

	c, err := o.content(ctx, msg.Kind, msg.ContentID)
	if err != nil {
		return err
	}
	var actor domain.Actor = c.Author
	if msg.ActorID != uuid.Nil {
		if actor, err = o.actor(ctx, msg.ActorType, msg.ActorID); err != nil || actor == nil {
			return err
		}
	}
	if !c.IsLocal() && !actor.IsLocal() {
		return nil
	}

	a := domain.NewActivity(domain.Delete, actor, domain.ContentObject{Content: c})
	a.Audience = c.Magazine
	return o.publish(ctx, a, func(doc map[string]any) ([]string, error) {
		return o.contentAudience(ctx, actor, c, doc)
	})
}

func (o *Outbox) HandleLike(ctx context.Context, msg LikeMessage) error {
	if !o.enabled() {
		return nil
	}
	user, err := o.localUser(ctx, msg.UserID)
	if err != nil || user == nil {
		return err
	}
	c, err := o.content(ctx, msg.Kind, msg.ContentID)
	if err != nil {
		return err
	}

	a := domain.NewActivity(domain.Like, user, domain.ContentObject{Content: c})
	if msg.ActivityID != uuid.Nil {
		a.UUID = msg.ActivityID
	}
	a.Audience = c.Magazine
	return o.publish(ctx, a, func(doc map[string]any) ([]string, error) {
		return o.contentAudience(ctx, user, c, doc)
	})
}

func (o *Outbox) HandleUndoLike(ctx context.Context, msg UndoLikeMessage) error {
	if !o.enabled() {
		return nil
	}
	user, err := o.localUser(ctx, msg.UserID)
	if err != nil || user == nil {
		return err
	}
	like, err := o.activity(ctx, msg.LikeActivityID)
	if err != nil {
		return err
	}

	a := domain.NewActivity(domain.Undo, user, domain.ActivityObject{Activity: like})
	a.Audience = like.Audience
	return o.publish(ctx, a, func(doc map[string]any) ([]string, error) {
		if co, ok := like.Object.(domain.ContentObject); ok && co.Content != nil {
			return o.contentAudience(ctx, user, co.Content, doc)
		}
		return o.followerInboxes(ctx, user)
	})
}

func (o *Outbox) HandleFollow(ctx context.Context, msg FollowMessage) error {
	if !o.enabled() {
		return nil
	}
	follower, err := o.localUser(ctx, msg.FollowerID)
	if err != nil || follower == nil {
		return err
	}
	target, err := o.actor(ctx, msg.TargetType, msg.TargetID)
	if err != nil || target == nil {
		return err
	}
	if target.IsLocal() {
		return nil
	}

	a := domain.NewActivity(domain.Follow, follower, domain.ActorObject{Actor: target})
	if msg.ActivityID != uuid.Nil {
		a.UUID = msg.ActivityID
	}
	return o.publish(ctx, a, func(map[string]any) ([]string, error) {
		return o.audience.FollowInboxes(target), nil
	})
}

func (o *Outbox) HandleUnfollow(ctx context.Context, msg UnfollowMessage) error {
	if !o.enabled() {
		return nil
	}
	follower, err := o.localUser(ctx, msg.FollowerID)
	if err != nil || follower == nil {
		return err
	}
	target, err := o.actor(ctx, msg.TargetType, msg.TargetID)
	if err != nil || target == nil {
		return err
	}
	if target.IsLocal() {
		return nil
	}

	follow, err := o.activities.FindActivity(ctx, msg.FollowActivityID)
	if errors.Is(err, domain.ErrNotFound) {
		// remote servers match the undone Follow by actor and object
		follow = domain.NewActivity(domain.Follow, follower, domain.ActorObject{Actor: target})
		if err := o.activities.SaveActivity(ctx, follow); err != nil {
			return fmt.Errorf("failed to save follow: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to load follow %s: %w", msg.FollowActivityID, err)
	}

	a := domain.NewActivity(domain.Undo, follower, domain.ActivityObject{Activity: follow})
	return o.publish(ctx, a, func(map[string]any) ([]string, error) {
		return o.audience.FollowInboxes(target), nil
	})
}

func (o *Outbox) HandleFollowResponse(ctx context.Context, msg FollowResponseMessage) error {
	if !o.enabled() {
		return nil
	}
	followed, err := o.actor(ctx, msg.ActorType, msg.ActorID)
	if err != nil || followed == nil {
		return err
	}
	if !followed.IsLocal() {
		return nil
	}
	follow, err := o.activity(ctx, msg.FollowActivityID)
	if err != nil {
		return err
	}
	if follow.Actor == nil {
		return queue.Permanent(fmt.Errorf("follow %s has no actor", msg.FollowActivityID))
	}

	kind := domain.Reject
	if msg.Accept {
		kind = domain.Accept
	}
	a := domain.NewActivity(kind, followed, domain.ActivityObject{Activity: follow})
	return o.publish(ctx, a, func(map[string]any) ([]string, error) {
		return o.audience.FollowInboxes(follow.Actor), nil
	})
}

func (o *Outbox) HandleAnnounce(ctx context.Context, msg AnnounceMessage) error {
	if !o.enabled() {
		return nil
	}
	actor, err := o.actor(ctx, msg.ActorType, msg.ActorID)
	if err != nil || actor == nil {
		return err
	}
	if !actor.IsLocal() {
		return nil
	}

	if msg.ObjectURL != "" {
		mag, ok := actor.(*domain.Magazine)
		if !ok {
			return queue.Permanent(fmt.Errorf("only magazines relay activities"))
		}
		a := domain.NewActivity(domain.Announce, mag, domain.URLObject{URL: msg.ObjectURL})
		a.Audience = mag
		return o.publish(ctx, a, func(map[string]any) ([]string, error) {
			inboxes, err := o.audience.MagazineInboxes(ctx, mag)
			if err != nil {
				return nil, err
			}
			return FilterOriginHost(inboxes, msg.ObjectURL), nil
		})
	}

	c, err := o.content(ctx, msg.Kind, msg.ContentID)
	if err != nil {
		return err
	}
	a := domain.NewActivity(domain.Announce, actor, domain.ContentObject{Content: c})
	a.Audience = c.Magazine
	return o.publish(ctx, a, func(doc map[string]any) ([]string, error) {
		inboxes, err := o.contentAudience(ctx, actor, c, doc)
		if err != nil {
			return nil, err
		}
		if !c.IsLocal() && actor.ActorType() == domain.ActorTypeMagazine {
			inboxes = FilterOriginHost(inboxes, c.ApId)
		}
		return inboxes, nil
	})
}

func (o *Outbox) HandleModerator(ctx context.Context, msg ModeratorMessage) error {
	if !o.enabled() {
		return nil
	}
	actor, err := o.localUser(ctx, msg.ActorID)
	if err != nil || actor == nil {
		return err
	}
	mag, err := o.magazine(ctx, msg.MagazineID)
	if err != nil {
		return err
	}
	target, err := o.user(ctx, msg.UserID)
	if err != nil {
		return err
	}

	kind := domain.Add
	if msg.Remove {
		kind = domain.Remove
	}
	a := domain.NewActivity(kind, actor, domain.ActorObject{Actor: target})
	a.Target = ModeratorsCollectionURL(o.inst, mag)
	a.Audience = mag
	return o.publish(ctx, a, func(map[string]any) ([]string, error) {
		return o.moderationAudience(ctx, mag, target)
	})
}

func (o *Outbox) HandlePin(ctx context.Context, msg PinMessage) error {
	if !o.enabled() {
		return nil
	}
	actor, err := o.localUser(ctx, msg.ActorID)
	if err != nil || actor == nil {
		return err
	}
	entry, err := o.content(ctx, domain.KindEntry, msg.EntryID)
	if err != nil {
		return err
	}
	if entry.Magazine == nil {
		panic("activitypub: pinned entry without magazine")
	}

	kind := domain.Add
	if msg.Remove {
		kind = domain.Remove
	}
	a := domain.NewActivity(kind, actor, domain.ContentObject{Content: entry})
	a.Target = PinnedCollectionURL(o.inst, entry.Magazine)
	a.Audience = entry.Magazine
	return o.publish(ctx, a, func(map[string]any) ([]string, error) {
		return o.audience.MagazineInboxes(ctx, entry.Magazine)
	})
}

func (o *Outbox) HandleFlag(ctx context.Context, msg FlagMessage) error {
	if !o.enabled() {
		return nil
	}
	reporter, err := o.localUser(ctx, msg.ReporterID)
	if err != nil || reporter == nil {
		return err
	}
	c, err := o.content(ctx, msg.Kind, msg.ContentID)
	if err != nil {
		return err
	}

	a := domain.NewActivity(domain.Flag, reporter, domain.ContentObject{Content: c})
	a.Audience = c.Magazine
	a.Summary = msg.Reason
	return o.publish(ctx, a, func(map[string]any) ([]string, error) {
		return o.audience.ReportInboxes(ctx, c, c.Magazine), nil
	})
}

func (o *Outbox) HandleBlock(ctx context.Context, msg BlockMessage) error {
	if !o.enabled() {
		return nil
	}
	actor, err := o.localUser(ctx, msg.ActorID)
	if err != nil || actor == nil {
		return err
	}
	mag, err := o.magazine(ctx, msg.MagazineID)
	if err != nil {
		return err
	}
	target, err := o.user(ctx, msg.UserID)
	if err != nil {
		return err
	}

	var a *domain.Activity
	if msg.Undo {
		block, err := o.activities.FindActivity(ctx, msg.BlockActivityID)
		if errors.Is(err, domain.ErrNotFound) {
			block = domain.NewActivity(domain.Block, actor, domain.ActorObject{Actor: target})
			block.Audience = mag
			if err := o.activities.SaveActivity(ctx, block); err != nil {
				return fmt.Errorf("failed to save block: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to load block %s: %w", msg.BlockActivityID, err)
		}
		a = domain.NewActivity(domain.Undo, actor, domain.ActivityObject{Activity: block})
	} else {
		a = domain.NewActivity(domain.Block, actor, domain.ActorObject{Actor: target})
		if msg.ActivityID != uuid.Nil {
			a.UUID = msg.ActivityID
		}
		a.Summary = msg.Reason
		a.Expires = msg.Expires
	}
	a.Audience = mag
	return o.publish(ctx, a, func(map[string]any) ([]string, error) {
		return o.moderationAudience(ctx, mag, target)
	})
}

// HandleDeliver posts one stored activity to one inbox.
func (o *Outbox) HandleDeliver(ctx context.Context, msg DeliverMessage) error {
	if !o.enabled() {
		return nil
	}
	a, err := o.activity(ctx, msg.ActivityID)
	if err != nil {
		return err
	}
	body, err := o.builder.BuildJSON(ctx, a)
	if err != nil {
		return queue.Permanent(err)
	}

	err = o.poster.Post(ctx, msg.Inbox, a.Actor, body)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrActorUnavailable) {
		return queue.Permanent(err)
	}
	var de *DeliveryError
	if errors.As(err, &de) && de.Status >= 400 && de.Status < 500 &&
		de.Status != http.StatusRequestTimeout && de.Status != http.StatusTooManyRequests {
		return queue.Permanent(err)
	}
	return err
}

// publish stores a, builds its document and queues one delivery per inbox.
func (o *Outbox) publish(ctx context.Context, a *domain.Activity, resolve func(doc map[string]any) ([]string, error)) error {
	if err := o.activities.SaveActivity(ctx, a); err != nil {
		return fmt.Errorf("failed to save %s activity: %w", a.Kind, err)
	}
	doc, err := o.builder.Build(ctx, a)
	if err != nil {
		return queue.Permanent(fmt.Errorf("failed to build %s activity: %w", a.Kind, err))
	}
	inboxes, err := resolve(doc)
	if err != nil {
		return err
	}

	for _, inbox := range inboxes {
		task, err := queue.NewTask(TaskDeliver, DeliverMessage{Inbox: inbox, ActivityID: a.UUID})
		if err != nil {
			return err
		}
		if err := o.tasks.Dispatch(ctx, task); err != nil {
			return fmt.Errorf("failed to queue delivery to %s: %w", inbox, err)
		}
	}

	o.log.Info("Outbox: Queued activity",
		zap.String("type", string(a.Kind)),
		zap.String("id", a.URL(o.inst)),
		zap.Int("inboxes", len(inboxes)))
	return nil
}

// contentAudience picks the inboxes of an event about c. Catch-all content
// stays local, private content only reaches followers and mentioned actors.
// The author of remote content is always included.
func (o *Outbox) contentAudience(ctx context.Context, actor domain.Actor, c *domain.Content, doc map[string]any) ([]string, error) {
	if c.Magazine != nil && c.Magazine.IsCatchAll(o.inst) {
		return []string{}, nil
	}
	addressed := append(idList(doc["to"]), idList(doc["cc"])...)

	var inboxes []string
	if c.Visibility == domain.VisibilityPrivate {
		followers, err := o.followerInboxes(ctx, actor)
		if err != nil {
			return nil, err
		}
		mentioned, err := o.audience.mentionInboxes(ctx, actor, c.Magazine, addressed)
		if err != nil {
			return nil, err
		}
		inboxes = append(followers, mentioned...)
	} else {
		resolved, err := o.audience.ContentInboxes(ctx, actor, c.Magazine, addressed)
		if err != nil {
			return nil, err
		}
		inboxes = resolved
	}

	if c.Author != nil && !c.Author.IsLocal() {
		inboxes = append(inboxes, domain.PreferredInbox(c.Author, o.inst))
	}
	return o.audience.clean(inboxes), nil
}

func (o *Outbox) moderationAudience(ctx context.Context, mag *domain.Magazine, target domain.Actor) ([]string, error) {
	inboxes, err := o.audience.MagazineInboxes(ctx, mag)
	if err != nil {
		return nil, err
	}
	mods, err := o.audience.ModeratorInboxes(ctx, mag)
	if err != nil {
		return nil, err
	}
	inboxes = append(inboxes, mods...)
	if target != nil && !target.IsLocal() {
		inboxes = append(inboxes, domain.PreferredInbox(target, o.inst))
	}
	return o.audience.clean(inboxes), nil
}

func (o *Outbox) followerInboxes(ctx context.Context, actor domain.Actor) ([]string, error) {
	inboxes, err := o.audience.follows.FollowerInboxes(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to load followers of %s: %w", actor.Handle(), err)
	}
	return o.audience.clean(inboxes), nil
}

// Lookups turn a missing row into a permanent failure, retrying cannot help.

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, domain.ErrNotFound) {
		return queue.Permanent(fmt.Errorf("%s %s: %w", what, id, err))
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

func (o *Outbox) content(ctx context.Context, kind domain.ContentKind, id uuid.UUID) (*domain.Content, error) {
	c, err := o.contents.FindContent(ctx, kind, id)
	if err != nil {
		return nil, notFound(err, string(kind), id)
	}
	return c, nil
}

func (o *Outbox) activity(ctx context.Context, id uuid.UUID) (*domain.Activity, error) {
	a, err := o.activities.FindActivity(ctx, id)
	if err != nil {
		return nil, notFound(err, "activity", id)
	}
	return a, nil
}

func (o *Outbox) user(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, err := o.users.FindUserByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

// localUser returns nil without error for remote users, they do not act here.
func (o *Outbox) localUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, err := o.user(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsLocal() {
		o.log.Debug("Outbox: Ignoring event of remote user", zap.String("user", u.Handle()))
		return nil, nil
	}
	return u, nil
}

func (o *Outbox) magazine(ctx context.Context, id uuid.UUID) (*domain.Magazine, error) {
	m, err := o.magazines.FindMagazineByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "magazine", id)
	}
	return m, nil
}

func (o *Outbox) actor(ctx context.Context, t domain.ActorType, id uuid.UUID) (domain.Actor, error) {
	switch t {
	case domain.ActorTypeMagazine:
		return o.magazine(ctx, id)
	case domain.ActorTypeUser, "":
		return o.user(ctx, id)
	}
	return nil, queue.Permanent(fmt.Errorf("unknown actor type %q", t))
}
