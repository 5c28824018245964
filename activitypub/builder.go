package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"github.com/google/uuid"
)

// Builder turns activities into their JSON-LD wire form.
type Builder struct {
	inst       domain.Instance
	activities ActivityRepository
	fetcher    Fetcher
	now        func() time.Time
}

// NewBuilder returns a Builder. activities persists first builds, fetcher is
// used for Undo of a remote activity and may be nil.
func NewBuilder(inst domain.Instance, activities ActivityRepository, fetcher Fetcher) *Builder {
	return &Builder{inst: inst, activities: activities, fetcher: fetcher, now: time.Now}
}

// Build returns the decoded document of a.
func (b *Builder) Build(ctx context.Context, a *domain.Activity) (map[string]any, error) {
	data, err := b.BuildJSON(ctx, a)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode activity %s: %w", a.UUID, err)
	}
	return doc, nil
}

// BuildJSON returns the serialized document of a. Once built, the document
// of an activity never changes: a stored copy is returned verbatim.
func (b *Builder) BuildJSON(ctx context.Context, a *domain.Activity) ([]byte, error) {
	if len(a.CachedJSON) > 0 {
		return a.CachedJSON, nil
	}

	doc, err := b.assemble(ctx, a)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity %s: %w", a.UUID, err)
	}

	a.CachedJSON = data
	if b.activities != nil && a.ApId == "" && a.UUID != uuid.Nil {
		if err := b.activities.StoreCachedJSON(ctx, a.UUID, data); err != nil {
			return nil, fmt.Errorf("failed to store activity %s: %w", a.UUID, err)
		}
	}
	return data, nil
}

func (b *Builder) assemble(ctx context.Context, a *domain.Activity) (map[string]any, error) {
	if a.Actor == nil {
		panic("activitypub: activity " + a.UUID.String() + " without actor")
	}

	inst := b.inst
	doc := map[string]any{
		"@context":  Context(inst),
		"id":        a.URL(inst),
		"type":      string(a.Kind),
		"actor":     a.Actor.ProfileURL(inst),
		"published": formatTime(a.CreatedAt),
	}

	var err error
	switch a.Kind {
	case domain.Create, domain.Update:
		err = b.wrapContent(ctx, doc, a)
	case domain.Like:
		err = b.like(doc, a)
	case domain.Undo:
		err = b.undo(ctx, doc, a)
	case domain.Announce:
		err = b.announce(ctx, doc, a)
	case domain.Delete:
		err = b.delete(ctx, doc, a)
	case domain.Add, domain.Remove:
		err = b.collectionChange(doc, a)
	case domain.Flag:
		err = b.flag(doc, a)
	case domain.Follow:
		err = b.follow(doc, a)
	case domain.Accept, domain.Reject:
		err = b.followResponse(doc, a)
	case domain.Block:
		err = b.block(doc, a)
	default:
		err = fmt.Errorf("unsupported activity kind %q", a.Kind)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Create and Update share one path. Update stamps the edit time.
func (b *Builder) wrapContent(ctx context.Context, doc map[string]any, a *domain.Activity) error {
	o, ok := a.Object.(domain.ContentObject)
	if !ok || o.Content == nil {
		return fmt.Errorf("%s needs a content object, got %T", a.Kind, a.Object)
	}
	c := o.Content

	obj, err := b.ContentObject(ctx, c)
	if err != nil {
		return err
	}
	delete(obj, "@context")

	if a.Kind == domain.Update {
		edited := b.now()
		if c.EditedAt != nil {
			edited = *c.EditedAt
		}
		obj["updated"] = formatTime(edited)
		doc["type"] = string(domain.Update)
	}

	doc["actor"] = c.Author.ProfileURL(b.inst)
	doc["to"] = obj["to"]
	doc["cc"] = obj["cc"]
	if aud, ok := obj["audience"]; ok {
		doc["audience"] = aud
	}
	doc["object"] = obj
	return nil
}

func (b *Builder) like(doc map[string]any, a *domain.Activity) error {
	var objectURL, authorURL string
	switch o := a.Object.(type) {
	case domain.URLObject:
		objectURL = o.URL
	case domain.ContentObject:
		c := o.Content
		if c == nil || !b.federates(c) {
			return fmt.Errorf("%w: like of unfederated content", ErrUnfederatedObject)
		}
		objectURL = c.URL(b.inst)
		if c.Author != nil {
			authorURL = c.Author.ProfileURL(b.inst)
		}
		if mag := b.magazineURL(c.Magazine); mag != "" {
			doc["audience"] = mag
		}
	}
	if objectURL == "" {
		return fmt.Errorf("%w: like needs a public URL, got %T", ErrUnfederatedObject, a.Object)
	}

	doc["object"] = objectURL
	doc["to"] = []string{PublicAudience}
	doc["cc"] = uniq([]string{a.Actor.FollowersURL(b.inst), authorURL})
	return nil
}

// federates reports whether c has a public identity remote servers can see.
func (b *Builder) federates(c *domain.Content) bool {
	if !c.IsLocal() {
		return true
	}
	if c.Visibility == domain.VisibilityPrivate {
		return false
	}
	return c.Magazine == nil || !c.Magazine.IsCatchAll(b.inst)
}

// Undo wraps a sibling activity or a fetched remote one and takes over its actor.
func (b *Builder) undo(ctx context.Context, doc map[string]any, a *domain.Activity) error {
	var inner map[string]any
	switch o := a.Object.(type) {
	case domain.ActivityObject:
		built, err := b.embedded(ctx, o.Activity)
		if err != nil {
			return err
		}
		inner = built
	case domain.URLObject:
		if b.fetcher == nil {
			return fmt.Errorf("cannot fetch %s to undo", o.URL)
		}
		fetched, err := b.fetcher.GetObject(ctx, o.URL)
		if err != nil {
			return fmt.Errorf("failed to fetch activity to undo: %w", err)
		}
		delete(fetched, "@context")
		inner = fetched
	default:
		return fmt.Errorf("undo needs an activity, got %T", a.Object)
	}

	doc["actor"] = inner["actor"]
	for _, key := range []string{"to", "cc", "audience"} {
		if v, ok := inner[key]; ok {
			doc[key] = v
		}
	}
	doc["object"] = inner
	return nil
}

func (b *Builder) announce(ctx context.Context, doc map[string]any, a *domain.Activity) error {
	to := []string{PublicAudience}
	cc := []string{a.Actor.FollowersURL(b.inst)}

	switch o := a.Object.(type) {
	case domain.ActivityObject:
		inner, err := b.embedded(ctx, o.Activity)
		if err != nil {
			return err
		}
		doc["object"] = inner
	case domain.ContentObject:
		if o.Content == nil {
			return fmt.Errorf("%w: announce of nil content", ErrUnfederatedObject)
		}
		doc["object"] = o.Content.URL(b.inst)
		if o.Content.Author != nil {
			to = append(to, o.Content.Author.ProfileURL(b.inst))
		}
	case domain.URLObject:
		doc["object"] = o.URL
	default:
		return fmt.Errorf("announce cannot wrap %T", a.Object)
	}

	if mag := b.magazineURL(a.Audience); mag != "" {
		doc["audience"] = mag
		cc = append(cc, mag)
	}
	doc["to"] = uniq(to)
	doc["cc"] = uniq(cc)
	return nil
}

// embedded builds a sibling activity for nesting, without its @context.
func (b *Builder) embedded(ctx context.Context, inner *domain.Activity) (map[string]any, error) {
	if inner == nil {
		return nil, fmt.Errorf("missing inner activity")
	}
	doc, err := b.Build(ctx, inner)
	if err != nil {
		return nil, err
	}
	delete(doc, "@context")
	return doc, nil
}

func (b *Builder) delete(ctx context.Context, doc map[string]any, a *domain.Activity) error {
	switch o := a.Object.(type) {
	case domain.ContentObject:
		c := o.Content
		if c == nil {
			return fmt.Errorf("%w: delete of nil content", ErrUnfederatedObject)
		}
		doc["object"] = map[string]any{"id": c.URL(b.inst), "type": "Tombstone"}
		if !c.IsLocal() {
			doc["to"] = []string{PublicAudience}
			doc["cc"] = uniq([]string{b.magazineURL(c.Magazine)})
			return nil
		}
		orig, err := b.ContentObject(ctx, c)
		if err != nil {
			return err
		}
		doc["to"] = orig["to"]
		doc["cc"] = orig["cc"]
		if aud, ok := orig["audience"]; ok {
			doc["audience"] = aud
		}
	case domain.ActorObject:
		actorURL := o.Actor.ProfileURL(b.inst)
		doc["object"] = actorURL
		doc["to"] = []string{PublicAudience}
		doc["cc"] = []string{o.Actor.FollowersURL(b.inst)}
	case domain.URLObject:
		doc["object"] = map[string]any{"id": o.URL, "type": "Tombstone"}
		doc["to"] = []string{PublicAudience}
	default:
		return fmt.Errorf("delete cannot wrap %T", a.Object)
	}
	return nil
}

// collectionChange builds Add and Remove for the moderators and pinned collections.
func (b *Builder) collectionChange(doc map[string]any, a *domain.Activity) error {
	if a.Audience == nil {
		panic("activitypub: " + string(a.Kind) + " without magazine")
	}
	object, err := b.referenceURL(a.Object)
	if err != nil {
		return err
	}
	magURL := a.Audience.ProfileURL(b.inst)

	doc["object"] = object
	doc["target"] = a.Target
	doc["audience"] = magURL
	doc["to"] = []string{PublicAudience}
	doc["cc"] = []string{magURL}
	return nil
}

// Flag has two object shapes. Groups take a bare URL addressed to them, the
// catch-all magazine sends [content, author] to the author.
func (b *Builder) flag(doc map[string]any, a *domain.Activity) error {
	var contentURL, authorURL string
	mag := a.Audience
	switch o := a.Object.(type) {
	case domain.ContentObject:
		if o.Content == nil || o.Content.Author == nil {
			return fmt.Errorf("%w: flag of nil content", ErrUnfederatedObject)
		}
		contentURL = o.Content.URL(b.inst)
		authorURL = o.Content.Author.ProfileURL(b.inst)
		if mag == nil {
			mag = o.Content.Magazine
		}
	case domain.ActorObject:
		contentURL = o.Actor.ProfileURL(b.inst)
		authorURL = contentURL
	default:
		return fmt.Errorf("flag cannot wrap %T", a.Object)
	}

	if magURL := b.magazineURL(mag); magURL != "" {
		doc["object"] = contentURL
		doc["audience"] = magURL
		doc["to"] = []string{magURL}
	} else {
		doc["object"] = uniq([]string{contentURL, authorURL})
		doc["to"] = []string{authorURL}
	}
	if a.Summary != "" {
		doc["summary"] = a.Summary
		doc["content"] = a.Summary
	}
	return nil
}

func (b *Builder) follow(doc map[string]any, a *domain.Activity) error {
	o, ok := a.Object.(domain.ActorObject)
	if !ok || o.Actor == nil {
		return fmt.Errorf("follow needs an actor, got %T", a.Object)
	}
	target := o.Actor.ProfileURL(b.inst)
	doc["object"] = target
	doc["to"] = []string{target}
	return nil
}

// followResponse embeds the Follow being answered.
func (b *Builder) followResponse(doc map[string]any, a *domain.Activity) error {
	o, ok := a.Object.(domain.ActivityObject)
	if !ok || o.Activity == nil || o.Activity.Actor == nil {
		return fmt.Errorf("%s needs the follow activity, got %T", a.Kind, a.Object)
	}
	followReq := o.Activity
	follower := followReq.Actor.ProfileURL(b.inst)

	followed := a.Actor.ProfileURL(b.inst)
	if f, ok := followReq.Object.(domain.ActorObject); ok && f.Actor != nil {
		followed = f.Actor.ProfileURL(b.inst)
	}

	doc["object"] = map[string]any{
		"id":     followReq.URL(b.inst),
		"type":   string(domain.Follow),
		"actor":  follower,
		"object": followed,
	}
	doc["to"] = []string{follower}
	return nil
}

// block bans a user from a magazine.
func (b *Builder) block(doc map[string]any, a *domain.Activity) error {
	if a.Audience == nil {
		panic("activitypub: block without magazine")
	}
	o, ok := a.Object.(domain.ActorObject)
	if !ok || o.Actor == nil {
		return fmt.Errorf("block needs a user, got %T", a.Object)
	}
	magURL := a.Audience.ProfileURL(b.inst)

	doc["object"] = o.Actor.ProfileURL(b.inst)
	doc["target"] = magURL
	doc["audience"] = magURL
	doc["to"] = []string{PublicAudience}
	doc["cc"] = []string{magURL}
	if a.Summary != "" {
		doc["summary"] = a.Summary
	}
	if a.Expires != nil {
		doc["expires"] = formatTime(*a.Expires)
	}
	return nil
}

func (b *Builder) referenceURL(o domain.Object) (string, error) {
	switch o := o.(type) {
	case domain.ActorObject:
		if o.Actor != nil {
			return o.Actor.ProfileURL(b.inst), nil
		}
	case domain.ContentObject:
		if o.Content != nil {
			return o.Content.URL(b.inst), nil
		}
	case domain.URLObject:
		return o.URL, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnfederatedObject, o)
}
