package activitypub

import (
	"context"
	"errors"
	"fmt"

	"github.com/deemkeen/fedimag/domain"
)

// Audience resolves the remote inboxes a local event is delivered to.
// Every result is deduplicated and free of local and empty entries.
type Audience struct {
	inst      domain.Instance
	users     UserRepository
	follows   FollowRepository
	magazines MagazineRepository
}

func NewAudience(inst domain.Instance, users UserRepository, follows FollowRepository, magazines MagazineRepository) *Audience {
	return &Audience{inst: inst, users: users, follows: follows, magazines: magazines}
}

// ContentInboxes is the audience of content scoped to magazine mag: the
// followers of actor, the magazine audience and every actor mentioned in cc.
// The catch-all magazine never federates.
func (r *Audience) ContentInboxes(ctx context.Context, actor domain.Actor, mag *domain.Magazine, cc []string) ([]string, error) {
	if actor == nil {
		panic("activitypub: audience of an event without actor")
	}
	if mag == nil {
		panic("activitypub: audience of an event without magazine")
	}
	if mag.IsCatchAll(r.inst) {
		return []string{}, nil
	}

	inboxes, err := r.follows.FollowerInboxes(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to load followers of %s: %w", actor.Handle(), err)
	}

	magInboxes, err := r.MagazineInboxes(ctx, mag)
	if err != nil {
		return nil, err
	}
	inboxes = append(inboxes, magInboxes...)

	mentioned, err := r.mentionInboxes(ctx, actor, mag, cc)
	if err != nil {
		return nil, err
	}
	inboxes = append(inboxes, mentioned...)

	return r.clean(inboxes), nil
}

// MagazineInboxes is the audience of a magazine-scoped event: the remote
// subscribers of a local magazine, or the inbox of a remote one.
func (r *Audience) MagazineInboxes(ctx context.Context, mag *domain.Magazine) ([]string, error) {
	if mag == nil {
		panic("activitypub: audience of an event without magazine")
	}
	if mag.IsCatchAll(r.inst) {
		return []string{}, nil
	}
	if !mag.IsLocal() {
		return r.clean([]string{domain.PreferredInbox(mag, r.inst)}), nil
	}

	inboxes, err := r.magazines.SubscriberInboxes(ctx, mag)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscribers of %s: %w", mag.Name, err)
	}
	return r.clean(inboxes), nil
}

// ModeratorInboxes is where moderation events reach the remote moderators.
func (r *Audience) ModeratorInboxes(ctx context.Context, mag *domain.Magazine) ([]string, error) {
	if mag == nil {
		panic("activitypub: audience of an event without magazine")
	}
	if mag.IsCatchAll(r.inst) {
		return []string{}, nil
	}
	inboxes, err := r.magazines.ModeratorInboxes(ctx, mag)
	if err != nil {
		return nil, fmt.Errorf("failed to load moderators of %s: %w", mag.Name, err)
	}
	return r.clean(inboxes), nil
}

// FollowInboxes is exactly the personal inbox of a remote target.
func (r *Audience) FollowInboxes(target domain.Actor) []string {
	if target == nil {
		panic("activitypub: follow without target")
	}
	if target.IsLocal() {
		return []string{}
	}
	return r.clean([]string{target.InboxURL(r.inst)})
}

// ReportInboxes routes a Flag to the reported author and to the magazine
// when it is remote. Reports leave the node even for catch-all content.
func (r *Audience) ReportInboxes(ctx context.Context, c *domain.Content, mag *domain.Magazine) []string {
	var inboxes []string
	if c != nil && c.Author != nil && !c.Author.IsLocal() {
		inboxes = append(inboxes, c.Author.InboxURL(r.inst))
	}
	if mag != nil && !mag.IsLocal() {
		inboxes = append(inboxes, mag.InboxURL(r.inst))
	}
	return r.clean(inboxes)
}

// FilterOriginHost drops inboxes on the host object came from, so that a
// re-announced activity is not sent back to its origin.
func FilterOriginHost(inboxes []string, origin string) []string {
	host := hostOf(origin)
	if host == "" {
		return inboxes
	}
	out := make([]string, 0, len(inboxes))
	for _, inbox := range inboxes {
		if hostOf(inbox) != host {
			out = append(out, inbox)
		}
	}
	return out
}

func (r *Audience) mentionInboxes(ctx context.Context, actor domain.Actor, mag *domain.Magazine, cc []string) ([]string, error) {
	skip := map[string]bool{
		actor.FollowersURL(r.inst): true,
		actor.ProfileURL(r.inst):   true,
		mag.ProfileURL(r.inst):     true,
		mag.FollowersURL(r.inst):   true,
	}

	var inboxes []string
	for _, id := range uniq(cc) {
		if skip[id] || IsPublic(id) || r.inst.IsLocalURL(id) {
			continue
		}
		u, err := r.users.FindUserByProfileURL(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve mention %s: %w", id, err)
		}
		inboxes = append(inboxes, domain.PreferredInbox(u, r.inst))
	}
	return inboxes, nil
}

func (r *Audience) clean(inboxes []string) []string {
	out := make([]string, 0, len(inboxes))
	for _, inbox := range uniq(inboxes) {
		if r.inst.IsLocalURL(inbox) {
			continue
		}
		out = append(out, inbox)
	}
	return out
}
