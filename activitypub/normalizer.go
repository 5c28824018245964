package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NormalizerDeps are the collaborators of the inbound normalizer.
type NormalizerDeps struct {
	Instance  domain.Instance
	Users     UserRepository
	Magazines MagazineRepository
	Contents  ContentRepository
	Policy    InstancePolicy
	Fetcher   Fetcher
	Markdown  MarkdownConverter
	Metrics   *Metrics
	Log       *zap.Logger
}

// Normalizer materializes remote objects into local content.
type Normalizer struct {
	inst      domain.Instance
	users     UserRepository
	magazines MagazineRepository
	contents  ContentRepository
	policy    InstancePolicy
	fetcher   Fetcher
	markdown  MarkdownConverter
	metrics   *Metrics
	log       *zap.Logger
	now       func() time.Time
}

func NewNormalizer(d NormalizerDeps) *Normalizer {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	conv := d.Markdown
	if conv == nil {
		conv = NewMarkdownConverter(d.Instance.Domain)
	}
	return &Normalizer{
		inst:      d.Instance,
		users:     d.Users,
		magazines: d.Magazines,
		contents:  d.Contents,
		policy:    d.Policy,
		fetcher:   d.Fetcher,
		markdown:  conv,
		metrics:   d.Metrics,
		log:       log.Named("normalizer"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest turns object, sent by the actor at actorURL, into local content.
// Replaying an object returns the content created the first time. Policy
// refusals are reported as *IngestError.
func (n *Normalizer) Ingest(ctx context.Context, actorURL string, object map[string]any) (*domain.Content, error) {
	c, err := n.ingest(ctx, actorURL, object)
	switch outcome, ok := OutcomeOf(err); {
	case ok:
		n.metrics.ingestion(string(outcome))
		n.log.Info("Normalizer: Object refused",
			zap.String("id", idOf(object)),
			zap.String("outcome", string(outcome)))
	case err != nil:
		n.metrics.ingestion("error")
	default:
		n.metrics.ingestion("ingested")
	}
	return c, err
}

func (n *Normalizer) ingest(ctx context.Context, actorURL string, object map[string]any) (*domain.Content, error) {
	apId := idOf(object)
	if apId == "" {
		return nil, fmt.Errorf("object without id")
	}

	existing, err := n.lookup(ctx, apId)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	for _, host := range uniq([]string{hostOf(actorURL), hostOf(apId)}) {
		banned, err := n.policy.IsBannedInstance(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("failed to check instance %s: %w", host, err)
		}
		if banned {
			return nil, reject(OutcomeBannedInstance, apId)
		}
	}

	to, cc := idList(object["to"]), idList(object["cc"])

	var parent *domain.Content
	if replyTo := idOf(object["inReplyTo"]); replyTo != "" {
		parent, err = n.lookup(ctx, replyTo)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, reject(OutcomeParentNotFound, apId)
		}
		if err != nil {
			return nil, err
		}
		if parent.IsLocked || parent.ThreadRoot().IsLocked {
			return nil, reject(OutcomeLockedThread, apId)
		}
	}

	author, err := n.resolveAuthor(ctx, actorURL, object)
	if err != nil {
		return nil, err
	}
	switch {
	case author.IsBanned:
		return nil, reject(OutcomeBannedActor, apId)
	case author.DeletedAt != nil:
		return nil, reject(OutcomeDeletedActor, apId)
	case author.TrashedAt != nil:
		return nil, reject(OutcomeTrashedActor, apId)
	}

	c := &domain.Content{
		Id:        uuid.New(),
		ApId:      apId,
		Author:    author,
		Title:     str(object, "name"),
		Sensitive: object["sensitive"] == true,
		CreatedAt: n.parseTime(str(object, "published")),
	}
	if updated := str(object, "updated"); updated != "" {
		t := n.parseTime(updated)
		c.EditedAt = &t
	}
	c.Lang = language(object)
	c.Tags, c.Mentions = tagsOf(object["tag"])
	c.Url, c.Attachments = attachmentsOf(object["attachment"])

	if c.Body, err = n.body(object, c.Attachments); err != nil {
		return nil, err
	}

	addressed := append(append([]string{}, to...), cc...)
	switch {
	case containsPublic(addressed):
		c.Visibility = domain.VisibilityPublic
	case contains(addressed, author.FollowersURL(n.inst)):
		c.Visibility = domain.VisibilityPrivate
	default:
		return nil, reject(OutcomeUnsupportedVisibility, apId)
	}

	c.Favourites = totalItems(object["likes"])
	c.Dislikes = totalItems(object["dislikes"])
	c.Shares = totalItems(object["shares"])

	mag, err := n.magazineOf(ctx, object, parent, addressed)
	if err != nil {
		return nil, err
	}
	c.Magazine = mag
	if parent == nil && mag.PostingRestrictedToMods {
		mod, err := n.magazines.IsModerator(ctx, mag, author)
		if err != nil {
			return nil, fmt.Errorf("failed to check moderators of %s: %w", mag.Name, err)
		}
		if !mod {
			return nil, reject(OutcomePostingRestricted, apId)
		}
	}
	for _, tag := range c.Tags {
		banned, err := n.policy.IsBannedTag(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("failed to check tag %s: %w", tag, err)
		}
		if banned {
			return nil, reject(OutcomeTagBanned, apId)
		}
	}

	if parent != nil {
		c.Kind = parent.Kind.CommentKind()
		c.Root = parent.ThreadRoot()
		if parent.Kind.IsComment() {
			c.Parent = parent
		}
	} else {
		switch str(object, "type") {
		case "Page", "Article", "Video":
			c.Kind = domain.KindEntry
		default:
			c.Kind = domain.KindPost
		}
	}
	if str(object, "type") == "Question" {
		c.Poll = pollOf(object)
	}

	err = n.contents.SaveContent(ctx, c)
	if errors.Is(err, domain.ErrDuplicate) {
		// a concurrent delivery of the same object won
		return n.contents.FindContentByApID(ctx, apId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", apId, err)
	}

	n.log.Debug("Normalizer: Ingested object",
		zap.String("id", apId),
		zap.String("kind", string(c.Kind)),
		zap.String("magazine", mag.Name))
	return c, nil
}

// ResolveActor returns the local representation of the actor at profileURL,
// creating it from the fetched document on first sight.
func (n *Normalizer) ResolveActor(ctx context.Context, profileURL string) (domain.Actor, error) {
	if u, err := n.users.FindUserByProfileURL(ctx, profileURL); err == nil {
		return u, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if m, err := n.magazines.FindMagazineByProfileURL(ctx, profileURL); err == nil {
		return m, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if n.inst.IsLocalURL(profileURL) {
		return nil, fmt.Errorf("local actor %s: %w", profileURL, domain.ErrNotFound)
	}

	doc, err := n.fetcher.GetActorObject(ctx, profileURL)
	if err != nil {
		return nil, err
	}
	record := doc.RemoteActor(nil)
	record.LastFetchedAt = n.now()

	if doc.IsGroup() {
		m := &domain.Magazine{
			Id:                      uuid.New(),
			Name:                    record.Handle(),
			Title:                   doc.Name,
			Remote:                  record,
			PostingRestrictedToMods: doc.PostingRestrictedToMods,
			CreatedAt:               n.now(),
		}
		if err := n.magazines.SaveMagazine(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to save magazine %s: %w", profileURL, err)
		}
		return m, nil
	}

	u := &domain.User{
		Id:        uuid.New(),
		Username:  record.Handle(),
		Remote:    record,
		CreatedAt: n.now(),
	}
	if err := n.users.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to save user %s: %w", profileURL, err)
	}
	return u, nil
}

// resolveAuthor prefers attributedTo when it is on the host of the sender.
func (n *Normalizer) resolveAuthor(ctx context.Context, actorURL string, object map[string]any) (*domain.User, error) {
	profile := actorURL
	if attributed := idOf(object["attributedTo"]); attributed != "" && hostOf(attributed) == hostOf(actorURL) {
		profile = attributed
	}
	actor, err := n.ResolveActor(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve author %s: %w", profile, err)
	}
	u, ok := actor.(*domain.User)
	if !ok {
		return nil, fmt.Errorf("author %s is not a person", profile)
	}
	return u, nil
}

func (n *Normalizer) lookup(ctx context.Context, id string) (*domain.Content, error) {
	if n.inst.IsLocalURL(id) {
		u, err := url.Parse(id)
		if err != nil {
			return nil, domain.ErrNotFound
		}
		kind, localID, ok := domain.ParseContentPath(u.Path)
		if !ok {
			return nil, domain.ErrNotFound
		}
		return n.contents.FindContent(ctx, kind, localID)
	}
	return n.contents.FindContentByApID(ctx, id)
}

// magazineOf picks the magazine of the parent, the declared audience, the
// first addressed group, or the catch-all magazine.
func (n *Normalizer) magazineOf(ctx context.Context, object map[string]any, parent *domain.Content, addressed []string) (*domain.Magazine, error) {
	if parent != nil && parent.Magazine != nil {
		return parent.Magazine, nil
	}

	if audience := idOf(object["audience"]); audience != "" {
		actor, err := n.ResolveActor(ctx, audience)
		if err == nil {
			if m, ok := actor.(*domain.Magazine); ok {
				return m, nil
			}
		} else {
			n.log.Warn("Normalizer: Failed to resolve audience", zap.String("audience", audience), zap.Error(err))
		}
	}

	for _, id := range addressed {
		if IsPublic(id) {
			continue
		}
		m, err := n.magazines.FindMagazineByProfileURL(ctx, id)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	m, err := n.magazines.FindMagazineByName(ctx, n.inst.CatchAllMagazine)
	if err != nil {
		return nil, fmt.Errorf("failed to load catch-all magazine: %w", err)
	}
	return m, nil
}

func (n *Normalizer) body(object map[string]any, attachments []domain.Attachment) (string, error) {
	var body string
	if src, ok := object["source"].(map[string]any); ok && str(src, "mediaType") == "text/markdown" {
		body = str(src, "content")
	} else if html := str(object, "content"); html != "" {
		converted, err := n.markdown.Convert(html)
		if err != nil {
			return "", err
		}
		body = converted
	}

	if suffix := attachmentSuffix(attachments); suffix != "" {
		if body != "" {
			body += "\n\n"
		}
		body += suffix
	}
	return body, nil
}

func (n *Normalizer) parseTime(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return n.now()
}

func containsPublic(ids []string) bool {
	for _, id := range ids {
		if IsPublic(id) {
			return true
		}
	}
	return false
}

// language picks the contentMap entry that carries content, or the smallest
// language tag when none does.
func language(object map[string]any) string {
	m, ok := object["contentMap"].(map[string]any)
	if !ok || len(m) == 0 {
		return ""
	}
	langs := make([]string, 0, len(m))
	for lang := range m {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	if content := str(object, "content"); content != "" {
		for _, lang := range langs {
			if v, _ := m[lang].(string); v == content {
				return lang
			}
		}
	}
	return langs[0]
}

// tagsOf splits the tag property into hashtag names and mentioned profiles.
func tagsOf(v any) ([]string, []string) {
	var tags, mentions []string
	for _, t := range objects(v) {
		switch str(t, "type") {
		case "Hashtag":
			if name := strings.ToLower(strings.TrimPrefix(str(t, "name"), "#")); name != "" {
				tags = append(tags, name)
			}
		case "Mention":
			if href := str(t, "href"); href != "" {
				mentions = append(mentions, href)
			}
		}
	}
	return uniq(tags), uniq(mentions)
}

// attachmentsOf returns the link url of a Page and its media attachments.
func attachmentsOf(v any) (string, []domain.Attachment) {
	var link string
	var out []domain.Attachment
	for _, a := range objects(v) {
		kind := str(a, "type")
		if kind == "Link" {
			if link == "" {
				link = str(a, "href")
			}
			continue
		}
		u := idOf(a["url"])
		if u == "" {
			u = str(a, "href")
		}
		out = append(out, domain.Attachment{
			Type:      kind,
			MediaType: str(a, "mediaType"),
			Url:       u,
			Name:      str(a, "name"),
		})
	}
	return link, out
}

func pollOf(object map[string]any) []domain.PollChoice {
	choices := objects(object["oneOf"])
	if len(choices) == 0 {
		choices = objects(object["anyOf"])
	}
	out := make([]domain.PollChoice, 0, len(choices))
	for _, choice := range choices {
		out = append(out, domain.PollChoice{
			Name:  str(choice, "name"),
			Votes: totalItems(choice["replies"]),
		})
	}
	return out
}
