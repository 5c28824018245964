package activitypub

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"github.com/deemkeen/fedimag/util"
)

// ContentObject returns the JSON-LD representation of a content entity.
// Entries are Pages, everything else is a Note.
func (b *Builder) ContentObject(ctx context.Context, c *domain.Content) (map[string]any, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil content", ErrUnfederatedObject)
	}
	if !c.IsLocal() {
		if b.fetcher == nil {
			return nil, fmt.Errorf("cannot rebuild remote object %s", c.ApId)
		}
		doc, err := b.fetcher.GetObject(ctx, c.ApId)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}
	if c.Author == nil {
		panic("activitypub: local content without author")
	}

	inst := b.inst
	authorURL := c.Author.ProfileURL(inst)
	magURL := b.magazineURL(c.Magazine)

	doc := map[string]any{
		"@context":     Context(inst),
		"id":           c.URL(inst),
		"attributedTo": authorURL,
		"content":      util.MarkdownToHTML(c.Body),
		"mediaType":    "text/html",
		"source": map[string]any{
			"content":   c.Body,
			"mediaType": "text/markdown",
		},
		"published": formatTime(c.CreatedAt),
		"sensitive": c.Sensitive,
		"url":       c.URL(inst),
	}
	if c.EditedAt != nil {
		doc["updated"] = formatTime(*c.EditedAt)
	}
	if c.Lang != "" {
		doc["contentMap"] = map[string]any{c.Lang: doc["content"]}
	}
	if magURL != "" {
		doc["audience"] = magURL
	}
	if tags := b.tags(c); len(tags) > 0 {
		doc["tag"] = tags
	}

	var attachments []any
	for _, a := range c.Attachments {
		att := map[string]any{"type": a.Type, "url": a.Url}
		if a.MediaType != "" {
			att["mediaType"] = a.MediaType
		}
		if a.Name != "" {
			att["name"] = a.Name
		}
		attachments = append(attachments, att)
	}

	followers := c.Author.FollowersURL(inst)
	var to, cc []string

	switch c.Kind {
	case domain.KindEntry:
		doc["type"] = "Page"
		doc["name"] = c.Title
		doc["commentsEnabled"] = !c.IsLocked
		if c.Url != "" {
			attachments = append([]any{map[string]any{"type": "Link", "href": c.Url}}, attachments...)
		}
		if c.Visibility == domain.VisibilityPrivate {
			to, cc = []string{followers}, c.Mentions
		} else {
			to = []string{magURL, PublicAudience}
			cc = append([]string{followers}, c.Mentions...)
		}
	default:
		doc["type"] = "Note"
		if parent := c.Parent; parent != nil || c.Root != nil {
			if parent == nil {
				parent = c.Root
			}
			doc["inReplyTo"] = parent.URL(inst)
			if c.Root != nil {
				doc["context"] = c.Root.URL(inst)
			}
		}
		if c.Visibility == domain.VisibilityPrivate {
			to, cc = []string{followers}, c.Mentions
		} else {
			to = []string{PublicAudience}
			cc = []string{followers, magURL}
			if p := c.Parent; p != nil && p.Author != nil {
				cc = append(cc, p.Author.ProfileURL(inst))
			} else if r := c.Root; r != nil && r.Author != nil {
				cc = append(cc, r.Author.ProfileURL(inst))
			}
			cc = append(cc, c.Mentions...)
		}
	}

	if len(attachments) > 0 {
		doc["attachment"] = attachments
	}
	doc["to"] = uniqExcept(to, authorURL)
	doc["cc"] = uniqExcept(cc, authorURL)
	return doc, nil
}

func (b *Builder) tags(c *domain.Content) []any {
	var tags []any
	for _, tag := range c.Tags {
		tag = strings.TrimPrefix(tag, "#")
		if tag == "" {
			continue
		}
		tags = append(tags, map[string]any{
			"type": "Hashtag",
			"href": b.inst.URL("/tag/%s", url.PathEscape(tag)),
			"name": "#" + tag,
		})
	}
	for _, m := range c.Mentions {
		tags = append(tags, map[string]any{
			"type": "Mention",
			"href": m,
			"name": mentionName(m),
		})
	}
	return tags
}

// mentionName guesses @user@host from a profile URL.
func mentionName(profileURL string) string {
	u, err := url.Parse(profileURL)
	if err != nil || u.Host == "" {
		return profileURL
	}
	return "@" + strings.TrimPrefix(path.Base(u.Path), "@") + "@" + u.Host
}

// magazineURL is empty for a missing or catch-all magazine, neither is
// addressed on the wire.
func (b *Builder) magazineURL(m *domain.Magazine) string {
	if m == nil || m.IsCatchAll(b.inst) {
		return ""
	}
	return m.ProfileURL(b.inst)
}

func uniqExcept(in []string, skip string) []string {
	out := uniq(in)
	filtered := out[:0]
	for _, s := range out {
		if s != skip {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
