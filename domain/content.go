package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ContentKind string

const (
	KindEntry        ContentKind = "entry"
	KindEntryComment ContentKind = "entry_comment"
	KindPost         ContentKind = "post"
	KindPostComment  ContentKind = "post_comment"
)

// IsComment reports whether the kind hangs below a root entry or post.
func (k ContentKind) IsComment() bool {
	return k == KindEntryComment || k == KindPostComment
}

// CommentKind returns the comment kind that replies under a content of kind k.
func (k ContentKind) CommentKind() ContentKind {
	switch k {
	case KindEntry, KindEntryComment:
		return KindEntryComment
	default:
		return KindPostComment
	}
}

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType,omitempty"`
	Url       string `json:"url"`
	Name      string `json:"name,omitempty"`
}

type PollChoice struct {
	Name  string `json:"name"`
	Votes int    `json:"votes"`
}

// Content is an entry, post or one of their comments.
type Content struct {
	Id          uuid.UUID
	Kind        ContentKind
	ApId        string // empty for locally authored content
	Author      *User
	Magazine    *Magazine
	Parent      *Content // direct parent comment, nil for root-level replies
	Root        *Content // entry or post a comment belongs to
	Title       string
	Body        string
	Url         string
	Lang        string
	Sensitive   bool
	Tags        []string
	Mentions    []string
	Attachments []Attachment
	Poll        []PollChoice
	Visibility  Visibility
	IsLocked    bool
	Favourites  int
	Dislikes    int
	Shares      int
	CreatedAt   time.Time
	EditedAt    *time.Time
}

func (c *Content) IsLocal() bool { return c.ApId == "" }

// Path returns the local path of a locally authored content.
func (c *Content) Path() string {
	mag := ""
	if c.Magazine != nil {
		mag = c.Magazine.Name
	}
	switch c.Kind {
	case KindEntry:
		return fmt.Sprintf("/m/%s/t/%s", mag, c.Id)
	case KindEntryComment:
		return fmt.Sprintf("/m/%s/t/%s/-/comment/%s", mag, c.rootId(), c.Id)
	case KindPost:
		return fmt.Sprintf("/m/%s/p/%s", mag, c.Id)
	case KindPostComment:
		return fmt.Sprintf("/m/%s/p/%s/-/reply/%s", mag, c.rootId(), c.Id)
	}
	return ""
}

// ParseContentPath is the inverse of Path. It returns the kind and id of the
// content a local path points at.
func ParseContentPath(path string) (ContentKind, uuid.UUID, bool) {
	seg := strings.Split(strings.Trim(path, "/"), "/")
	if len(seg) < 4 || seg[0] != "m" {
		return "", uuid.Nil, false
	}
	var kind ContentKind
	var raw string
	switch {
	case len(seg) == 4 && seg[2] == "t":
		kind, raw = KindEntry, seg[3]
	case len(seg) == 4 && seg[2] == "p":
		kind, raw = KindPost, seg[3]
	case len(seg) == 7 && seg[2] == "t" && seg[4] == "-" && seg[5] == "comment":
		kind, raw = KindEntryComment, seg[6]
	case len(seg) == 7 && seg[2] == "p" && seg[4] == "-" && seg[5] == "reply":
		kind, raw = KindPostComment, seg[6]
	default:
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", uuid.Nil, false
	}
	return kind, id, true
}

// URL returns the public identity of the content.
func (c *Content) URL(inst Instance) string {
	if c.ApId != "" {
		return c.ApId
	}
	return inst.URL("%s", c.Path())
}

// ThreadRoot returns the entry or post at the top of the thread.
func (c *Content) ThreadRoot() *Content {
	if c.Root != nil {
		return c.Root
	}
	return c
}

func (c *Content) rootId() uuid.UUID {
	if c.Root != nil {
		return c.Root.Id
	}
	return uuid.Nil
}
