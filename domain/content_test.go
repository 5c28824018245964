package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func testTime() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestContentPaths(t *testing.T) {
	mag := &Magazine{Name: "golang"}
	entry := &Content{Id: uuid.New(), Kind: KindEntry, Magazine: mag}
	comment := &Content{Id: uuid.New(), Kind: KindEntryComment, Magazine: mag, Root: entry}
	post := &Content{Id: uuid.New(), Kind: KindPost, Magazine: mag}
	reply := &Content{Id: uuid.New(), Kind: KindPostComment, Magazine: mag, Root: post}

	tests := []struct {
		content *Content
		want    string
	}{
		{entry, "/m/golang/t/" + entry.Id.String()},
		{comment, "/m/golang/t/" + entry.Id.String() + "/-/comment/" + comment.Id.String()},
		{post, "/m/golang/p/" + post.Id.String()},
		{reply, "/m/golang/p/" + post.Id.String() + "/-/reply/" + reply.Id.String()},
	}

	for _, tt := range tests {
		if got := tt.content.Path(); got != tt.want {
			t.Errorf("Expected path %s, got %s", tt.want, got)
		}
	}

	if got := comment.URL(testInstance); got != "https://example.com"+comment.Path() {
		t.Errorf("Unexpected URL %s", got)
	}
	if comment.ThreadRoot() != entry {
		t.Error("Expected comment root to be the entry")
	}
	if entry.ThreadRoot() != entry {
		t.Error("Expected entry to be its own root")
	}
}

func TestRemoteContentURL(t *testing.T) {
	c := &Content{Id: uuid.New(), Kind: KindPost, ApId: "https://remote.social/notes/1"}

	if c.IsLocal() {
		t.Error("Expected federated content")
	}
	if got := c.URL(testInstance); got != "https://remote.social/notes/1" {
		t.Errorf("Expected remote id, got %s", got)
	}
}

func TestCommentKind(t *testing.T) {
	if KindEntry.CommentKind() != KindEntryComment || KindEntryComment.CommentKind() != KindEntryComment {
		t.Error("Entries and their comments take entry comments")
	}
	if KindPost.CommentKind() != KindPostComment || KindPostComment.CommentKind() != KindPostComment {
		t.Error("Posts and their replies take post comments")
	}
	if KindEntry.IsComment() || !KindPostComment.IsComment() {
		t.Error("Unexpected IsComment result")
	}
}

func TestActivityInnerAccessors(t *testing.T) {
	user := &User{Id: uuid.New(), Username: "alice"}
	like := NewActivity(Like, user, URLObject{URL: "https://remote.social/notes/1"})
	undo := NewActivity(Undo, user, ActivityObject{Activity: like})

	if undo.InnerActivity() != like {
		t.Error("Expected inner activity to be the like")
	}
	if undo.InnerActivityURL() != "" {
		t.Error("Expected no inner URL for an embedded activity")
	}

	remoteUndo := NewActivity(Undo, user, URLObject{URL: "https://remote.social/activities/9"})
	if remoteUndo.InnerActivityURL() != "https://remote.social/activities/9" {
		t.Errorf("Unexpected inner URL %s", remoteUndo.InnerActivityURL())
	}
	if like.InnerActivityURL() != "" {
		t.Error("Likes never wrap an activity")
	}

	if got := like.URL(testInstance); got != "https://example.com/activities/"+like.UUID.String() {
		t.Errorf("Unexpected activity URL %s", got)
	}
	like.ApId = "https://remote.social/likes/1"
	if like.URL(testInstance) != like.ApId {
		t.Error("Remote activities keep their own id")
	}
}

func TestParseContentPath(t *testing.T) {
	mag := &Magazine{Name: "golang"}
	entry := &Content{Id: uuid.New(), Kind: KindEntry, Magazine: mag}
	comment := &Content{Id: uuid.New(), Kind: KindEntryComment, Magazine: mag, Root: entry}
	post := &Content{Id: uuid.New(), Kind: KindPost, Magazine: mag}
	reply := &Content{Id: uuid.New(), Kind: KindPostComment, Magazine: mag, Root: post}

	for _, c := range []*Content{entry, comment, post, reply} {
		kind, id, ok := ParseContentPath(c.Path())
		if !ok {
			t.Errorf("Expected %s to parse", c.Path())
			continue
		}
		if kind != c.Kind || id != c.Id {
			t.Errorf("Expected %s %s, got %s %s", c.Kind, c.Id, kind, id)
		}
	}

	for _, bad := range []string{"", "/u/alice", "/m/golang/t/not-a-uuid", "/m/golang/x/" + entry.Id.String(), "/m/golang/t/" + entry.Id.String() + "/-/reply/" + reply.Id.String()} {
		if _, _, ok := ParseContentPath(bad); ok {
			t.Errorf("Expected %q not to parse", bad)
		}
	}
}
