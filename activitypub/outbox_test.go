package activitypub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/deemkeen/fedimag/domain"
	"github.com/deemkeen/fedimag/queue"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type post struct {
	inbox string
	actor domain.Actor
	body  []byte
}

type fakePoster struct {
	mu    sync.Mutex
	posts []post
	err   error
}

func (p *fakePoster) Post(_ context.Context, inbox string, actor domain.Actor, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, post{inbox: inbox, actor: actor, body: body})
	return p.err
}

type outboxFixture struct {
	*builderFixture
	tasks   *recorder
	poster  *fakePoster
	enabled bool
	outbox  *Outbox
}

func newOutboxFixture(t *testing.T) *outboxFixture {
	t.Helper()
	f := &outboxFixture{
		builderFixture: newBuilderFixture(t),
		tasks:          &recorder{},
		poster:         &fakePoster{},
		enabled:        true,
	}
	f.outbox = NewOutbox(OutboxDeps{
		Instance:   testInstance,
		Enabled:    func() bool { return f.enabled },
		Users:      f.store,
		Magazines:  f.store,
		Contents:   f.store,
		Activities: f.store,
		Audience:   NewAudience(testInstance, f.store, f.store, f.store),
		Builder:    f.b,
		Tasks:      f.tasks,
		Poster:     f.poster,
		Log:        zaptest.NewLogger(t),
	})
	return f
}

// deliveries decodes the queued deliver tasks.
func (f *outboxFixture) deliveries(t *testing.T) []DeliverMessage {
	t.Helper()
	var out []DeliverMessage
	for _, task := range f.tasks.tasks {
		require.Equal(t, TaskDeliver, task.Kind)
		var msg DeliverMessage
		require.NoError(t, json.Unmarshal(task.Payload, &msg))
		out = append(out, msg)
	}
	return out
}

func (f *outboxFixture) inboxes(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, d := range f.deliveries(t) {
		out = append(out, d.Inbox)
	}
	return out
}

func (f *outboxFixture) built(t *testing.T, id uuid.UUID) map[string]any {
	t.Helper()
	a, err := f.store.FindActivity(context.Background(), id)
	require.NoError(t, err)
	doc, err := f.b.Build(context.Background(), a)
	require.NoError(t, err)
	return doc
}

func TestFollowOfRemoteUser(t *testing.T) {
	f := newOutboxFixture(t)

	err := f.outbox.HandleFollow(context.Background(), FollowMessage{
		FollowerID: f.alice.Id,
		TargetType: domain.ActorTypeUser,
		TargetID:   f.bob.Id,
	})
	require.NoError(t, err)

	deliveries := f.deliveries(t)
	require.Len(t, deliveries, 1)
	assert.Equal(t, remoteProfile+"/inbox", deliveries[0].Inbox)

	doc := f.built(t, deliveries[0].ActivityID)
	assert.Equal(t, "Follow", doc["type"])
	assert.Equal(t, remoteProfile, doc["object"])
}

func TestCreateReachesSubscribers(t *testing.T) {
	f := newOutboxFixture(t)
	f.store.subscribers[f.tech.Id] = []string{"https://remote.example/inbox"}
	entry := f.store.addEntry(f.alice, f.tech, "news")

	require.NoError(t, f.outbox.HandleCreate(context.Background(), ContentMessage{Kind: domain.KindEntry, ContentID: entry.Id}))

	deliveries := f.deliveries(t)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "https://remote.example/inbox", deliveries[0].Inbox)

	doc := f.built(t, deliveries[0].ActivityID)
	assert.Equal(t, "Create", doc["type"])
	assert.Equal(t, "https://fedimag.test/u/alice", doc["actor"])
}

func TestCreateInCatchAllStaysLocal(t *testing.T) {
	f := newOutboxFixture(t)
	f.store.subscribers[f.random.Id] = []string{"https://remote.example/inbox"}
	_ = f.store.AddFollower(context.Background(), f.alice, f.bob)
	entry := f.store.addEntry(f.alice, f.random, "local")

	require.NoError(t, f.outbox.HandleCreate(context.Background(), ContentMessage{Kind: domain.KindEntry, ContentID: entry.Id}))
	assert.Empty(t, f.tasks.tasks)
}

func TestCreateIncludesFollowersAndMentions(t *testing.T) {
	f := newOutboxFixture(t)
	carol := f.store.addRemoteUser(t, "https://other.example/users/carol")
	_ = f.store.AddFollower(context.Background(), f.alice, f.bob)
	entry := f.store.addEntry(f.alice, f.tech, "hi @carol")
	entry.Mentions = []string{carol.ProfileURL(testInstance)}

	require.NoError(t, f.outbox.HandleCreate(context.Background(), ContentMessage{Kind: domain.KindEntry, ContentID: entry.Id}))
	assert.ElementsMatch(t, []string{"https://remote.example/inbox", "https://other.example/inbox"}, f.inboxes(t))
}

func TestPrivateContentSkipsMagazine(t *testing.T) {
	f := newOutboxFixture(t)
	f.store.subscribers[f.tech.Id] = []string{"https://subscriber.example/inbox"}
	_ = f.store.AddFollower(context.Background(), f.alice, f.bob)
	entry := f.store.addEntry(f.alice, f.tech, "followers only")
	entry.Visibility = domain.VisibilityPrivate

	require.NoError(t, f.outbox.HandleCreate(context.Background(), ContentMessage{Kind: domain.KindEntry, ContentID: entry.Id}))
	assert.Equal(t, []string{"https://remote.example/inbox"}, f.inboxes(t))
}

func TestRemoteContentIsNotRecreated(t *testing.T) {
	f := newOutboxFixture(t)
	entry := f.store.addEntry(f.bob, f.tech, "")
	entry.ApId = "https://remote.example/m/tech/t/1"

	require.NoError(t, f.outbox.HandleCreate(context.Background(), ContentMessage{Kind: domain.KindEntry, ContentID: entry.Id}))
	assert.Empty(t, f.tasks.tasks)
}

func TestFederationToggle(t *testing.T) {
	f := newOutboxFixture(t)
	f.enabled = false
	f.store.subscribers[f.tech.Id] = []string{"https://remote.example/inbox"}
	entry := f.store.addEntry(f.alice, f.tech, "news")

	require.NoError(t, f.outbox.HandleCreate(context.Background(), ContentMessage{Kind: domain.KindEntry, ContentID: entry.Id}))
	require.NoError(t, f.outbox.HandleFollow(context.Background(), FollowMessage{FollowerID: f.alice.Id, TargetID: f.bob.Id}))
	require.NoError(t, f.outbox.HandleDeliver(context.Background(), DeliverMessage{Inbox: "https://remote.example/inbox", ActivityID: uuid.New()}))

	assert.Empty(t, f.tasks.tasks)
	assert.Empty(t, f.store.activities)
	assert.Empty(t, f.poster.posts)
}

func TestMissingContentIsPermanent(t *testing.T) {
	f := newOutboxFixture(t)
	err := f.outbox.HandleCreate(context.Background(), ContentMessage{Kind: domain.KindEntry, ContentID: uuid.New()})
	assert.True(t, queue.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLikeAndUndoLike(t *testing.T) {
	f := newOutboxFixture(t)
	entry := f.store.addEntry(f.bob, f.tech, "")
	entry.ApId = "https://remote.example/m/tech/t/1"
	likeID := uuid.New()

	require.NoError(t, f.outbox.HandleLike(context.Background(), LikeMessage{
		ActivityID: likeID,
		UserID:     f.alice.Id,
		Kind:       domain.KindEntry,
		ContentID:  entry.Id,
	}))
	assert.Equal(t, []string{"https://remote.example/inbox"}, f.inboxes(t))
	assert.Equal(t, likeID, f.deliveries(t)[0].ActivityID)

	f.tasks.tasks = nil
	require.NoError(t, f.outbox.HandleUndoLike(context.Background(), UndoLikeMessage{UserID: f.alice.Id, LikeActivityID: likeID}))

	deliveries := f.deliveries(t)
	require.Len(t, deliveries, 1)
	doc := f.built(t, deliveries[0].ActivityID)
	assert.Equal(t, "Undo", doc["type"])
	assert.Equal(t, "https://fedimag.test/u/alice", doc["actor"])
	inner := doc["object"].(map[string]any)
	assert.Equal(t, "Like", inner["type"])
	assert.NotContains(t, inner, "@context")
}

func TestUnfollowWithoutStoredFollow(t *testing.T) {
	f := newOutboxFixture(t)

	require.NoError(t, f.outbox.HandleUnfollow(context.Background(), UnfollowMessage{
		FollowerID:       f.alice.Id,
		TargetType:       domain.ActorTypeUser,
		TargetID:         f.bob.Id,
		FollowActivityID: uuid.New(),
	}))

	deliveries := f.deliveries(t)
	require.Len(t, deliveries, 1)
	doc := f.built(t, deliveries[0].ActivityID)
	assert.Equal(t, "Undo", doc["type"])
	assert.Equal(t, remoteProfile, doc["object"].(map[string]any)["object"])
}

func TestAcceptOfRemoteFollow(t *testing.T) {
	f := newOutboxFixture(t)
	follow := &domain.Activity{
		UUID:   uuid.New(),
		ApId:   "https://remote.example/follows/1",
		Kind:   domain.Follow,
		Actor:  f.bob,
		Object: domain.ActorObject{Actor: f.tech},
	}
	require.NoError(t, f.store.SaveActivity(context.Background(), follow))

	require.NoError(t, f.outbox.HandleFollowResponse(context.Background(), FollowResponseMessage{
		ActorType:        domain.ActorTypeMagazine,
		ActorID:          f.tech.Id,
		FollowActivityID: follow.UUID,
		Accept:           true,
	}))

	deliveries := f.deliveries(t)
	require.Len(t, deliveries, 1)
	assert.Equal(t, remoteProfile+"/inbox", deliveries[0].Inbox)
	doc := f.built(t, deliveries[0].ActivityID)
	assert.Equal(t, "Accept", doc["type"])
	assert.Equal(t, "https://remote.example/follows/1", doc["object"].(map[string]any)["id"])
}

func TestAnnounceRelayFiltersOrigin(t *testing.T) {
	f := newOutboxFixture(t)
	f.store.subscribers[f.tech.Id] = []string{"https://remote.example/inbox", "https://other.example/inbox"}

	require.NoError(t, f.outbox.HandleAnnounce(context.Background(), AnnounceMessage{
		ActorType: domain.ActorTypeMagazine,
		ActorID:   f.tech.Id,
		ObjectURL: "https://remote.example/activities/create/1",
	}))
	assert.Equal(t, []string{"https://other.example/inbox"}, f.inboxes(t))
}

func TestModeratorAdd(t *testing.T) {
	f := newOutboxFixture(t)
	f.store.subscribers[f.tech.Id] = []string{"https://sub.example/inbox"}

	require.NoError(t, f.outbox.HandleModerator(context.Background(), ModeratorMessage{
		ActorID:    f.alice.Id,
		MagazineID: f.tech.Id,
		UserID:     f.bob.Id,
	}))
	assert.ElementsMatch(t, []string{"https://sub.example/inbox", "https://remote.example/inbox"}, f.inboxes(t))

	doc := f.built(t, f.deliveries(t)[0].ActivityID)
	assert.Equal(t, "Add", doc["type"])
	assert.Equal(t, "https://fedimag.test/m/tech/moderators", doc["target"])
}

func TestPinEntry(t *testing.T) {
	f := newOutboxFixture(t)
	f.store.subscribers[f.tech.Id] = []string{"https://sub.example/inbox"}
	entry := f.store.addEntry(f.alice, f.tech, "pinned")

	require.NoError(t, f.outbox.HandlePin(context.Background(), PinMessage{ActorID: f.alice.Id, EntryID: entry.Id, Remove: true}))
	doc := f.built(t, f.deliveries(t)[0].ActivityID)
	assert.Equal(t, "Remove", doc["type"])
	assert.Equal(t, entry.URL(testInstance), doc["object"])
	assert.Equal(t, "https://fedimag.test/m/tech/pinned", doc["target"])
}

func TestFlagOfCatchAllContentLeavesNode(t *testing.T) {
	f := newOutboxFixture(t)
	entry := f.store.addEntry(f.bob, f.random, "")
	entry.ApId = "https://remote.example/notes/7"

	require.NoError(t, f.outbox.HandleFlag(context.Background(), FlagMessage{
		ReporterID: f.alice.Id,
		Kind:       domain.KindEntry,
		ContentID:  entry.Id,
		Reason:     "spam",
	}))
	assert.Equal(t, []string{remoteProfile + "/inbox"}, f.inboxes(t))
}

func TestBlockAndUndoBlock(t *testing.T) {
	f := newOutboxFixture(t)
	blockID := uuid.New()

	require.NoError(t, f.outbox.HandleBlock(context.Background(), BlockMessage{
		ActivityID: blockID,
		ActorID:    f.alice.Id,
		MagazineID: f.tech.Id,
		UserID:     f.bob.Id,
		Reason:     "rude",
	}))
	assert.Equal(t, []string{"https://remote.example/inbox"}, f.inboxes(t))

	f.tasks.tasks = nil
	require.NoError(t, f.outbox.HandleBlock(context.Background(), BlockMessage{
		ActorID:         f.alice.Id,
		MagazineID:      f.tech.Id,
		UserID:          f.bob.Id,
		Undo:            true,
		BlockActivityID: blockID,
	}))
	doc := f.built(t, f.deliveries(t)[0].ActivityID)
	assert.Equal(t, "Undo", doc["type"])
	assert.Equal(t, "Block", doc["object"].(map[string]any)["type"])
}

func TestDeleteAccount(t *testing.T) {
	f := newOutboxFixture(t)
	_ = f.store.AddFollower(context.Background(), f.alice, f.bob)

	require.NoError(t, f.outbox.HandleDelete(context.Background(), DeleteMessage{ActorType: domain.ActorTypeUser, ActorID: f.alice.Id}))
	doc := f.built(t, f.deliveries(t)[0].ActivityID)
	assert.Equal(t, "Delete", doc["type"])
	assert.Equal(t, "https://fedimag.test/u/alice", doc["object"])
}

func TestDeliver(t *testing.T) {
	f := newOutboxFixture(t)
	follow := domain.NewActivity(domain.Follow, f.alice, domain.ActorObject{Actor: f.bob})
	require.NoError(t, f.store.SaveActivity(context.Background(), follow))

	msg := DeliverMessage{Inbox: remoteProfile + "/inbox", ActivityID: follow.UUID}
	require.NoError(t, f.outbox.HandleDeliver(context.Background(), msg))
	require.Len(t, f.poster.posts, 1)
	assert.Equal(t, f.alice, f.poster.posts[0].actor)
	assert.Equal(t, follow.CachedJSON, f.poster.posts[0].body)

	f.poster.err = &DeliveryError{Inbox: msg.Inbox, Status: http.StatusServiceUnavailable}
	err := f.outbox.HandleDeliver(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))

	f.poster.err = &DeliveryError{Inbox: msg.Inbox, Status: http.StatusForbidden}
	assert.True(t, queue.IsPermanent(f.outbox.HandleDeliver(context.Background(), msg)))

	f.poster.err = ErrActorUnavailable
	assert.True(t, queue.IsPermanent(f.outbox.HandleDeliver(context.Background(), msg)))
}

func TestRegisterRoutesTasks(t *testing.T) {
	f := newOutboxFixture(t)
	router := queue.NewRouter()
	f.outbox.Register(router)
	assert.Len(t, router.Kinds(), 14)

	task, err := queue.NewTask(TaskFollow, FollowMessage{FollowerID: f.alice.Id, TargetType: domain.ActorTypeUser, TargetID: f.bob.Id})
	require.NoError(t, err)
	require.NoError(t, router.Route(context.Background(), task))
	assert.Equal(t, []string{TaskDeliver}, f.tasks.kinds())
}

func TestAudienceWithoutActorPanics(t *testing.T) {
	f := newOutboxFixture(t)
	audience := NewAudience(testInstance, f.store, f.store, f.store)
	assert.Panics(t, func() { _, _ = audience.ContentInboxes(context.Background(), nil, f.tech, nil) })
	assert.Panics(t, func() { _, _ = audience.ContentInboxes(context.Background(), f.alice, nil, nil) })
}

func TestAudienceCatchAllIsEmpty(t *testing.T) {
	f := newOutboxFixture(t)
	f.store.subscribers[f.random.Id] = []string{"https://remote.example/inbox"}
	_ = f.store.AddFollower(context.Background(), f.alice, f.bob)
	audience := NewAudience(testInstance, f.store, f.store, f.store)

	inboxes, err := audience.ContentInboxes(context.Background(), f.alice, f.random, []string{remoteProfile})
	require.NoError(t, err)
	assert.Empty(t, inboxes)

	inboxes, err = audience.MagazineInboxes(context.Background(), f.random)
	require.NoError(t, err)
	assert.Empty(t, inboxes)
}

func TestAudienceRemoteMagazine(t *testing.T) {
	f := newOutboxFixture(t)
	lemmy := f.store.addRemoteMagazine(t, "https://lemmy.example/c/golang")
	audience := NewAudience(testInstance, f.store, f.store, f.store)

	inboxes, err := audience.MagazineInboxes(context.Background(), lemmy)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://lemmy.example/inbox"}, inboxes)
}

func TestFilterOriginHost(t *testing.T) {
	in := []string{"https://a.example/inbox", "https://b.example/inbox", "https://a.example/u/x/inbox"}
	assert.Equal(t, []string{"https://b.example/inbox"}, FilterOriginHost(in, "https://a.example/activities/1"))
	assert.Equal(t, in, FilterOriginHost(in, ""))
}
