package activitypub

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/fedimag/domain"
	"github.com/deemkeen/fedimag/queue"
	"github.com/google/uuid"
)

var testInstance = domain.Instance{
	Domain:           "fedimag.test",
	SharedInboxPath:  "/f/inbox",
	CatchAllMagazine: "random",
}

// memStore implements every repository port in memory.
type memStore struct {
	mu          sync.Mutex
	inst        domain.Instance
	users       map[uuid.UUID]*domain.User
	magazines   map[uuid.UUID]*domain.Magazine
	contents    map[uuid.UUID]*domain.Content
	activities  map[uuid.UUID]*domain.Activity
	remotes     map[string]*domain.RemoteActor
	followers   map[string][]*domain.User
	subscribers map[uuid.UUID][]string
	moderators  map[uuid.UUID][]*domain.User
	bannedHosts map[string]bool
	bannedTags  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		inst:        testInstance,
		users:       map[uuid.UUID]*domain.User{},
		magazines:   map[uuid.UUID]*domain.Magazine{},
		contents:    map[uuid.UUID]*domain.Content{},
		activities:  map[uuid.UUID]*domain.Activity{},
		remotes:     map[string]*domain.RemoteActor{},
		followers:   map[string][]*domain.User{},
		subscribers: map[uuid.UUID][]string{},
		moderators:  map[uuid.UUID][]*domain.User{},
		bannedHosts: map[string]bool{},
		bannedTags:  map[string]bool{},
	}
}

func (s *memStore) FindUserByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) FindUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) FindUserByProfileURL(_ context.Context, profileURL string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ProfileURL(s.inst) == profileURL {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) SaveUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Id] = u
	return nil
}

func (s *memStore) FollowerInboxes(_ context.Context, actor domain.Actor) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, f := range s.followers[actor.ProfileURL(s.inst)] {
		if !f.IsLocal() {
			out = append(out, domain.PreferredInbox(f, s.inst))
		}
	}
	return out, nil
}

func (s *memStore) AddFollower(_ context.Context, followed domain.Actor, follower *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := followed.ProfileURL(s.inst)
	for _, f := range s.followers[key] {
		if f.Id == follower.Id {
			return nil
		}
	}
	s.followers[key] = append(s.followers[key], follower)
	return nil
}

func (s *memStore) RemoveFollower(_ context.Context, followed domain.Actor, follower *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := followed.ProfileURL(s.inst)
	kept := s.followers[key][:0]
	for _, f := range s.followers[key] {
		if f.Id != follower.Id {
			kept = append(kept, f)
		}
	}
	s.followers[key] = kept
	return nil
}

func (s *memStore) FindMagazineByID(_ context.Context, id uuid.UUID) (*domain.Magazine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.magazines[id]; ok {
		return m, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) FindMagazineByName(_ context.Context, name string) (*domain.Magazine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.magazines {
		if strings.EqualFold(m.Name, name) {
			return m, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) FindMagazineByProfileURL(_ context.Context, profileURL string) (*domain.Magazine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.magazines {
		if m.ProfileURL(s.inst) == profileURL {
			return m, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) SubscriberInboxes(_ context.Context, m *domain.Magazine) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.subscribers[m.Id]...), nil
}

func (s *memStore) ModeratorInboxes(_ context.Context, m *domain.Magazine) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, u := range s.moderators[m.Id] {
		if !u.IsLocal() {
			out = append(out, domain.PreferredInbox(u, s.inst))
		}
	}
	return out, nil
}

func (s *memStore) IsModerator(_ context.Context, m *domain.Magazine, u *domain.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mod := range s.moderators[m.Id] {
		if mod.Id == u.Id {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) SaveMagazine(_ context.Context, m *domain.Magazine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.magazines[m.Id] = m
	return nil
}

func (s *memStore) FindContent(_ context.Context, kind domain.ContentKind, id uuid.UUID) (*domain.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contents[id]; ok && c.Kind == kind {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) FindContentByApID(_ context.Context, apId string) (*domain.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contents {
		if c.ApId != "" && c.ApId == apId {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) SaveContent(_ context.Context, c *domain.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.contents {
		if c.ApId != "" && existing.ApId == c.ApId && existing.Id != c.Id {
			return domain.ErrDuplicate
		}
	}
	s.contents[c.Id] = c
	return nil
}

func (s *memStore) SaveActivity(_ context.Context, a *domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[a.UUID] = a
	return nil
}

func (s *memStore) FindActivity(_ context.Context, id uuid.UUID) (*domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.activities[id]; ok {
		return a, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) StoreCachedJSON(_ context.Context, id uuid.UUID, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(a.CachedJSON) == 0 {
		a.CachedJSON = append([]byte{}, doc...)
	}
	return nil
}

func (s *memStore) FindRemoteActor(_ context.Context, profileURL string) (*domain.RemoteActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.remotes[profileURL]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) FindRemoteActorByInbox(_ context.Context, inbox string) (*domain.RemoteActor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.remotes {
		if r.InboxUrl == inbox {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) UpsertRemoteActor(_ context.Context, r *domain.RemoteActor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Id == uuid.Nil {
		r.Id = uuid.New()
	}
	s.remotes[r.ProfileId] = r
	return nil
}

func (s *memStore) MarkRemoteActor(_ context.Context, profileURL string, m domain.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.remotes[profileURL]; ok {
		m.Apply(r)
	}
	return nil
}

func (s *memStore) IsBannedInstance(_ context.Context, host string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bannedHosts[host], nil
}

func (s *memStore) IsBannedTag(_ context.Context, tag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bannedTags[tag], nil
}

// Fixtures

func (s *memStore) addLocalUser(t *testing.T, name string) *domain.User {
	t.Helper()
	key, pub := generateTestKeyPair(t, 0)
	u := &domain.User{
		Id:         uuid.New(),
		Username:   name,
		PublicKey:  publicKeyToPEM(pub),
		PrivateKey: privateKeyToPEM(key),
		CreatedAt:  time.Now(),
	}
	s.users[u.Id] = u
	return u
}

func remoteRecord(profile, kind string) *domain.RemoteActor {
	host := hostOf(profile)
	return &domain.RemoteActor{
		Id:             uuid.New(),
		ProfileId:      profile,
		Type:           kind,
		Username:       profile[strings.LastIndex(profile, "/")+1:],
		InboxUrl:       profile + "/inbox",
		SharedInboxUrl: "https://" + host + "/inbox",
		FollowersUrl:   profile + "/followers",
		LastFetchedAt:  time.Now(),
	}
}

func (s *memStore) addRemoteUser(t *testing.T, profile string) *domain.User {
	t.Helper()
	r := remoteRecord(profile, "Person")
	u := &domain.User{Id: uuid.New(), Username: r.Handle(), Remote: r, CreatedAt: time.Now()}
	s.users[u.Id] = u
	s.remotes[profile] = r
	return u
}

func (s *memStore) addLocalMagazine(t *testing.T, name string) *domain.Magazine {
	t.Helper()
	key, pub := generateTestKeyPair(t, 1)
	m := &domain.Magazine{
		Id:         uuid.New(),
		Name:       name,
		PublicKey:  publicKeyToPEM(pub),
		PrivateKey: privateKeyToPEM(key),
		CreatedAt:  time.Now(),
	}
	s.magazines[m.Id] = m
	return m
}

func (s *memStore) addRemoteMagazine(t *testing.T, profile string) *domain.Magazine {
	t.Helper()
	r := remoteRecord(profile, "Group")
	m := &domain.Magazine{Id: uuid.New(), Name: r.Handle(), Remote: r, CreatedAt: time.Now()}
	s.magazines[m.Id] = m
	s.remotes[profile] = r
	return m
}

func (s *memStore) addEntry(author *domain.User, mag *domain.Magazine, body string) *domain.Content {
	c := &domain.Content{
		Id:         uuid.New(),
		Kind:       domain.KindEntry,
		Author:     author,
		Magazine:   mag,
		Title:      "Entry title",
		Body:       body,
		Visibility: domain.VisibilityPublic,
		CreatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	s.contents[c.Id] = c
	return c
}

// recorder is a queue.Dispatcher keeping every task.
type recorder struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (r *recorder) Dispatch(_ context.Context, task queue.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.Kind
	}
	return out
}

// fakeFetcher serves documents from memory.
type fakeFetcher struct {
	mu      sync.Mutex
	actors  map[string]*ActorDocument
	objects map[string]map[string]any
	calls   int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{actors: map[string]*ActorDocument{}, objects: map[string]map[string]any{}}
}

func (f *fakeFetcher) GetActorObject(_ context.Context, profileURL string) (*ActorDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if doc, ok := f.actors[profileURL]; ok {
		return doc, nil
	}
	return nil, &FetchError{URL: profileURL, Status: http.StatusNotFound, Marker: domain.MarkerDeleted}
}

func (f *fakeFetcher) GetObject(_ context.Context, rawURL string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if doc, ok := f.objects[rawURL]; ok {
		return doc, nil
	}
	return nil, &FetchError{URL: rawURL, Status: http.StatusNotFound}
}

func personDocument(profile, publicKeyPem string) *ActorDocument {
	doc := &ActorDocument{
		ID:                profile,
		Type:              "Person",
		PreferredUsername: profile[strings.LastIndex(profile, "/")+1:],
		Inbox:             profile + "/inbox",
		Followers:         profile + "/followers",
		Endpoints:         &ActorEndpoints{SharedInbox: "https://" + hostOf(profile) + "/inbox"},
	}
	doc.PublicKey.ID = KeyId(profile)
	doc.PublicKey.Owner = profile
	doc.PublicKey.PublicKeyPem = publicKeyPem
	return doc
}

// roundTripFunc serves HTTP requests without a network.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{ContentTypeActivity}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
