package usecase

import (
	"context"
	"sync"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
)

type memUsers struct {
	mu       sync.Mutex
	byID     map[string]domain.User
	byEntity map[string]domain.User
}

func newMemUsers(users ...domain.User) *memUsers {
	m := &memUsers{
		byID:     map[string]domain.User{},
		byEntity: map[string]domain.User{},
	}
	for _, u := range users {
		m.add(u)
	}
	return m
}

func (m *memUsers) add(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.ID] = u
	m.byEntity[tent.NormalizeEntity(u.Entity)] = u
}

func (m *memUsers) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) GetByEntity(_ context.Context, entity string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEntity[tent.NormalizeEntity(entity)]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) Register(_ context.Context, u domain.User) (domain.User, error) {
	m.add(u)
	return u, nil
}

func (m *memUsers) Discover(ctx context.Context, entity string) (domain.User, error) {
	return m.GetByEntity(ctx, entity)
}

func (m *memUsers) ResolveEntity(ctx context.Context, entity string) (domain.User, error) {
	return m.GetByEntity(ctx, entity)
}

type postKey struct {
	userID, postID, versionID string
}

type memPosts struct {
	mu     sync.Mutex
	rows   map[postKey]*tent.Post[any]
	order  []postKey
	latest map[postKey]string
}

func newMemPosts() *memPosts {
	return &memPosts{
		rows:   map[postKey]*tent.Post[any]{},
		latest: map[postKey]string{},
	}
}

func (m *memPosts) Create(_ context.Context, post *tent.Post[any]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *post
	key := postKey{post.UserID, post.ID, post.Version.ID}
	if _, seen := m.rows[key]; !seen {
		m.order = append(m.order, key)
	}
	m.rows[key] = &cp
	m.latest[postKey{userID: post.UserID, postID: post.ID}] = post.Version.ID
	return nil
}

func (m *memPosts) Get(_ context.Context, userID, postID, versionID string) (*tent.Post[any], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if versionID == "" {
		versionID = m.latest[postKey{userID: userID, postID: postID}]
	}
	post, ok := m.rows[postKey{userID, postID, versionID}]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	cp := *post
	return &cp, nil
}

func (m *memPosts) FirstVersion(_ context.Context, userID, postID string) (*tent.Post[any], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.order {
		if key.userID == userID && key.postID == postID {
			cp := *m.rows[key]
			return &cp, nil
		}
	}
	return nil, domain.ErrPostNotFound
}

func (m *memPosts) Query(_ context.Context, q domain.RangeQuery) ([]*tent.Post[any], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*tent.Post[any]
	for _, key := range m.order {
		post := m.rows[key]
		if key.userID != q.OwnerID && q.OwnerID != "" {
			continue
		}
		if !q.Filter.Match(post) {
			continue
		}
		cp := *post
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memPosts) Count(ctx context.Context, q domain.CountQuery) (int64, error) {
	rows, err := m.Query(ctx, domain.RangeQuery{OwnerID: q.OwnerID, Filter: q.Filter})
	return int64(len(rows)), err
}

func (m *memPosts) FindRelationship(_ context.Context, userID, targetUserID string) (*tent.Post[any], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range m.order {
		if key.userID != userID {
			continue
		}
		post := m.rows[key]
		if post.Type.Base() != tent.TypeRelationship.Base() {
			continue
		}
		latest := m.latest[postKey{userID: userID, postID: post.ID}]
		if key.versionID != latest {
			continue
		}
		for _, mn := range post.Mentions {
			if mn.UserID == targetUserID {
				cp := *post
				return &cp, nil
			}
		}
	}
	return nil, domain.ErrPostNotFound
}

// FetchPost lets the store double as the local resolver fetch path.
func (m *memPosts) FetchPost(ctx context.Context, userID, postID, versionID, requesterID string) (*tent.Post[any], error) {
	post, err := m.Get(ctx, userID, postID, versionID)
	if err != nil {
		return nil, err
	}
	if !Readable(post, requesterID) {
		return nil, domain.ErrPostNotFound
	}
	return post, nil
}

type memGraph struct {
	followings []string
	followers  []string
	friends    []string
}

func (g memGraph) Followings(context.Context, string) ([]string, error) { return g.followings, nil }
func (g memGraph) Followers(context.Context, string) ([]string, error)  { return g.followers, nil }
func (g memGraph) Friends(context.Context, string) ([]string, error)    { return g.friends, nil }

type queued struct {
	queue string
	env   domain.QueueEnvelope
}

type memQueue struct {
	mu   sync.Mutex
	sent []queued
}

func (m *memQueue) Enqueue(_ context.Context, queue string, env domain.QueueEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, queued{queue, env})
	return nil
}

func (m *memQueue) onQueue(queue string) []domain.QueueEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.QueueEnvelope
	for _, q := range m.sent {
		if q.queue == queue {
			out = append(out, q.env)
		}
	}
	return out
}

type memEvents struct {
	mu     sync.Mutex
	events []tent.Event
}

func (m *memEvents) Publish(_ context.Context, _ string, event tent.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

type memBewits struct {
	mu   sync.Mutex
	rows map[string]domain.Bewit
}

func newMemBewits() *memBewits {
	return &memBewits{rows: map[string]domain.Bewit{}}
}

func (m *memBewits) Create(_ context.Context, b domain.Bewit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[b.ID] = b
	return nil
}

func (m *memBewits) Get(_ context.Context, id string) (domain.Bewit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return domain.Bewit{}, domain.NotFoundError{Resource: "bewit"}
	}
	return b, nil
}

// fakeFederation scripts the outbound surface per test.
type fakeFederation struct {
	discover        func(entity string) (*tent.Post[any], error)
	getPost         func(entity, postID, versionID string, cred *Credential) (*tent.PostEnvelope, error)
	getURL          func(url string) (*tent.PostEnvelope, error)
	putRelationship func(entity string, rel *tent.Post[any], credsURL string) (*tent.PostEnvelope, error)
	putCalls        int
}

func (f *fakeFederation) Discover(_ context.Context, entity string) (*tent.Post[any], error) {
	if f.discover == nil {
		return nil, nil
	}
	return f.discover(entity)
}

func (f *fakeFederation) GetPost(_ context.Context, entity, postID, versionID string, cred *Credential) (*tent.PostEnvelope, error) {
	if f.getPost == nil {
		return nil, nil
	}
	return f.getPost(entity, postID, versionID, cred)
}

func (f *fakeFederation) GetURL(_ context.Context, url string) (*tent.PostEnvelope, error) {
	if f.getURL == nil {
		return nil, nil
	}
	return f.getURL(url)
}

func (f *fakeFederation) PutRelationship(_ context.Context, entity string, rel *tent.Post[any], credsURL string) (*tent.PostEnvelope, error) {
	f.putCalls++
	if f.putRelationship == nil {
		return nil, nil
	}
	return f.putRelationship(entity, rel, credsURL)
}
