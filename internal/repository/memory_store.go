package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/forumscope/internal/model"
)

// MemoryStore はプロセス内メモリ上の実装。
// 各リポジトリインターフェースをビューとして提供し、サービス・ハンドラのテストで使用する。
type MemoryStore struct {
	mu sync.Mutex

	nextID     int64
	categories map[int64]*model.Category
	sources    map[int64]*model.Source
	posts      map[int64]*model.Post
	votes      map[voteKey]*model.Vote
	curations  []*model.Curation
	users      map[string]*model.User
}

type voteKey struct {
	userID string
	postID int64
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		categories: make(map[int64]*model.Category),
		sources:    make(map[int64]*model.Source),
		posts:      make(map[int64]*model.Post),
		votes:      make(map[voteKey]*model.Vote),
		users:      make(map[string]*model.User),
	}
}

func (s *MemoryStore) newID() int64 {
	s.nextID++
	return s.nextID
}

// Categories はCategoryRepositoryとしてのビューを返す。
func (s *MemoryStore) Categories() CategoryRepository { return &memCategoryRepo{s} }

// Sources はSourceRepositoryとしてのビューを返す。
func (s *MemoryStore) Sources() SourceRepository { return &memSourceRepo{s} }

// Posts はPostRepositoryとしてのビューを返す。
func (s *MemoryStore) Posts() PostRepository { return &memPostRepo{s} }

// Votes はVoteRepositoryとしてのビューを返す。
func (s *MemoryStore) Votes() VoteRepository { return &memVoteRepo{s} }

// Curations はCurationRepositoryとしてのビューを返す。
func (s *MemoryStore) Curations() CurationRepository { return &memCurationRepo{s} }

// Users はUserRepositoryとしてのビューを返す。
func (s *MemoryStore) Users() UserRepository { return &memUserRepo{s} }

func copyCategory(c *model.Category) *model.Category {
	cp := *c
	return &cp
}

func copyPost(p *model.Post) *model.Post {
	cp := *p
	cp.Tags = append([]string{}, p.Tags...)
	if p.Engagement != nil {
		e := *p.Engagement
		cp.Engagement = &e
	}
	return &cp
}

// --- categories ---

type memCategoryRepo struct{ s *MemoryStore }

func (r *memCategoryRepo) List(_ context.Context, includeInactive bool) ([]*model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Category
	for _, c := range r.s.categories {
		if includeInactive || c.IsActive {
			out = append(out, copyCategory(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memCategoryRepo) FindByID(_ context.Context, id int64) (*model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c, ok := r.s.categories[id]; ok {
		return copyCategory(c), nil
	}
	return nil, nil
}

func (r *memCategoryRepo) FindBySlug(_ context.Context, slug string) (*model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.categoryBySlugLocked(slug), nil
}

func (s *MemoryStore) categoryBySlugLocked(slug string) *model.Category {
	for _, c := range s.categories {
		if c.Slug == slug {
			return copyCategory(c)
		}
	}
	return nil
}

func (r *memCategoryRepo) Create(_ context.Context, c *model.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.categories {
		if existing.Slug == c.Slug || existing.Name == c.Name {
			return ErrDuplicate
		}
	}
	now := time.Now()
	c.ID = r.s.newID()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.categories[c.ID] = copyCategory(c)
	return nil
}

func (r *memCategoryRepo) ToggleActive(_ context.Context, id int64) (*model.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.categories[id]
	if !ok {
		return nil, nil
	}
	c.IsActive = !c.IsActive
	c.UpdatedAt = time.Now()
	return copyCategory(c), nil
}

// --- sources ---

type memSourceRepo struct{ s *MemoryStore }

func (r *memSourceRepo) List(_ context.Context) ([]*model.Source, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Source
	for _, src := range r.s.sources {
		cp := *src
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memSourceRepo) Create(_ context.Context, src *model.Source) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	src.ID = r.s.newID()
	src.CreatedAt = time.Now()
	cp := *src
	r.s.sources[src.ID] = &cp
	return nil
}

// --- posts ---

type memPostRepo struct{ s *MemoryStore }

func (s *MemoryStore) categorySlugLocked(id *int64) string {
	if id == nil {
		return ""
	}
	if c, ok := s.categories[*id]; ok {
		return c.Slug
	}
	return ""
}

func (r *memPostRepo) List(_ context.Context, f model.PostFilter, now time.Time) ([]*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.Post{}
	for _, p := range r.s.posts {
		if f.Matches(p, r.s.categorySlugLocked(p.CategoryID), now) {
			out = append(out, copyPost(p))
		}
	}
	// map順序に依存しないようID降順で初期化してから安定ソートする
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	model.SortPosts(out, f.SortBy)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memPostRepo) FindByID(_ context.Context, id int64) (*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if p, ok := r.s.posts[id]; ok {
		return copyPost(p), nil
	}
	return nil, nil
}

func (r *memPostRepo) ExistsByURL(_ context.Context, url string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.urlExistsLocked(url), nil
}

func (s *MemoryStore) urlExistsLocked(url string) bool {
	if url == "" {
		return false
	}
	for _, p := range s.posts {
		if p.URL == url {
			return true
		}
	}
	return false
}

func (r *memPostRepo) Create(_ context.Context, p *model.Post) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.urlExistsLocked(p.URL) {
		return ErrDuplicateURL
	}
	if p.ScrapedAt.IsZero() {
		p.ScrapedAt = time.Now()
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.BaseScore == 0 {
		p.BaseScore = p.TrendingScore
	}
	p.ID = r.s.newID()
	p.UserScore = p.Upvotes - p.Downvotes
	r.s.posts[p.ID] = copyPost(p)
	return nil
}

func (r *memPostRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.posts[id]; !ok {
		return ErrNotFound
	}
	delete(r.s.posts, id)
	for k := range r.s.votes {
		if k.postID == id {
			delete(r.s.votes, k)
		}
	}
	kept := r.s.curations[:0]
	for _, c := range r.s.curations {
		if c.PostID != id {
			kept = append(kept, c)
		}
	}
	r.s.curations = kept
	return nil
}

func (r *memPostRepo) ListForRescore(_ context.Context, since time.Time, limit int) ([]*model.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*model.Post
	for _, p := range r.s.posts {
		if p.PublishedAt != nil && !p.PublishedAt.Before(since) {
			out = append(out, copyPost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.RescoredAt == nil && b.RescoredAt != nil:
			return true
		case a.RescoredAt != nil && b.RescoredAt == nil:
			return false
		case a.RescoredAt != nil && !a.RescoredAt.Equal(*b.RescoredAt):
			return a.RescoredAt.Before(*b.RescoredAt)
		case a.TrendingScore != b.TrendingScore:
			return a.TrendingScore > b.TrendingScore
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPostRepo) UpdateScores(_ context.Context, id int64, engagement *model.Engagement, trendingScore int, rescoredAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[id]
	if !ok {
		return ErrNotFound
	}
	if engagement != nil {
		e := *engagement
		p.Engagement = &e
	} else {
		p.Engagement = nil
	}
	p.TrendingScore = trendingScore
	t := rescoredAt
	p.RescoredAt = &t
	return nil
}

func (r *memPostRepo) CategoryAnalytics(_ context.Context, categoryID int64, now time.Time) (*model.CategoryAnalytics, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a := &model.CategoryAnalytics{CategoryID: categoryID, LastUpdated: now}
	sources := make(map[string]struct{})
	for _, p := range r.s.posts {
		if p.CategoryID == nil || *p.CategoryID != categoryID {
			continue
		}
		a.TotalPosts++
		switch p.Priority {
		case model.PriorityHot:
			a.HotTopics++
		case model.PriorityTrending:
			a.TrendingNow++
		}
		sources[p.Source] = struct{}{}
	}
	a.ActiveForums = len(sources)
	return a, nil
}

// --- votes ---

type memVoteRepo struct{ s *MemoryStore }

func (r *memVoteRepo) ApplyVote(_ context.Context, userID string, postID int64, clicked model.VoteType) (*model.VoteCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[postID]
	if !ok {
		return nil, ErrNotFound
	}

	key := voteKey{userID: userID, postID: postID}
	current := model.VoteTypeNone
	if v, ok := r.s.votes[key]; ok {
		current = v.VoteType
	}

	tr := model.NextVoteState(current, clicked)
	switch {
	case tr.Next == model.VoteTypeNone:
		delete(r.s.votes, key)
	case current == model.VoteTypeNone:
		r.s.votes[key] = &model.Vote{ID: r.s.newID(), UserID: userID, PostID: postID, VoteType: tr.Next, CreatedAt: time.Now()}
	default:
		r.s.votes[key].VoteType = tr.Next
	}

	p.Upvotes += tr.UpvoteDelta
	p.Downvotes += tr.DownvoteDelta
	p.UserScore = p.Upvotes - p.Downvotes

	return &model.VoteCounts{Upvotes: p.Upvotes, Downvotes: p.Downvotes, UserScore: p.UserScore, UserVote: tr.Next}, nil
}

func (r *memVoteRepo) FindVote(_ context.Context, userID string, postID int64) (*model.Vote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if v, ok := r.s.votes[voteKey{userID: userID, postID: postID}]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

// --- curations ---

type memCurationRepo struct{ s *MemoryStore }

func (r *memCurationRepo) Create(_ context.Context, c *model.Curation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.posts[c.PostID]
	if !ok {
		return ErrNotFound
	}
	c.ID = r.s.newID()
	c.CreatedAt = time.Now()
	cp := *c
	r.s.curations = append(r.s.curations, &cp)

	if c.CurationType == model.CurationTypeFeature {
		t := c.CreatedAt
		p.IsCurated = true
		p.CuratedBy = c.UserID
		p.CuratedAt = &t
	}
	return nil
}

func (r *memCurationRepo) ListByUser(_ context.Context, userID string) ([]*model.Curation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*model.Curation{}
	for i := len(r.s.curations) - 1; i >= 0; i-- {
		if c := r.s.curations[i]; c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- users ---

type memUserRepo struct{ s *MemoryStore }

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if u, ok := r.s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	email = strings.ToLower(email)
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u.Email = strings.ToLower(u.Email)
	for _, existing := range r.s.users {
		if existing.Email == u.Email {
			return ErrDuplicate
		}
	}
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

// compile-time interface checks
var (
	_ CategoryRepository = (*memCategoryRepo)(nil)
	_ SourceRepository   = (*memSourceRepo)(nil)
	_ PostRepository     = (*memPostRepo)(nil)
	_ VoteRepository     = (*memVoteRepo)(nil)
	_ CurationRepository = (*memCurationRepo)(nil)
	_ UserRepository     = (*memUserRepo)(nil)
)
