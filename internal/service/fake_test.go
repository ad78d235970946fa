package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leaderboard-sync/internal/domain"
)

// ------------------------
// Call trace shared by fakes
// ------------------------

type tracer struct {
	mu    sync.Mutex
	steps []string
}

func (t *tracer) record(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step)
}

func (t *tracer) Steps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.steps))
	copy(out, t.steps)
	return out
}

func (t *tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = nil
}

// ------------------------
// Fake Player Store
// ------------------------

type FakePlayerStore struct {
	trace *tracer

	mu          sync.Mutex
	players     map[string]*domain.Player
	submissions map[string][]domain.ScoreSubmission
	resets      int

	CreatePlayerErr     error
	RecordSubmissionErr error
	ResetErr            error

	// AfterRecord runs once a submission is stored, before it is returned
	AfterRecord func()
}

func NewFakePlayerStore(trace *tracer) *FakePlayerStore {
	return &FakePlayerStore{
		trace:       trace,
		players:     make(map[string]*domain.Player),
		submissions: make(map[string][]domain.ScoreSubmission),
	}
}

func (f *FakePlayerStore) CreatePlayer(ctx context.Context, player *domain.Player) error {
	f.trace.record("store.CreatePlayer")
	if f.CreatePlayerErr != nil {
		return f.CreatePlayerErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *player
	f.players[p.ID] = &p
	return nil
}

func (f *FakePlayerStore) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	f.trace.record("store.GetPlayer")
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[playerID]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	out := *p
	return &out, nil
}

func (f *FakePlayerStore) RecordSubmission(ctx context.Context, s domain.ScoreSubmission) (*domain.Player, error) {
	f.trace.record("store.RecordSubmission")
	if f.RecordSubmissionErr != nil {
		return nil, f.RecordSubmissionErr
	}
	f.mu.Lock()
	p, ok := f.players[s.PlayerID]
	if !ok {
		f.mu.Unlock()
		return nil, domain.ErrPlayerNotFound
	}
	f.submissions[s.PlayerID] = append(f.submissions[s.PlayerID], s)
	if s.Score > p.CurrentScore {
		p.CurrentScore = s.Score
		p.LastUpdatedAt = s.SubmittedAt
	}
	out := *p
	f.mu.Unlock()

	if f.AfterRecord != nil {
		f.AfterRecord()
	}
	return &out, nil
}

func (f *FakePlayerStore) ListSubmissions(ctx context.Context, playerID string, limit int) ([]domain.ScoreSubmission, error) {
	f.trace.record("store.ListSubmissions")
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := append([]domain.ScoreSubmission(nil), f.submissions[playerID]...)
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].SubmittedAt.After(subs[j].SubmittedAt) })
	if len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (f *FakePlayerStore) ResetAllScores(ctx context.Context, at time.Time, trigger domain.ResetTrigger) (int64, error) {
	f.trace.record("store.ResetAllScores")
	if f.ResetErr != nil {
		return 0, f.ResetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.players {
		if p.CurrentScore > 0 {
			p.CurrentScore = 0
			p.LastUpdatedAt = at
			n++
		}
	}
	f.resets++
	return n, nil
}

func (f *FakePlayerStore) CountPlayers(ctx context.Context) (int64, error) {
	f.trace.record("store.CountPlayers")
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.players)), nil
}

// --- Accessors for assertions ---

func (f *FakePlayerStore) Player(id string) domain.Player {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.players[id]
}

func (f *FakePlayerStore) Submissions(id string) []domain.ScoreSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ScoreSubmission(nil), f.submissions[id]...)
}

// ------------------------
// Tracing cache wrapper
// ------------------------

type tracingCache struct {
	RankCache
	trace *tracer
}

func (c *tracingCache) IsAvailable(ctx context.Context) bool {
	c.trace.record("cache.IsAvailable")
	return c.RankCache.IsAvailable(ctx)
}

func (c *tracingCache) UpdateScore(ctx context.Context, playerID string, score int64) bool {
	c.trace.record("cache.UpdateScore")
	return c.RankCache.UpdateScore(ctx, playerID, score)
}

func (c *tracingCache) GetRank(ctx context.Context, playerID string) int64 {
	c.trace.record("cache.GetRank")
	return c.RankCache.GetRank(ctx, playerID)
}

func (c *tracingCache) Clear(ctx context.Context) bool {
	c.trace.record("cache.Clear")
	return c.RankCache.Clear(ctx)
}

// ------------------------
// Fake Notifier
// ------------------------

type FakeNotifier struct {
	mu     sync.Mutex
	Err    error
	views  []*domain.LeaderboardView
	resets []*domain.ResetResult
}

func (n *FakeNotifier) ScoreSubmitted(ctx context.Context, view *domain.LeaderboardView) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.views = append(n.views, view)
	return n.Err
}

func (n *FakeNotifier) LeaderboardReset(ctx context.Context, result *domain.ResetResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, result)
	return n.Err
}
