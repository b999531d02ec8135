package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

type MemoryStore struct {
	mu sync.RWMutex

	users     map[string]model.User
	userOrder []string
	emails    map[string]string // Structure : [email] -> userID
	polls     map[string]model.Poll
	pollOrder []string
	options   map[string]model.Option

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]model.User),
		emails:  make(map[string]string),
		polls:   make(map[string]model.Poll),
		options: make(map[string]model.Option),
		now:     time.Now,
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, nu model.NewUser) (model.User, error) {
	nu, err := validateUser(nu)
	if err != nil {
		return model.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.emails[nu.Email]; taken {
		return model.User{}, ErrEmailTaken
	}

	u := model.User{
		ID:        uuid.NewString(),
		Name:      nu.Name,
		Email:     nu.Email,
		CreatedAt: s.now().UTC(),
	}
	s.users[u.ID] = u
	s.userOrder = append(s.userOrder, u.ID)
	s.emails[u.Email] = u.ID
	return u, nil
}

func (s *MemoryStore) FindUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) ListUsers(_ context.Context, page Page) ([]model.User, error) {
	page = page.normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.User{}
	for _, id := range window(s.userOrder, page) {
		out = append(out, s.users[id])
	}
	return out, nil
}

func (s *MemoryStore) CreatePoll(_ context.Context, creatorID string, np model.NewPoll) (model.Poll, error) {
	np, err := validatePoll(np)
	if err != nil {
		return model.Poll{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[creatorID]; !ok {
		return model.Poll{}, ErrNotFound
	}

	now := s.now().UTC()
	p := model.Poll{
		ID:          uuid.NewString(),
		Question:    np.Question,
		IsPublished: np.IsPublished,
		CreatorID:   creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Options:     make([]model.Option, 0, len(np.Options)),
	}
	for _, o := range np.Options {
		opt := model.Option{ID: uuid.NewString(), PollID: p.ID, Text: o.Text}
		p.Options = append(p.Options, opt)
		s.options[opt.ID] = opt
	}
	s.polls[p.ID] = p
	s.pollOrder = append(s.pollOrder, p.ID)
	return clonePoll(p), nil
}

func (s *MemoryStore) FindPoll(_ context.Context, id string) (model.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.polls[id]
	if !ok {
		return model.Poll{}, ErrNotFound
	}
	return clonePoll(p), nil
}

func (s *MemoryStore) ListPolls(_ context.Context, page Page, publishedOnly bool) ([]model.Poll, error) {
	page = page.normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.pollOrder
	if publishedOnly {
		ids = make([]string, 0, len(s.pollOrder))
		for _, id := range s.pollOrder {
			if s.polls[id].IsPublished {
				ids = append(ids, id)
			}
		}
	}

	out := []model.Poll{}
	for _, id := range window(ids, page) {
		out = append(out, clonePoll(s.polls[id]))
	}
	return out, nil
}

func (s *MemoryStore) FindOption(_ context.Context, id string) (model.Option, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.options[id]
	if !ok {
		return model.Option{}, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) SetPublished(_ context.Context, pollID string, published bool) (model.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[pollID]
	if !ok {
		return model.Poll{}, ErrNotFound
	}
	p.IsPublished = published
	p.UpdatedAt = s.now().UTC()
	s.polls[pollID] = p
	return clonePoll(p), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func window(ids []string, page Page) []string {
	if page.Skip >= len(ids) {
		return nil
	}
	end := min(page.Skip+page.Limit, len(ids))
	return ids[page.Skip:end]
}

func clonePoll(p model.Poll) model.Poll {
	p.Options = append([]model.Option(nil), p.Options...)
	return p
}
