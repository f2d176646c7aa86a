package membership

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/eventstore"
)

type memRepo struct {
	mu     sync.Mutex
	users  map[uuid.UUID]User
	creds  map[uuid.UUID]Credential
	events map[uuid.UUID][]eventstore.Event
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:  map[uuid.UUID]User{},
		creds:  map[uuid.UUID]Credential{},
		events: map[uuid.UUID][]eventstore.Event{},
	}
}

func (m *memRepo) Create(_ context.Context, u *User, cred Credential, event eventstore.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	m.users[u.ID] = *u
	m.creds[u.ID] = cred
	m.events[u.ID] = append(m.events[u.ID], event)
	return nil
}

func (m *memRepo) Get(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *memRepo) GetByEmail(_ context.Context, email string) (*User, *Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cred := m.creds[u.ID]
			return &u, &cred, nil
		}
	}
	return nil, nil, ErrNotFound
}

func (m *memRepo) List(_ context.Context, filter UserFilter) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []User
	for _, u := range m.users {
		switch {
		case filter.Role != "" && u.Role != filter.Role:
			continue
		case filter.Approved != nil && u.Approved != *filter.Approved:
			continue
		case filter.Status != "" && u.Status != filter.Status:
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Email < matched[j].Email })

	start := min((filter.Page-1)*filter.Limit, len(matched))
	end := min(start+filter.Limit, len(matched))
	return matched[start:end], len(matched), nil
}

func (m *memRepo) Update(_ context.Context, id uuid.UUID, version int, fn func(u *User), event eventstore.Event) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Version != version {
		return nil, ErrConcurrentUpdate
	}
	fn(&u)
	u.Version++
	m.users[id] = u
	m.events[id] = append(m.events[id], event)
	return &u, nil
}

func (m *memRepo) eventTypes(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, e := range m.events[id] {
		types = append(types, e.EventType)
	}
	return types
}
