package forge

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// MockClient is an in-memory forge for tests. Accounts are listed by id for the newest and
// oldest orders; the recently-updated order is whatever Updated holds (most recent first), and
// falls back to newest when nil.
type MockClient struct {
	mu sync.Mutex

	Accounts []Account
	Updated  []Account

	// usernames with activity, tokens or OAuth2 apps
	Active map[string]bool
	Tokens map[string]bool
	Apps   map[string]bool

	// errors injected by tests
	ListErrs   []error
	BanErr     error
	FeedErr    error
	CheckErr   error
	Banned     map[string]BanAction
	ListCalls  int
	CheckCalls int
}

var _ Client = (*MockClient)(nil)

func NewMockClient(accounts ...Account) *MockClient {
	return &MockClient{
		Accounts: accounts,
		Active:   map[string]bool{},
		Tokens:   map[string]bool{},
		Apps:     map[string]bool{},
		Banned:   map[string]BanAction{},
	}
}

func (m *MockClient) ListAccounts(ctx context.Context, s Sort, page, limit int) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if len(m.ListErrs) > 0 {
		err := m.ListErrs[0]
		m.ListErrs = m.ListErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if page < 1 || limit < 1 {
		return nil, &StatusError{Code: http.StatusBadRequest, Method: http.MethodGet, Endpoint: "/api/v1/admin/users"}
	}

	var all []Account
	switch s {
	case SortRecentUpdate:
		if m.Updated != nil {
			all = append(all, m.Updated...)
			break
		}
		fallthrough
	case SortNewest:
		all = m.sorted(false)
	case SortOldest:
		all = m.sorted(true)
	default:
		return nil, fmt.Errorf("mock forge: unknown sort %q", s)
	}

	start := (page - 1) * limit
	if start >= len(all) {
		return []Account{}, nil
	}
	end := min(start+limit, len(all))
	out := make([]Account, end-start)
	copy(out, all[start:end])
	return out, nil
}

// AddAccounts registers accounts while the mock may be in use.
func (m *MockClient) AddAccounts(accts ...Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accounts = append(m.Accounts, accts...)
}

func (m *MockClient) ListCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ListCalls
}

func (m *MockClient) sorted(asc bool) []Account {
	out := make([]Account, 0, len(m.Accounts))
	for _, a := range m.Accounts {
		if _, gone := m.Banned[a.Username]; gone {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].ID < out[j].ID
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *MockClient) BanAccount(ctx context.Context, username string, action BanAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BanErr != nil {
		return m.BanErr
	}
	m.Banned[username] = action
	return nil
}

// IsBanned reports whether BanAccount succeeded for username.
func (m *MockClient) IsBanned(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Banned[username]
	return ok
}

func (m *MockClient) BanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Banned)
}

func (m *MockClient) IsFeedEmpty(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckCalls++
	if m.FeedErr != nil {
		return false, m.FeedErr
	}
	return !m.Active[username], nil
}

func (m *MockClient) IsTokensEmpty(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckCalls++
	if m.CheckErr != nil {
		return false, m.CheckErr
	}
	return !m.Tokens[username], nil
}

func (m *MockClient) IsAppsEmpty(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckCalls++
	if m.CheckErr != nil {
		return false, m.CheckErr
	}
	return !m.Apps[username], nil
}

// FakeAccount returns a plausible account with random profile fields. Callers override the
// fields their test cares about.
func FakeAccount(id int64, username string) Account {
	return Account{
		ID:        id,
		Username:  username,
		FullName:  gofakeit.Name(),
		Biography: gofakeit.Sentence(8),
		Email:     username + "@" + gofakeit.DomainName(),
		Website:   gofakeit.URL(),
		Location:  gofakeit.City(),
		AvatarURL: "https://forge.example/avatars/" + username,
		HTMLURL:   "https://forge.example/" + username,
		SourceID:  0,
		Created:   gofakeit.DateRange(time.Now().AddDate(-3, 0, 0), time.Now().AddDate(0, 0, -1)),
	}
}
