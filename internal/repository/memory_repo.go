package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/hitoshi/crmdesk/internal/model"
)

// MemoryUserRepo はメモリ上でユーザーを保持するリポジトリ。
// STORAGE_DRIVER=memory での起動とテストで使用する。
// emailの一意制約はPostgreSQLと同様に強制する。
type MemoryUserRepo struct {
	mu      sync.RWMutex
	users   map[string]model.User
	byEmail map[string]string
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:   make(map[string]model.User),
		byEmail: make(map[string]string),
	}
}

// FindByEmail はemailの完全一致でユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	u := r.users[id]
	return &u, nil
}

// Create はユーザーを作成する。emailが既に存在する場合はErrDuplicateEmailを返す。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	r.users[user.ID] = *user
	r.byEmail[user.Email] = user.ID
	return nil
}

// Update はユーザーの可変項目を更新する。
func (r *MemoryUserRepo) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	stored.FirstName = user.FirstName
	stored.LastName = user.LastName
	stored.AuthProvider = user.AuthProvider
	stored.UpdatedAt = user.UpdatedAt
	r.users[user.ID] = stored
	return nil
}

// Count は保持しているユーザー数を返す。
func (r *MemoryUserRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// MemoryClientRepo はメモリ上で顧客を保持するリポジトリ。
type MemoryClientRepo struct {
	mu      sync.RWMutex
	clients map[string]model.Client
	byEmail map[string]string
}

// NewMemoryClientRepo はMemoryClientRepoを生成する。
func NewMemoryClientRepo() *MemoryClientRepo {
	return &MemoryClientRepo{
		clients: make(map[string]model.Client),
		byEmail: make(map[string]string),
	}
}

// List は全顧客をlast_name昇順（同値はfirst_name、id順）で返す。
func (r *MemoryClientRepo) List(_ context.Context) ([]*model.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*model.Client, 0, len(r.clients))
	for _, c := range r.clients {
		c := c
		clients = append(clients, &c)
	}
	sort.Slice(clients, func(i, j int) bool {
		a, b := clients[i], clients[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID < b.ID
	})
	return clients, nil
}

// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
func (r *MemoryClientRepo) FindByID(_ context.Context, id string) (*model.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// FindByEmail はemailの完全一致で顧客を取得する。見つからない場合はnilを返す。
func (r *MemoryClientRepo) FindByEmail(_ context.Context, email string) (*model.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	c := r.clients[id]
	return &c, nil
}

// Create は顧客を作成する。emailが既に存在する場合はErrDuplicateEmailを返す。
func (r *MemoryClientRepo) Create(_ context.Context, c *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[c.Email]; exists {
		return ErrDuplicateEmail
	}
	r.clients[c.ID] = *c
	r.byEmail[c.Email] = c.ID
	return nil
}

// Update は顧客の全項目を上書き更新する。
func (r *MemoryClientRepo) Update(_ context.Context, c *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.clients[c.ID]
	if !ok {
		return ErrNotFound
	}
	if ownerID, exists := r.byEmail[c.Email]; exists && ownerID != c.ID {
		return ErrDuplicateEmail
	}
	delete(r.byEmail, stored.Email)
	r.clients[c.ID] = *c
	r.byEmail[c.Email] = c.ID
	return nil
}

// Delete は指定IDの顧客を削除し、削除件数を返す。
func (r *MemoryClientRepo) Delete(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return 0, nil
	}
	delete(r.clients, id)
	delete(r.byEmail, c.Email)
	return 1, nil
}

var _ UserRepository = (*MemoryUserRepo)(nil)
var _ ClientRepository = (*MemoryClientRepo)(nil)
