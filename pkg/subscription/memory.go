package subscription

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. It serialises updates per
// user with a keyed mutex and is suitable for tests and single-node setups.
type MemoryRepository struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*User
	customers     map[ProviderKind]map[string]uuid.UUID
	subscriptions map[uuid.UUID]*Subscription

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:         make(map[uuid.UUID]*User),
		customers:     make(map[ProviderKind]map[string]uuid.UUID),
		subscriptions: make(map[uuid.UUID]*Subscription),
		locks:         make(map[uuid.UUID]*sync.Mutex),
	}
}

// AddUser registers a user together with any customer ids it already carries.
func (r *MemoryRepository) AddUser(u User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for p, id := range u.CustomerIDs {
		if owner, ok := r.customers[p][id]; ok && owner != u.ID {
			return ErrCustomerIDConflict
		}
	}
	stored := u
	stored.CustomerIDs = maps.Clone(u.CustomerIDs)
	if stored.CustomerIDs == nil {
		stored.CustomerIDs = make(map[ProviderKind]string)
	}
	r.users[u.ID] = &stored
	for p, id := range stored.CustomerIDs {
		r.indexCustomer(p, id, u.ID)
	}
	return nil
}

// EnsureUser adds u if unknown, otherwise refreshes its email and name.
func (r *MemoryRepository) EnsureUser(_ context.Context, u User) error {
	r.mu.Lock()
	existing, ok := r.users[u.ID]
	if ok {
		existing.Email = u.Email
		existing.Name = u.Name
	}
	r.mu.Unlock()
	if ok {
		return nil
	}
	return r.AddUser(User{ID: u.ID, Email: u.Email, Name: u.Name})
}

func (r *MemoryRepository) indexCustomer(p ProviderKind, customerID string, userID uuid.UUID) {
	if r.customers[p] == nil {
		r.customers[p] = make(map[string]uuid.UUID)
	}
	r.customers[p][customerID] = userID
}

func (r *MemoryRepository) UserByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (r *MemoryRepository) UserByCustomerID(_ context.Context, provider ProviderKind, customerID string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.customers[provider][customerID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(r.users[userID]), nil
}

func (r *MemoryRepository) SetCustomerID(_ context.Context, userID uuid.UUID, provider ProviderKind, customerID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	if existing := u.CustomerIDs[provider]; existing != "" {
		return existing, nil
	}
	if owner, ok := r.customers[provider][customerID]; ok && owner != userID {
		return "", ErrCustomerIDConflict
	}
	u.CustomerIDs[provider] = customerID
	r.indexCustomer(provider, customerID, userID)
	return customerID, nil
}

func (r *MemoryRepository) SubscriptionByUserID(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.subscriptions[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryRepository) UpdateSubscription(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (*Subscription, error) {
	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	_, userExists := r.users[userID]
	current := r.subscriptions[userID].Clone()
	r.mu.RUnlock()

	if !userExists {
		return nil, ErrUserNotFound
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	next = next.Clone()
	next.UserID = userID
	now := time.Now().UTC()
	if current == nil {
		next.CreatedAt = now
	} else {
		next.CreatedAt = current.CreatedAt
	}
	next.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscriptionOwnedElsewhere(userID, next) {
		return nil, ErrSubscriptionIDConflict
	}
	r.subscriptions[userID] = next

	return next.Clone(), nil
}

// subscriptionOwnedElsewhere mirrors the unique provider subscription id
// columns of the SQL store. Callers hold r.mu.
func (r *MemoryRepository) subscriptionOwnedElsewhere(userID uuid.UUID, next *Subscription) bool {
	for p, id := range next.SubscriptionIDs {
		if id == "" {
			continue
		}
		for owner, s := range r.subscriptions {
			if owner != userID && s.SubscriptionID(p) == id {
				return true
			}
		}
	}
	return false
}

func (r *MemoryRepository) userLock(userID uuid.UUID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	return l
}

func copyUser(u *User) *User {
	c := *u
	c.CustomerIDs = maps.Clone(u.CustomerIDs)
	return &c
}

// MemoryEventLog is an in-process EventLog without expiry.
type MemoryEventLog struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{seen: make(map[string]struct{})}
}

func (l *MemoryEventLog) Seen(_ context.Context, provider ProviderKind, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[string(provider)+":"+eventID]
	return ok, nil
}

func (l *MemoryEventLog) Record(_ context.Context, provider ProviderKind, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[string(provider)+":"+eventID] = struct{}{}
	return nil
}
