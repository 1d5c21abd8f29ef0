package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sailfish-mobile/storefront/internal/app/domain/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/domain/user"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	products     map[string]product.Product
	pending      map[string]purchase.Transaction
	userProducts map[string][]ownership.UserProduct
	installs     map[string][]ownership.InstallationKey
	users        map[string]user.Profile

	ownerLocks sync.Map // ownerID -> *sync.Mutex
}

var _ storage.CatalogStore = (*Store)(nil)
var _ storage.PurchaseStore = (*Store)(nil)
var _ storage.OwnershipStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.Transactor = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		products:     make(map[string]product.Product),
		pending:      make(map[string]purchase.Transaction),
		userProducts: make(map[string][]ownership.UserProduct),
		installs:     make(map[string][]ownership.InstallationKey),
		users:        make(map[string]user.Profile),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func (s *Store) allocateID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIDLocked()
}

// CatalogStore implementation -------------------------------------------------

func (s *Store) CreateProduct(_ context.Context, p product.Product) (product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.products[p.ID]; exists {
		return product.Product{}, fmt.Errorf("product %s: %w", p.ID, storage.ErrAlreadyExists)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return product.Product{}, fmt.Errorf("product %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]product.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// PurchaseStore implementation ------------------------------------------------

func (s *Store) CreatePendingTransaction(_ context.Context, tx purchase.Transaction) (purchase.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	} else if _, exists := s.pending[tx.ID]; exists {
		return purchase.Transaction{}, fmt.Errorf("transaction %s: %w", tx.ID, storage.ErrAlreadyExists)
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.pending[tx.ID] = tx
	return tx, nil
}

func (s *Store) GetPendingTransaction(_ context.Context, id string) (purchase.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.pending[id]
	if !ok {
		return purchase.Transaction{}, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	return tx, nil
}

func (s *Store) ListPendingTransactions(_ context.Context, createdBefore time.Time) ([]purchase.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []purchase.Transaction
	for _, tx := range s.pending {
		if tx.Status == purchase.StatusPending && tx.CreatedAt.Before(createdBefore) {
			result = append(result, tx)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// OwnershipStore implementation -----------------------------------------------

func (s *Store) GetUserProduct(_ context.Context, userID, productID string) (ownership.UserProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, up := range s.userProducts[userID] {
		if up.ProductID == productID {
			return up, nil
		}
	}
	return ownership.UserProduct{}, fmt.Errorf("user %s product %s: %w", userID, productID, storage.ErrNotFound)
}

func (s *Store) ListUserProducts(_ context.Context, userID string) ([]ownership.UserProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]ownership.UserProduct(nil), s.userProducts[userID]...), nil
}

func (s *Store) CreateInstallationKey(_ context.Context, key ownership.InstallationKey) (ownership.InstallationKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = s.prepareKeyLocked(key)
	s.installs[key.UserID] = append(s.installs[key.UserID], key)
	return key, nil
}

func (s *Store) ListInstallationKeys(_ context.Context, userID, productID string) ([]ownership.InstallationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ownership.InstallationKey
	for _, k := range s.installs[userID] {
		if k.ProductID == productID {
			result = append(result, k)
		}
	}
	return result, nil
}

func (s *Store) prepareKeyLocked(key ownership.InstallationKey) ownership.InstallationKey {
	if key.ID == "" {
		key.ID = s.nextIDLocked()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	return key
}

// UserStore implementation ----------------------------------------------------

func (s *Store) SaveUser(_ context.Context, p user.Profile) (user.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.users[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Emails = append([]string(nil), p.Emails...)
	s.users[p.ID] = p
	return p, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.users[id]
	if !ok {
		return user.Profile{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	p.Emails = append([]string(nil), p.Emails...)
	return p, nil
}

// Transactor implementation ---------------------------------------------------

func (s *Store) RunInOwnerScope(ctx context.Context, ownerID string, fn func(scope storage.OwnerScope) error) error {
	lock := s.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	scope := &ownerScope{store: s, ownerID: ownerID, staged: make(map[string]purchase.Transaction)}
	if err := fn(scope); err != nil {
		return err
	}
	return scope.commit()
}

func (s *Store) ownerLock(ownerID string) *sync.Mutex {
	lock, _ := s.ownerLocks.LoadOrStore(ownerID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// ownerScope buffers writes until the scope function returns successfully.
type ownerScope struct {
	store    *Store
	ownerID  string
	staged   map[string]purchase.Transaction
	products []ownership.UserProduct
	keys     []ownership.InstallationKey
}

func (o *ownerScope) GetPendingTransaction(ctx context.Context, id string) (purchase.Transaction, error) {
	if tx, ok := o.staged[id]; ok {
		return tx, nil
	}
	tx, err := o.store.GetPendingTransaction(ctx, id)
	if err != nil {
		return purchase.Transaction{}, err
	}
	if tx.UserID != o.ownerID {
		return purchase.Transaction{}, fmt.Errorf("transaction %s: %w", id, storage.ErrNotFound)
	}
	return tx, nil
}

func (o *ownerScope) CompletePendingTransaction(ctx context.Context, id, providerTxnID string) (purchase.Transaction, error) {
	tx, err := o.GetPendingTransaction(ctx, id)
	if err != nil {
		return purchase.Transaction{}, err
	}
	if tx.Status != purchase.StatusPending {
		return purchase.Transaction{}, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, storage.ErrStaleWrite)
	}
	tx.Status = purchase.StatusComplete
	tx.ProviderTxnID = providerTxnID
	o.staged[id] = tx
	return tx, nil
}

func (o *ownerScope) CreateUserProduct(_ context.Context, up ownership.UserProduct) (ownership.UserProduct, error) {
	if up.UserID != o.ownerID {
		return ownership.UserProduct{}, fmt.Errorf("user product owner %s outside scope %s", up.UserID, o.ownerID)
	}
	if up.ID == "" {
		up.ID = o.store.allocateID()
	}
	o.products = append(o.products, up)
	return up, nil
}

func (o *ownerScope) CreateInstallationKey(_ context.Context, key ownership.InstallationKey) (ownership.InstallationKey, error) {
	if key.UserID != o.ownerID {
		return ownership.InstallationKey{}, fmt.Errorf("installation owner %s outside scope %s", key.UserID, o.ownerID)
	}
	o.store.mu.Lock()
	key = o.store.prepareKeyLocked(key)
	o.store.mu.Unlock()
	o.keys = append(o.keys, key)
	return key, nil
}

func (o *ownerScope) commit() error {
	s := o.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range o.staged {
		if current, ok := s.pending[id]; !ok || current.Status != purchase.StatusPending {
			return fmt.Errorf("transaction %s: %w", id, storage.ErrStaleWrite)
		}
	}
	for id, tx := range o.staged {
		s.pending[id] = tx
	}
	s.userProducts[o.ownerID] = append(s.userProducts[o.ownerID], o.products...)
	s.installs[o.ownerID] = append(s.installs[o.ownerID], o.keys...)
	return nil
}
