package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenStore persists visitor tokens between portal restarts.
type TokenStore interface {
	Load(ctx context.Context, sid string) (string, error)
	Save(ctx context.Context, sid, token string, ttl time.Duration) error
	Delete(ctx context.Context, sid string) error
}

type RegistryConfig struct {
	// TTL is how long an idle visitor is kept in memory and how long its
	// token is persisted.
	TTL time.Duration
	// InitTimeout bounds each background who-am-I call.
	InitTimeout time.Duration
	// RefreshInterval is how often a signed in visitor's user record is
	// fetched again so that role and profile changes reach the portal.
	RefreshInterval time.Duration
	// RetryInterval is how soon a visitor that kept its token through a
	// failed who-am-I call is retried.
	RetryInterval time.Duration
	Logger        *logrus.Logger
}

// Registry owns one Store per visitor session id.
type Registry struct {
	auth   AuthService
	tokens TokenStore
	cfg    RegistryConfig
	now    func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	store       *Store
	lastSeen    time.Time
	refreshedAt time.Time
	refreshing  bool
}

// due reports whether the visitor's user record should be fetched again.
// Only settled stores that still hold a token qualify.
func (v *visitor) due(now time.Time, every, retry time.Duration) bool {
	if v.refreshing {
		return false
	}
	select {
	case <-v.store.Ready():
	default:
		return false
	}
	if v.store.Token() == "" {
		return false
	}
	if !v.store.Snapshot().Authenticated {
		return now.Sub(v.refreshedAt) >= retry
	}
	return now.Sub(v.refreshedAt) >= every
}

func NewRegistry(auth AuthService, tokens TokenStore, cfg RegistryConfig) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 10 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	return &Registry{
		auth:     auth,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Get returns the store of sid. New stores are seeded from the token store
// and initialized in the background; callers wait on Store.Ready when they
// need a settled state. Known visitors holding a token are refreshed in the
// background once their refresh or retry interval has passed.
func (r *Registry) Get(ctx context.Context, sid string) *Store {
	r.mu.Lock()
	if v, ok := r.visitors[sid]; ok {
		now := r.now()
		v.lastSeen = now
		refresh := v.due(now, r.cfg.RefreshInterval, r.cfg.RetryInterval)
		if refresh {
			v.refreshing = true
			v.refreshedAt = now
		}
		r.mu.Unlock()
		if refresh {
			r.cfg.Logger.WithField("sid", shortID(sid)).Debug("refreshing visitor session")
			r.initialize(ctx, v)
		}
		return v.store
	}
	r.mu.Unlock()

	logger := r.cfg.Logger.WithField("sid", shortID(sid))
	token, err := r.tokens.Load(ctx, sid)
	if err != nil {
		logger.Warnf("load visitor token: %v", err)
		token = ""
	}

	store := NewStore(r.auth,
		WithToken(token),
		WithLogger(logger),
		WithTokenListener(r.persister(sid, logger)),
	)

	r.mu.Lock()
	if v, ok := r.visitors[sid]; ok {
		// lost a race with a concurrent request of the same visitor
		v.lastSeen = r.now()
		r.mu.Unlock()
		store.Close()
		return v.store
	}
	now := r.now()
	v := &visitor{store: store, lastSeen: now, refreshedAt: now, refreshing: true}
	r.visitors[sid] = v
	r.mu.Unlock()

	r.initialize(ctx, v)
	return store
}

// initialize runs who-am-I for v in the background. The store drops the
// answer itself if a login or logout finished in the meantime.
func (r *Registry) initialize(ctx context.Context, v *visitor) {
	go func() {
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.InitTimeout)
		defer cancel()
		v.store.Initialize(initCtx)

		r.mu.Lock()
		v.refreshing = false
		r.mu.Unlock()
	}()
}

// Sweep closes and forgets visitors idle for longer than the TTL.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.cfg.TTL)

	r.mu.Lock()
	var expired []*Store
	for sid, v := range r.visitors {
		if v.lastSeen.Before(cutoff) {
			expired = append(expired, v.store)
			delete(r.visitors, sid)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		r.cfg.Logger.Debugf("swept %d idle visitor sessions", len(expired))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visitors)
}

func (r *Registry) persister(sid string, logger *logrus.Entry) func(string) {
	return func(token string) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var err error
		if token == "" {
			err = r.tokens.Delete(ctx, sid)
		} else {
			err = r.tokens.Save(ctx, sid, token, r.cfg.TTL)
		}
		if err != nil {
			logger.Warnf("persist visitor token: %v", err)
		}
	}
}

func shortID(sid string) string {
	if len(sid) > 8 {
		return sid[:8]
	}
	return sid
}

// MemoryTokenStore keeps tokens in process memory.
type MemoryTokenStore struct {
	mu    sync.Mutex
	items map[string]memoryToken
	now   func() time.Time
}

type memoryToken struct {
	token   string
	expires time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{items: make(map[string]memoryToken), now: time.Now}
}

func (m *MemoryTokenStore) Load(_ context.Context, sid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[sid]
	if !ok {
		return "", nil
	}
	if !item.expires.IsZero() && m.now().After(item.expires) {
		delete(m.items, sid)
		return "", nil
	}
	return item.token, nil
}

func (m *MemoryTokenStore) Save(_ context.Context, sid, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := memoryToken{token: token}
	if ttl > 0 {
		item.expires = m.now().Add(ttl)
	}
	m.items[sid] = item
	return nil
}

func (m *MemoryTokenStore) Delete(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, sid)
	return nil
}

var _ TokenStore = (*MemoryTokenStore)(nil)
