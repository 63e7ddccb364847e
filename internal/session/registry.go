package session

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Registry mirrors the session event stream into a token lookup table. It
// subscribes once at startup and unsubscribes at shutdown; between the two
// it is the process-local view of who is signed in. Delivery is synchronous,
// so a sign-out published by Logout is already evicted here by the time the
// call returns. It only ever serves as a fast path: a token missing here may
// still be valid in the store.
type Registry struct {
	notifier *Notifier
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	byToken map[string]User

	unsubscribe func()
}

func NewRegistry(lc fx.Lifecycle, n *Notifier, logger *zap.SugaredLogger) *Registry {
	r := NewDetachedRegistry(n, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			r.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping session registry.")
			r.Stop()
			return nil
		},
	})

	return r
}

// NewDetachedRegistry builds a registry whose Start/Stop the caller drives
// itself, outside of an fx lifecycle.
func NewDetachedRegistry(n *Notifier, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		notifier: n,
		logger:   logger,
		byToken:  map[string]User{},
	}
}

func (r *Registry) Start() {
	r.unsubscribe = r.notifier.Subscribe(r.apply)
}

func (r *Registry) Stop() {
	if r.unsubscribe == nil {
		return
	}
	r.unsubscribe()
}

func (r *Registry) Lookup(token string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byToken[token]
	return u, ok
}

func (r *Registry) apply(e Event) {
	if e.Token == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.User == nil {
		delete(r.byToken, e.Token)
		return
	}
	r.byToken[e.Token] = *e.User
}
