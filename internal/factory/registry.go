package factory

import (
	"context"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/ChonangRai/tool-factory/internal/logging"
)

// Registry は作業セットIDごとの Factory を保持し、一定時間使われなかったものを破棄します。
type Registry struct {
	opts   Options
	idle   time.Duration
	logger *bolt.Logger
	now    func() time.Time

	mu        sync.Mutex
	factories map[string]*registryEntry
}

type registryEntry struct {
	factory  *Factory
	lastUsed time.Time
}

// NewRegistry は Registry を生成します。idle が0以下なら破棄しません。
func NewRegistry(opts Options, idle time.Duration) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		opts:      opts,
		idle:      idle,
		logger:    opts.Logger,
		now:       time.Now,
		factories: make(map[string]*registryEntry),
	}
}

// Get は作業セットIDの Factory を返します。存在しなければ作成します。
func (r *Registry) Get(workspaceID string) *Factory {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.factories[workspaceID]
	if !ok {
		entry = &registryEntry{factory: New(r.opts)}
		r.factories[workspaceID] = entry
		logging.Apply(r.logger.Debug(), logging.Component("registry"), logging.WorkspaceID(workspaceID)).
			Msg("workspace created")
	}
	entry.lastUsed = r.now()
	return entry.factory
}

// Drop は作業セットを破棄します。
func (r *Registry) Drop(workspaceID string) {
	r.mu.Lock()
	entry, ok := r.factories[workspaceID]
	delete(r.factories, workspaceID)
	r.mu.Unlock()

	if ok {
		entry.factory.Close()
		logging.Apply(r.logger.Debug(), logging.Component("registry"), logging.WorkspaceID(workspaceID)).
			Msg("workspace dropped")
	}
}

// Len は保持している作業セット数を返します。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.factories)
}

// Sweep は idle より長く使われていない作業セットを破棄し、破棄した件数を返します。
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var expired []*Factory
	for id, entry := range r.factories {
		if entry.lastUsed.Before(cutoff) {
			expired = append(expired, entry.factory)
			delete(r.factories, id)
		}
	}
	r.mu.Unlock()

	for _, f := range expired {
		f.Close()
	}
	if len(expired) > 0 {
		logging.Apply(r.logger.Info(), logging.Component("registry"), logging.Count(len(expired))).
			Msg("idle workspaces evicted")
	}
	return len(expired)
}

// Run は ctx が終了するまで interval ごとに Sweep を実行します。
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
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
