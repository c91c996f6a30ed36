package engine

import (
	"sort"
	"sync"

	"github.com/yoanbernabeu/indexsync/config"
)

// IndexerType tells the tagger which unified index a root feeds and which
// routing field distinguishes its documents inside that index.
type IndexerType string

const (
	TypeCode        IndexerType = "code"
	TypeCodex       IndexerType = "codex"
	TypeChatHistory IndexerType = "chathistory"
)

// IndexName returns the unified index a root of this type feeds.
func (t IndexerType) IndexName() string {
	switch t {
	case TypeCode:
		return config.IndexCodebase
	case TypeCodex:
		return config.IndexCodex
	case TypeChatHistory:
		return config.IndexConversations
	default:
		return ""
	}
}

// RoutingKey returns the metadata field used to tell this root's documents
// apart from other roots sharing the index.
func (t IndexerType) RoutingKey() string {
	if t == TypeChatHistory {
		return "conversation_type"
	}
	return "project_id"
}

// WatchedRoot is one directory tree kept in sync with a unified index.
type WatchedRoot struct {
	Type     IndexerType
	SourceID string // project name or conversation type
	Path     string
	Enabled  bool
}

// ID identifies a root across config reloads. Two sources may share a path,
// so the type participates in the identity.
func (r WatchedRoot) ID() string { return string(r.Type) + "/" + r.SourceID }

// RootsFromConfig flattens the configured sources into watched roots.
// Disabled sources are kept so the registry can answer for events that race
// a reload, but they are never watched.
func RootsFromConfig(cfg *config.Config) []WatchedRoot {
	var roots []WatchedRoot
	for _, s := range cfg.Sources.Codebases {
		roots = append(roots, WatchedRoot{Type: TypeCode, SourceID: s.Name, Path: s.Path, Enabled: s.IsEnabled()})
	}
	for _, s := range cfg.Sources.Codex {
		roots = append(roots, WatchedRoot{Type: TypeCodex, SourceID: s.Name, Path: s.Path, Enabled: s.IsEnabled()})
	}
	for _, s := range cfg.Sources.Conversations {
		roots = append(roots, WatchedRoot{Type: TypeChatHistory, SourceID: s.Type, Path: s.Path, Enabled: s.IsEnabled()})
	}
	return roots
}

// Registry holds the current set of watched roots. It is replaced wholesale
// on config reload and read on every flush, so access is guarded.
type Registry struct {
	mu    sync.RWMutex
	roots map[string]WatchedRoot
}

func NewRegistry(roots []WatchedRoot) *Registry {
	r := &Registry{roots: make(map[string]WatchedRoot)}
	r.Replace(roots)
	return r
}

// Replace swaps the full root set.
func (r *Registry) Replace(roots []WatchedRoot) {
	m := make(map[string]WatchedRoot, len(roots))
	for _, root := range roots {
		m[root.ID()] = root
	}
	r.mu.Lock()
	r.roots = m
	r.mu.Unlock()
}

// Resolve returns the root for an ID. The second result is false when the
// root is unknown or disabled, which tells callers to drop the work.
func (r *Registry) Resolve(id string) (WatchedRoot, bool) {
	r.mu.RLock()
	root, ok := r.roots[id]
	r.mu.RUnlock()
	if !ok || !root.Enabled {
		return WatchedRoot{}, false
	}
	return root, true
}

// Active returns the enabled roots sorted by ID for stable iteration.
func (r *Registry) Active() []WatchedRoot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WatchedRoot
	for _, root := range r.roots {
		if root.Enabled {
			out = append(out, root)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
