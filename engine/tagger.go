package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/yoanbernabeu/indexsync/index"
	"github.com/yoanbernabeu/indexsync/watcher"
)

// Tagger turns coalesced changes into index operations. It resolves roots
// through the registry so a change that raced a config reload is dropped
// instead of shipped with stale routing.
type Tagger struct {
	registry *Registry
}

func NewTagger(registry *Registry) *Tagger {
	return &Tagger{registry: registry}
}

// DocID derives a stable document identifier from the root identity and the
// slash-separated relative path. The same file always maps to the same id,
// which is what makes upserts replace rather than duplicate.
func DocID(rootID, relPath string) string {
	name := "indexsync://" + rootID + "/" + filepath.ToSlash(relPath)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Tag builds the operation for a pending change. It returns false when the
// change should be dropped, either because the root is gone or because a
// create/delete pair cancelled out on disk.
func (t *Tagger) Tag(change PendingChange) (index.Operation, bool) {
	root, ok := t.registry.Resolve(change.RootID)
	if !ok {
		return index.Operation{}, false
	}

	rel := filepath.ToSlash(change.Path)
	abs := filepath.Join(root.Path, filepath.FromSlash(rel))
	docID := DocID(root.ID(), rel)
	indexName := root.Type.IndexName()

	// Deletes drop by id alone; no content fields are needed.
	if change.Kind == watcher.KindDeleted {
		return deleteOp(docID, indexName), true
	}

	// Metadata is read at tag time, after the quiet window, so it reflects
	// the file's settled state rather than a mid-write one.
	info, err := os.Stat(abs)
	if err != nil {
		// Gone between the event and the flush. Ship a delete so the
		// index converges with disk.
		return deleteOp(docID, indexName), true
	}
	if info.IsDir() {
		return index.Operation{}, false
	}

	doc := index.Document{
		DocID:      docID,
		IndexName:  indexName,
		RoutingKey: root.Type.RoutingKey(),
		Routing:    root.SourceID,
		IndexType:  string(root.Type),
		FileType:   fileType(rel),
		Size:       info.Size(),
		ModifiedAt: info.ModTime().UTC(),
		ContentRef: abs,
	}
	return index.Operation{Doc: doc, Op: index.OpUpsert}, true
}

func deleteOp(docID, indexName string) index.Operation {
	return index.Operation{
		Doc: index.Document{DocID: docID, IndexName: indexName},
		Op:  index.OpDelete,
	}
}

func fileType(relPath string) string {
	ext := strings.TrimPrefix(filepath.Ext(relPath), ".")
	if ext == "" {
		return "none"
	}
	return strings.ToLower(ext)
}
