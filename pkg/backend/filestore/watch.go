package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/changestream"
	"github.com/bobuk/uodm/pkg/document"
)

// NativeFeed returns a push feed of filesystem change events for this
// collection. It is available only when the store was opened with native
// events enabled; otherwise callers fall back to polling.
func (c *Collection) NativeFeed(ctx context.Context) (changestream.Feed, error) {
	if !c.store.nativeEvents {
		return nil, backend.Wrap("filestore.watch", backend.ErrUnsupported)
	}
	if err := c.store.checkOpen(); err != nil {
		return nil, err
	}
	if err := c.ensureDir(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, backend.Wrap("filestore.watch", err)
	}
	if err := watcher.Add(c.path); err != nil {
		watcher.Close()
		return nil, backend.Wrap("filestore.watch", err)
	}
	feed := &fileFeed{coll: c, watcher: watcher}
	if err := feed.snapshot(); err != nil {
		watcher.Close()
		return nil, err
	}
	return feed, nil
}

// fileFeed translates directory notifications into change events.
// Document writes land via rename, so a Create on a known identifier is
// an update, not an insert. The feed is consumed by one drain task and is
// not safe for concurrent Next calls.
type fileFeed struct {
	coll    *Collection
	watcher *fsnotify.Watcher
	known   map[string]struct{}
}

func (f *fileFeed) Next(ctx context.Context) (*changestream.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil, backend.Wrap("filestore.watch", backend.ErrBackendUnavailable)
			}
			return nil, backend.Wrap("filestore.watch", err)
		case note, ok := <-f.watcher.Events:
			if !ok {
				return nil, backend.Wrap("filestore.watch", backend.ErrBackendUnavailable)
			}
			ev := f.translate(note)
			if ev == nil {
				continue
			}
			return ev, nil
		}
	}
}

// snapshot records the identifiers present before watching started, so
// the feed can tell first writes from overwrites.
func (f *fileFeed) snapshot() error {
	f.known = make(map[string]struct{})
	entries, err := os.ReadDir(f.coll.path)
	if err != nil {
		return backend.Wrap("filestore.watch", err)
	}
	suffix := "." + f.coll.ext()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, indexSidecar+".") {
			continue
		}
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		f.known[strings.TrimSuffix(name, suffix)] = struct{}{}
	}
	return nil
}

func (f *fileFeed) translate(note fsnotify.Event) *changestream.Event {
	id, ok := f.docID(note.Name)
	if !ok {
		return nil
	}

	switch {
	case note.Op.Has(fsnotify.Remove) || note.Op.Has(fsnotify.Rename):
		if _, existed := f.known[id]; !existed {
			return nil
		}
		delete(f.known, id)
		return f.event(changestream.OperationDelete, id, nil)

	case note.Op.Has(fsnotify.Create) || note.Op.Has(fsnotify.Write):
		doc, err := f.coll.readDoc(note.Name)
		if err != nil {
			// The file may already be gone or half-renamed; a later
			// notification covers it.
			f.coll.store.logger.Debugw("skipping unreadable change",
				"path", note.Name, "error", err)
			return nil
		}
		op := changestream.OperationUpdate
		if _, existed := f.known[id]; !existed {
			op = changestream.OperationInsert
		}
		f.known[id] = struct{}{}
		return f.event(op, id, doc)
	}
	return nil
}

// docID maps a notification path to a document identifier, rejecting
// temp files, sidecars and foreign extensions.
func (f *fileFeed) docID(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, indexSidecar+".") {
		return "", false
	}
	suffix := "." + f.coll.ext()
	if !strings.HasSuffix(name, suffix) {
		return "", false
	}
	return strings.TrimSuffix(name, suffix), true
}

func (f *fileFeed) event(op changestream.Operation, id string, doc document.Document) *changestream.Event {
	return &changestream.Event{
		Operation:    op,
		DocumentKey:  id,
		FullDocument: doc,
		Namespace:    changestream.Namespace{Database: f.coll.db, Collection: f.coll.name},
		WallTime:     time.Now(),
		ResumeToken:  uuid.NewString(),
	}
}

func (f *fileFeed) Close(ctx context.Context) error {
	return f.watcher.Close()
}
