package changestream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/document"
)

// PollingStream infers changes by periodically re-reading the matching
// document set and diffing identifiers against the previously seen set.
// It emits inserts (with the full document) and deletes (key only). An
// in-place field update leaves the identifier set unchanged and is
// therefore not detected; that is a documented limitation of the diff,
// not a defect.
type PollingStream struct {
	*core
	coll      backend.Collection
	rawFilter map[string]any
}

// NewPolling starts a polling stream over one collection. The first tick
// establishes the baseline identifier set without emitting events.
func NewPolling(coll backend.Collection, rawFilter map[string]any, opts Options) *PollingStream {
	if rawFilter == nil {
		rawFilter = map[string]any{}
	}
	s := &PollingStream{core: newCore(opts), coll: coll, rawFilter: rawFilter}
	s.wg.Add(1)
	go s.pollLoop()
	return s
}

// pollLoop is the stream's background observation task. It exclusively
// owns the seen-identifier set.
func (s *PollingStream) pollLoop() {
	defer s.wg.Done()

	seen := make(map[string]struct{})
	baselined := false

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	// Establish the baseline immediately rather than waiting a tick.
	if err := s.tick(seen, &baselined); err != nil {
		s.opts.Logger.Warnw("change stream baseline failed, will retry", "error", err)
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(seen, &baselined); err != nil {
				s.opts.Logger.Warnw("change stream poll failed", "error", err)
				// Brief pause so a persistently failing backend does
				// not spin the loop.
				select {
				case <-s.ctx.Done():
					return
				case <-time.After(s.opts.PollInterval / 2):
				}
			}
		}
	}
}

func (s *PollingStream) tick(seen map[string]struct{}, baselined *bool) error {
	docs, err := s.coll.Find(s.rawFilter).All(s.ctx)
	if err != nil {
		return err
	}

	current := make(map[string]document.Document, len(docs))
	for _, doc := range docs {
		if id := doc.ID(); id != "" {
			current[id] = doc
		}
	}

	if !*baselined {
		for id := range current {
			seen[id] = struct{}{}
		}
		*baselined = true
		return nil
	}

	for id, doc := range current {
		if _, ok := seen[id]; !ok {
			if !s.publish(s.newEvent(OperationInsert, id, doc)) {
				return nil
			}
		}
	}
	for id := range seen {
		if _, ok := current[id]; !ok {
			if !s.publish(s.newEvent(OperationDelete, id, nil)) {
				return nil
			}
		}
	}

	for id := range seen {
		delete(seen, id)
	}
	for id := range current {
		seen[id] = struct{}{}
	}
	return nil
}

func (s *PollingStream) newEvent(op Operation, id string, doc document.Document) *Event {
	return &Event{
		Operation:    op,
		DocumentKey:  id,
		FullDocument: doc,
		Namespace:    Namespace{Database: s.coll.Database(), Collection: s.coll.Name()},
		WallTime:     time.Now(),
		ResumeToken:  uuid.NewString(),
	}
}

// Close cancels the poll task and waits for it to finish.
func (s *PollingStream) Close(ctx context.Context) error {
	s.core.close()
	return nil
}
