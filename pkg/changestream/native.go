package changestream

import (
	"context"
	"errors"
)

// NativeStream adapts a backend's own push feed to the Stream contract. A
// background task drains the feed into the bounded queue; Close cancels
// and awaits the task before closing the feed, so no events are delivered
// afterwards.
type NativeStream struct {
	*core
	feed Feed
}

// NewNative wraps a native feed and starts draining it.
func NewNative(feed Feed, opts Options) *NativeStream {
	s := &NativeStream{core: newCore(opts), feed: feed}
	s.wg.Add(1)
	go s.drainLoop()
	return s
}

func (s *NativeStream) drainLoop() {
	defer s.wg.Done()
	for {
		ev, err := s.feed.Next(s.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
				return
			}
			s.opts.Logger.Errorw("native change feed failed", "error", err)
			return
		}
		if ev == nil {
			continue
		}
		if !s.publish(ev) {
			return
		}
	}
}

// Close stops the drain task, waits for it, then closes the underlying
// feed.
func (s *NativeStream) Close(ctx context.Context) error {
	s.core.close()
	return s.feed.Close(ctx)
}
