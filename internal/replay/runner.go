// Package replay reads the recent bus backlog of every consumed topic and
// feeds it, merged in write order, to the stream processor on startup.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"click-datastreams/internal/bus"
	"click-datastreams/internal/logger"
)

// ErrNoBus is returned by NewRunner when no bus is configured.
var ErrNoBus = errors.New("replay: bus is required")

// Options configures a Runner.
type Options struct {
	Bus      bus.Bus
	Topics   []string      // defaults to bus.ConsumedTopics; order breaks time ties
	Lookback time.Duration // how far back to read
	Buffer   int           // per-topic read-ahead
	Now      func() time.Time
}

// Runner merges the backlog of several topics into one stream.
type Runner struct {
	bus      bus.Bus
	topics   []string
	lookback time.Duration
	buffer   int
	now      func() time.Time
	log      *logger.Entry
}

// NewRunner creates a replay runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Bus == nil {
		return nil, ErrNoBus
	}
	topics := opts.Topics
	if len(topics) == 0 {
		topics = bus.ConsumedTopics
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		bus:      opts.Bus,
		topics:   topics,
		lookback: opts.Lookback,
		buffer:   buffer,
		now:      now,
		log:      logger.GetLogger().WithComponent("replay"),
	}, nil
}

type head struct {
	msg bus.Message
	ok  bool
}

// Replay calls fn for every message written in the lookback window, merged
// across topics by write time. It returns the number of messages delivered.
// An error from fn stops the replay and is returned as is.
func (r *Runner) Replay(ctx context.Context, fn func(bus.Message) error) (int, error) {
	if r.lookback <= 0 {
		return 0, nil
	}
	since := r.now().Add(-r.lookback)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	streams := make([]chan bus.Message, len(r.topics))
	for i, topic := range r.topics {
		ch := make(chan bus.Message, r.buffer)
		streams[i] = ch
		g.Go(func() error {
			defer close(ch)
			err := r.bus.Replay(gctx, topic, since, func(m bus.Message) error {
				select {
				case ch <- m:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("replay %s: %w", topic, err)
			}
			return nil
		})
	}

	n, mergeErr := r.merge(gctx, streams, fn)
	if mergeErr != nil {
		cancel()
	}
	readErr := g.Wait()

	switch {
	case mergeErr != nil && !errors.Is(mergeErr, context.Canceled):
		return n, mergeErr
	case readErr != nil:
		return n, readErr
	case mergeErr != nil:
		return n, mergeErr
	}

	r.log.WithFields(logger.Fields{
		"messages": n,
		"topics":   len(r.topics),
		"since":    since.UTC().Format(time.RFC3339),
	}).Info("Backlog replayed")
	return n, nil
}

// merge repeatedly delivers the smallest head among the open streams.
func (r *Runner) merge(ctx context.Context, streams []chan bus.Message, fn func(bus.Message) error) (int, error) {
	heads := make([]head, len(streams))
	open := make([]bool, len(streams))
	for i := range open {
		open[i] = true
	}

	n := 0
	for {
		for i, ch := range streams {
			if !open[i] || heads[i].ok {
				continue
			}
			select {
			case m, ok := <-ch:
				if !ok {
					open[i] = false
					continue
				}
				heads[i] = head{msg: m, ok: true}
			case <-ctx.Done():
				return n, ctx.Err()
			}
		}

		best := -1
		for i, h := range heads {
			if !h.ok {
				continue
			}
			if best < 0 || compareMessages(h.msg, i, heads[best].msg, best) < 0 {
				best = i
			}
		}
		if best < 0 {
			return n, nil
		}

		msg := heads[best].msg
		heads[best] = head{}
		if err := fn(msg); err != nil {
			return n, err
		}
		n++
	}
}
