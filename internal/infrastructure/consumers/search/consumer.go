// Package search keeps a full text index of communities, collections and
// items current with repository events.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/content"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/batch"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"
)

const Implementation = "search"

// Indexed lists the object types the index holds.
const Indexed = event.Item | event.Collection | event.Community

var DefaultFields = []string{
	"dc.title",
	"dc.contributor.author",
	"dc.subject",
	"dc.description.abstract",
}

type Config struct {
	// Fields are the metadata fields whose values are indexed.
	Fields []string `mapstructure:"fields"`
}

type pending struct {
	update map[string]struct{}
	remove map[string]struct{}
	listed map[string]struct{}
	order  []string
}

func newPending() *pending {
	return &pending{
		update: make(map[string]struct{}),
		remove: make(map[string]struct{}),
		listed: make(map[string]struct{}),
	}
}

func (p *pending) touch(id string) {
	delete(p.remove, id)
	p.update[id] = struct{}{}
	if _, ok := p.listed[id]; !ok {
		p.listed[id] = struct{}{}
		p.order = append(p.order, id)
	}
}

func (p *pending) drop(id string) {
	delete(p.update, id)
	p.remove[id] = struct{}{}
}

// Consumer collects changed objects per unit of work in Consume and
// re-indexes them in End.
type Consumer struct {
	cfg     Config
	index   *Index
	reader  content.Reader
	log     observability.Logger
	batches *batch.Batches[pending]
}

func New(cfg Config, reader content.Reader, log observability.Logger) *Consumer {
	if len(cfg.Fields) == 0 {
		cfg.Fields = DefaultFields
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Consumer{
		cfg:     cfg,
		index:   NewIndex(),
		reader:  reader,
		log:     log.With(observability.F("consumer_impl", Implementation)),
		batches: batch.New(newPending),
	}
}

func (c *Consumer) Index() *Index { return c.index }

func (c *Consumer) Initialize(context.Context) error {
	if c.reader == nil {
		return errors.New("search: content reader is required")
	}
	return nil
}

func (c *Consumer) Consume(_ context.Context, scope dispatch.Scope, e event.Event) error {
	c.batches.Update(scope.UnitOfWorkID, func(p *pending) {
		switch {
		case e.Type == event.Delete:
			if e.SubjectType&Indexed != 0 {
				p.drop(e.SubjectID)
			}
		case e.SubjectType&Indexed != 0:
			p.touch(e.SubjectID)
		}
		// Membership changes re-index the moved object as well.
		if (e.Type == event.Add || e.Type == event.Remove) && e.ObjectType&Indexed != 0 {
			p.touch(e.ObjectID)
		}
	})
	return nil
}

func (c *Consumer) End(ctx context.Context, scope dispatch.Scope) error {
	p, ok := c.batches.Take(scope.UnitOfWorkID)
	if !ok {
		return nil
	}
	for id := range p.remove {
		c.index.Remove(id)
	}
	var errs []error
	updated := 0
	for _, id := range p.order {
		if _, ok := p.update[id]; !ok {
			continue
		}
		obj, err := c.reader.Get(ctx, id)
		if errors.Is(err, content.ErrNotFound) {
			c.index.Remove(id)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("search: load %s: %w", id, err))
			continue
		}
		c.index.Put(obj.ID, obj.Type, obj.Title(), c.text(obj))
		updated++
	}
	logctx.FromOr(ctx, c.log).Debug("search_index_updated",
		observability.F("updated", updated),
		observability.F("removed", len(p.remove)),
	)
	return errors.Join(errs...)
}

// Abort drops the pending batch of a failed dispatch.
func (c *Consumer) Abort(_ context.Context, scope dispatch.Scope) {
	c.batches.Drop(scope.UnitOfWorkID)
}

func (c *Consumer) Finish(context.Context) error { return nil }

func (c *Consumer) text(obj *content.Object) []string {
	out := []string{obj.Name, obj.Handle}
	for _, f := range c.cfg.Fields {
		out = append(out, obj.Metadata[f]...)
	}
	return out
}
