// Package browse maintains the title browse index.
package browse

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
	"golang.org/x/text/language"
)

const Implementation = "browse"

type Config struct {
	// Locale is a BCP 47 tag selecting the collation, default "en".
	Locale string `mapstructure:"locale"`
	// Types are the subject types listed, default items only.
	Types []string `mapstructure:"types"`
}

// changes maps an object ID to whether it still exists after the batch.
type changes map[string]bool

type Consumer struct {
	cfg     Config
	types   event.SubjectType
	index   *TitleIndex
	reader  content.Reader
	log     observability.Logger
	batches *batch.Batches[changes]
}

func New(cfg Config, reader content.Reader, log observability.Logger) (*Consumer, error) {
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}
	tag, err := language.Parse(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("browse: locale %q: %w", cfg.Locale, err)
	}
	types := event.Item
	if len(cfg.Types) > 0 {
		types = 0
		for _, name := range cfg.Types {
			t, err := event.ParseSubjectType(name)
			if err != nil {
				return nil, fmt.Errorf("browse: %w", err)
			}
			types |= t
		}
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Consumer{
		cfg:     cfg,
		types:   types,
		index:   NewTitleIndex(tag),
		reader:  reader,
		log:     log.With(observability.F("consumer_impl", Implementation)),
		batches: batch.New(func() *changes { c := make(changes); return &c }),
	}, nil
}

func (c *Consumer) Index() *TitleIndex { return c.index }

func (c *Consumer) Initialize(context.Context) error {
	if c.reader == nil {
		return errors.New("browse: content reader is required")
	}
	return nil
}

func (c *Consumer) Consume(_ context.Context, scope dispatch.Scope, e event.Event) error {
	if e.SubjectType&c.types == 0 {
		return nil
	}
	c.batches.Update(scope.UnitOfWorkID, func(ch *changes) {
		switch e.Type {
		case event.Delete:
			(*ch)[e.SubjectID] = false
		case event.Create, event.Modify, event.ModifyMetadata:
			(*ch)[e.SubjectID] = true
		}
	})
	return nil
}

func (c *Consumer) End(ctx context.Context, scope dispatch.Scope) error {
	ch, ok := c.batches.Take(scope.UnitOfWorkID)
	if !ok {
		return nil
	}
	var errs []error
	for id, alive := range *ch {
		if !alive {
			c.index.Remove(id)
			continue
		}
		obj, err := c.reader.Get(ctx, id)
		switch {
		case errors.Is(err, content.ErrNotFound):
			c.index.Remove(id)
		case err != nil:
			errs = append(errs, fmt.Errorf("browse: load %s: %w", id, err))
		default:
			c.index.Put(obj.ID, obj.Type, obj.Title())
		}
	}
	logctx.FromOr(ctx, c.log).Debug("browse_index_updated", observability.F("changes", len(*ch)))
	return errors.Join(errs...)
}

func (c *Consumer) Abort(_ context.Context, scope dispatch.Scope) {
	c.batches.Drop(scope.UnitOfWorkID)
}

func (c *Consumer) Finish(context.Context) error { return nil }
