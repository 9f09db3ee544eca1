// Package subscription collects new and changed items per collection and
// mails a digest of them on a schedule.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/content"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/batch"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/kv"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"
	cronv3 "github.com/robfig/cron/v3"
)

const (
	Implementation = "subscription"

	DefaultSchedule = "@daily"
	DefaultKeyTTL   = 7 * 24 * time.Hour
)

type Config struct {
	// Schedule is a cron expression for the digest run.
	Schedule string `mapstructure:"schedule"`
	// Timezone for Schedule, default local time.
	Timezone  string        `mapstructure:"timezone"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	KeyTTL    time.Duration `mapstructure:"key_ttl"`
}

type ChangeKind string

const (
	ChangeNew      ChangeKind = "new"
	ChangeModified ChangeKind = "modified"
)

type Change struct {
	ItemID  string     `json:"item_id"`
	Title   string     `json:"title"`
	Kind    ChangeKind `json:"kind"`
	EventID string     `json:"event_id"`
	At      time.Time  `json:"at"`
}

// Digest is the set of changes of one collection since the previous run.
type Digest struct {
	CollectionID string
	Changes      []Change
}

// Sender delivers a digest, typically by mail.
type Sender interface {
	Send(ctx context.Context, d Digest) error
}

type SenderFunc func(ctx context.Context, d Digest) error

func (fn SenderFunc) Send(ctx context.Context, d Digest) error { return fn(ctx, d) }

// LogSender writes digests to the log instead of mailing them.
type LogSender struct{ Log observability.Logger }

func (s LogSender) Send(ctx context.Context, d Digest) error {
	logctx.FromOr(ctx, s.Log).Info("subscription_digest",
		observability.F("collection_id", d.CollectionID),
		observability.F("changes", len(d.Changes)),
	)
	return nil
}

type candidate struct {
	collectionID string
	change       Change
}

type Consumer struct {
	cfg    Config
	reader content.Reader
	store  kv.KV
	sender Sender
	log    observability.Logger
	sent   observability.Counter // subscription_digests_total{outcome}

	batches *batch.Batches[[]candidate]
	cron    *cronv3.Cron

	mu     sync.Mutex
	queued map[string][]Change
}

type Option func(*Consumer)

func WithSender(s Sender) Option { return func(c *Consumer) { c.sender = s } }

func WithStore(store kv.KV) Option { return func(c *Consumer) { c.store = store } }

func WithObservability(tel observability.Observability) Option {
	return func(c *Consumer) {
		tel = observability.OrNop(tel)
		c.log = tel.Logger()
		c.sent = tel.Metrics().Counter(observability.MSubscriptionDigestSent)
	}
}

func New(cfg Config, reader content.Reader, opts ...Option) (*Consumer, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "repoevents:subscription"
	}
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = DefaultKeyTTL
	}
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("subscription: timezone: %w", err)
		}
		loc = l
	}

	c := &Consumer{
		cfg:     cfg,
		reader:  reader,
		log:     observability.NopLogger(),
		sent:    observability.NopCounter(),
		batches: batch.New(func() *[]candidate { return new([]candidate) }),
		cron:    cronv3.New(cronv3.WithLocation(loc)),
		queued:  make(map[string][]Change),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = kv.NewMemory()
	}
	if c.sender == nil {
		c.sender = LogSender{Log: c.log}
	}
	c.log = c.log.With(observability.F("consumer_impl", Implementation))

	digest := func() {
		ctx := logctx.WithJob(context.Background(), c.log, "subscription_digest", nil)
		_ = c.SendDigests(ctx)
	}
	if _, err := c.cron.AddFunc(cfg.Schedule, digest); err != nil {
		return nil, fmt.Errorf("subscription: schedule %q: %w", cfg.Schedule, err)
	}
	return c, nil
}

func (c *Consumer) Initialize(context.Context) error {
	if c.reader == nil {
		return errors.New("subscription: content reader is required")
	}
	c.cron.Start()
	return nil
}

// Consume notes items added to a collection and item changes. The owning
// collection of a changed item is looked up when the event is consumed.
func (c *Consumer) Consume(ctx context.Context, scope dispatch.Scope, e event.Event) error {
	var (
		itemID, collectionID string
		kind                 ChangeKind
	)
	switch {
	case e.Type == event.Add && e.SubjectType == event.Collection && e.ObjectType == event.Item:
		itemID, collectionID, kind = e.ObjectID, e.SubjectID, ChangeNew
	case (e.Type == event.Modify || e.Type == event.ModifyMetadata) && e.SubjectType == event.Item:
		itemID, kind = e.SubjectID, ChangeModified
	default:
		return nil
	}

	item, err := c.reader.Get(ctx, itemID)
	if errors.Is(err, content.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("subscription: load item %s: %w", itemID, err)
	}
	if collectionID == "" {
		collectionID = item.ParentID
	}
	if collectionID == "" {
		return nil
	}

	cand := candidate{
		collectionID: collectionID,
		change:       Change{ItemID: itemID, Title: item.Title(), Kind: kind, EventID: e.ID, At: e.Timestamp},
	}
	c.batches.Update(scope.UnitOfWorkID, func(p *[]candidate) { *p = append(*p, cand) })
	return nil
}

// End queues the collected changes for the next digest. Each event is queued
// at most once, even when a batch is replayed.
func (c *Consumer) End(ctx context.Context, scope dispatch.Scope) error {
	p, ok := c.batches.Take(scope.UnitOfWorkID)
	if !ok {
		return nil
	}
	queued := 0
	for _, cand := range *p {
		fresh, err := c.store.SetNX(ctx, c.cfg.KeyPrefix+":"+cand.change.EventID, scope.UnitOfWorkID, c.cfg.KeyTTL)
		if err != nil {
			return fmt.Errorf("subscription: idempotency store: %w", err)
		}
		if !fresh {
			continue
		}
		c.enqueue(cand)
		queued++
	}
	logctx.FromOr(ctx, c.log).Debug("subscription_changes_queued",
		observability.F("queued", queued),
		observability.F("replayed", len(*p)-queued),
	)
	return nil
}

func (c *Consumer) enqueue(cand candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.queued[cand.collectionID]
	// A new item that is also modified in the same period is reported once.
	if slices.ContainsFunc(list, func(ch Change) bool { return ch.ItemID == cand.change.ItemID }) {
		return
	}
	c.queued[cand.collectionID] = append(list, cand.change)
}

func (c *Consumer) Abort(_ context.Context, scope dispatch.Scope) {
	c.batches.Drop(scope.UnitOfWorkID)
}

// Pending returns a copy of the queued changes per collection.
func (c *Consumer) Pending() map[string][]Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]Change, len(c.queued))
	for k, v := range c.queued {
		out[k] = slices.Clone(v)
	}
	return out
}

// SendDigests sends one digest per collection with queued changes. Digests
// that fail to send are queued again for the next run.
func (c *Consumer) SendDigests(ctx context.Context) error {
	c.mu.Lock()
	queued := c.queued
	c.queued = make(map[string][]Change)
	c.mu.Unlock()

	ids := make([]string, 0, len(queued))
	for id := range queued {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var errs []error
	for _, id := range ids {
		d := Digest{CollectionID: id, Changes: queued[id]}
		if err := c.sender.Send(ctx, d); err != nil {
			c.sent.Add(1, observability.L("outcome", "error"))
			errs = append(errs, fmt.Errorf("subscription: digest for %s: %w", id, err))
			c.requeue(d)
			continue
		}
		c.sent.Add(1, observability.L("outcome", "success"))
	}
	if err := errors.Join(errs...); err != nil {
		logctx.FromOr(ctx, c.log).Warn("subscription_digest_failed", observability.Err(err))
		return err
	}
	return nil
}

func (c *Consumer) requeue(d Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued[d.CollectionID] = append(d.Changes, c.queued[d.CollectionID]...)
}

// Finish stops the schedule and sends what is still queued.
func (c *Consumer) Finish(ctx context.Context) error {
	stopped := c.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.SendDigests(ctx)
}
