package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	obsprovider "github.com/Zhima-Mochi/repoevents/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type tally struct {
	mu     sync.Mutex
	total  float64
	labels []observability.Label
}

func (c *tally) Add(d float64, labels ...observability.Label) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += d
	c.labels = labels
}

func (c *tally) Bind(labels ...observability.Label) observability.BoundCounter {
	return boundTally{c: c, labels: labels}
}

type boundTally struct {
	c      *tally
	labels []observability.Label
}

func (b boundTally) Add(d float64) { b.c.Add(d, b.labels...) }

// slowInit blocks in Initialize until release is closed.
type slowInit struct {
	*recordingConsumer
	started chan struct{}
	release chan struct{}
	err     error
}

func (c *slowInit) Initialize(ctx context.Context) error {
	close(c.started)
	<-c.release
	if c.err != nil {
		return c.err
	}
	return c.recordingConsumer.Initialize(ctx)
}

func TestDispatcherEventsAfterDelete(t *testing.T) {
	// arrange
	var (
		ctx         = context.Background()
		core, logs  = observer.New(zapcore.DebugLevel)
		afterDelete = &tally{}
		tel         = obsprovider.New(
			obsprovider.WithLogger(zaplogger.New(zap.New(core))),
			obsprovider.WithInstruments(map[observability.MetricKey]observability.Counter{
				observability.MEventsAfterDelete: afterDelete,
			}, nil),
		)
		sut    = dispatch.New("default", dispatch.WithObservability(tel))
		c      = newConsumer("all", &journal{})
		del    = event.MustNew(event.Delete, event.Item, "5")
		modify = event.MustNew(event.Modify, event.Item, "5")
	)
	mustAdd(t, sut, c, "all", event.Filters{event.AcceptAll})

	// act
	err := sut.Dispatch(ctx, newUnitOfWork(del, modify))

	// assert
	require.NoError(t, err)
	assert.Equal(t, []event.Event{del, modify}, c.consumed)

	warnings := logs.FilterMessage("event_after_delete").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zapcore.WarnLevel, warnings[0].Level)
	assert.Equal(t, modify.ID, warnings[0].ContextMap()["event_id"])
	assert.Equal(t, "default", warnings[0].ContextMap()["dispatcher"])

	assert.Equal(t, 1.0, afterDelete.total)
	assert.Equal(t, []observability.Label{observability.L("dispatcher", "default")}, afterDelete.labels)
}

func TestAddConsumerProfileInitializesOutsideLock(t *testing.T) {
	ctx := context.Background()

	t.Run("should keep dispatching while a consumer initializes", func(t *testing.T) {
		// arrange
		var (
			j        = &journal{}
			sut      = dispatch.New("default")
			existing = newConsumer("existing", j)
			slow     = &slowInit{
				recordingConsumer: newConsumer("slow", j),
				started:           make(chan struct{}),
				release:           make(chan struct{}),
			}
			added = make(chan error, 1)
		)
		mustAdd(t, sut, existing, "existing", event.Filters{event.AcceptAll})
		p, err := dispatch.NewProfile("slow", slow, event.Filters{event.AcceptAll})
		require.NoError(t, err)
		go func() { added <- sut.AddConsumerProfile(ctx, p) }()
		<-slow.started

		// act
		dispatched := make(chan error, 1)
		go func() { dispatched <- sut.Dispatch(ctx, newUnitOfWork(event.MustNew(event.Create, event.Item, "1"))) }()

		// assert
		select {
		case err := <-dispatched:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch blocked by a consumer initialization")
		}
		assert.Len(t, existing.consumed, 1)
		assert.Empty(t, slow.consumed)

		dup, err := dispatch.NewProfile("slow", newConsumer("other", j), event.Filters{event.AcceptAll})
		require.NoError(t, err)
		var dupErr *dispatch.DuplicateConsumerNameError
		assert.ErrorAs(t, sut.AddConsumerProfile(ctx, dup), &dupErr)

		close(slow.release)
		require.NoError(t, <-added)
		assert.Len(t, sut.Profiles(), 2)
		_, ok := sut.Consumer("slow")
		assert.True(t, ok)
	})

	t.Run("should release the name when initialize fails", func(t *testing.T) {
		// arrange
		var (
			j    = &journal{}
			sut  = dispatch.New("default")
			slow = &slowInit{
				recordingConsumer: newConsumer("slow", j),
				started:           make(chan struct{}),
				release:           make(chan struct{}),
				err:               assert.AnError,
			}
		)
		close(slow.release)
		p, err := dispatch.NewProfile("slow", slow, event.Filters{event.AcceptAll})
		require.NoError(t, err)

		// act
		err = sut.AddConsumerProfile(ctx, p)

		// assert
		assert.ErrorIs(t, err, dispatch.ErrConfiguration)
		_, ok := sut.Consumer("slow")
		assert.False(t, ok)
		mustAdd(t, sut, newConsumer("retry", j), "slow", event.Filters{event.AcceptAll})
		assert.Len(t, sut.Profiles(), 1)
	})
}
