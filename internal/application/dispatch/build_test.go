package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// factoryFor hands out one recording consumer per implementation name.
type factoryFor struct {
	mu        sync.Mutex
	journal   *journal
	built     map[string]*recordingConsumer
	failInit  map[string]bool
	unknown   map[string]bool
	gotOption map[string]map[string]any
}

func newFactory() *factoryFor {
	return &factoryFor{
		journal:   &journal{},
		built:     map[string]*recordingConsumer{},
		failInit:  map[string]bool{},
		unknown:   map[string]bool{},
		gotOption: map[string]map[string]any{},
	}
}

func (f *factoryFor) New(impl string, options map[string]any) (dispatch.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unknown[impl] {
		return nil, errors.New("unknown implementation " + impl)
	}
	c := newConsumer(impl, f.journal)
	f.built[impl] = c
	f.gotOption[impl] = options
	if f.failInit[impl] {
		return initFails{c}, nil
	}
	return c, nil
}

type initFails struct{ *recordingConsumer }

func (initFails) Initialize(context.Context) error { return errors.New("cannot connect") }

func TestBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("should build the chain in configured order", func(t *testing.T) {
		// arrange
		var (
			factory = newFactory()
			cfg     = dispatch.BuildConfig{
				Name:        "default",
				Consolidate: true,
				Consumers: []dispatch.Definition{
					{Name: "search", Implementation: "search", EventTypes: []string{"create", "modify"}, SubjectTypes: []string{"item"},
						Options: map[string]any{"fields": []string{"dc.title"}}},
					{Name: "history", Implementation: "history", Filters: []string{"all+all"}, FatalOnError: true},
					{Name: "log", Implementation: "log", AlwaysRun: true},
				},
			}
		)

		// act
		d, err := dispatch.Build(ctx, cfg, factory)

		// assert
		require.NoError(t, err)
		assert.True(t, d.Consolidates())
		profiles := d.Profiles()
		require.Len(t, profiles, 3)
		assert.Equal(t, "search", profiles[0].Name)
		assert.Equal(t, event.Filters{event.NewFilter(event.Create|event.Modify, event.Item)}, profiles[0].Filters)
		assert.Equal(t, "history", profiles[1].Name)
		assert.True(t, profiles[1].FatalOnError)
		assert.Equal(t, event.Filters{event.AcceptAll}, profiles[1].Filters)
		assert.True(t, profiles[2].AlwaysRun)
		assert.Empty(t, profiles[2].Filters)
		for _, c := range factory.built {
			assert.Equal(t, 1, c.inits)
		}
		assert.Equal(t, map[string]any{"fields": []string{"dc.title"}}, factory.gotOption["search"])

		c, ok := d.Consumer("history")
		assert.True(t, ok)
		assert.Same(t, factory.built["history"], c)
	})

	invalid := []struct {
		name string
		defs []dispatch.Definition
	}{
		{name: "missing name", defs: []dispatch.Definition{{Implementation: "x"}}},
		{name: "duplicate name", defs: []dispatch.Definition{
			{Name: "a", Implementation: "x"}, {Name: "a", Implementation: "y"},
		}},
		{name: "missing implementation", defs: []dispatch.Definition{{Name: "a"}}},
		{name: "unknown event type", defs: []dispatch.Definition{
			{Name: "a", Implementation: "x", EventTypes: []string{"explode"}, SubjectTypes: []string{"item"}},
		}},
		{name: "unknown subject in expression", defs: []dispatch.Definition{
			{Name: "a", Implementation: "x", Filters: []string{"Widget+Create"}},
		}},
		{name: "unknown implementation", defs: []dispatch.Definition{{Name: "a", Implementation: "nope"}}},
	}
	for _, tc := range invalid {
		t.Run("should fail at load on "+tc.name, func(t *testing.T) {
			// arrange
			factory := newFactory()
			factory.unknown["nope"] = true

			// act
			d, err := dispatch.Build(ctx, dispatch.BuildConfig{Name: "default", Consumers: tc.defs}, factory)

			// assert
			assert.Nil(t, d)
			assert.ErrorIs(t, err, dispatch.ErrConfiguration)
			for _, c := range factory.built {
				assert.Zero(t, c.inits, "no consumer is initialized on a malformed list")
			}
		})
	}

	t.Run("should finish initialized consumers when one fails", func(t *testing.T) {
		// arrange
		factory := newFactory()
		factory.failInit["broken"] = true
		cfg := dispatch.BuildConfig{
			Name:            "default",
			InitConcurrency: 1,
			Consumers: []dispatch.Definition{
				{Name: "ok", Implementation: "ok"},
				{Name: "broken", Implementation: "broken"},
			},
		}

		// act
		d, err := dispatch.Build(ctx, cfg, factory)

		// assert
		assert.Nil(t, d)
		var cfgErr *dispatch.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "broken", cfgErr.Consumer)
		assert.Equal(t, 1, factory.built["ok"].finishes)
		assert.Zero(t, factory.built["broken"].finishes)
	})

	t.Run("should require a factory", func(t *testing.T) {
		_, err := dispatch.Build(ctx, dispatch.BuildConfig{Name: "default"}, nil)

		assert.ErrorIs(t, err, dispatch.ErrConfiguration)
	})
}
