// Package registry maps implementation names from the configuration to the
// consumers compiled into the binary.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/content"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/amqpexport"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/browse"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/eventlogger"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/history"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/search"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/subscription"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/kv"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/go-viper/mapstructure/v2"
)

// Deps are the shared resources handed to every builder.
type Deps struct {
	Observability observability.Observability
	Content       content.Reader
	// KV backs idempotency markers; nil falls back to process memory.
	KV     kv.KV
	Sender subscription.Sender
}

// Builder creates one consumer from its raw configuration options.
type Builder func(deps Deps, options map[string]any) (dispatch.Consumer, error)

type Registry struct {
	deps Deps

	mu       sync.RWMutex
	builders map[string]Builder
}

var _ dispatch.Factory = (*Registry)(nil)

// New returns a registry holding the bundled consumers.
func New(deps Deps) *Registry {
	deps.Observability = observability.OrNop(deps.Observability)
	r := &Registry{deps: deps, builders: make(map[string]Builder)}
	r.Register(search.Implementation, buildSearch)
	r.Register(browse.Implementation, buildBrowse)
	r.Register(subscription.Implementation, buildSubscription)
	r.Register(history.Implementation, buildHistory)
	r.Register(amqpexport.Implementation, buildAMQP)
	r.Register(eventlogger.Implementation, buildLog)
	return r
}

// Register adds or replaces the builder of an implementation name.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for name := range r.builders {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) New(implementation string, options map[string]any) (dispatch.Consumer, error) {
	r.mu.RLock()
	b, ok := r.builders[implementation]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown implementation %q (known: %v)", implementation, r.Names())
	}
	return b(r.deps, options)
}

// Decode copies raw options into a typed config. Unknown keys are errors;
// strings are converted to durations and numbers where needed.
func Decode(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	return nil
}

func buildSearch(deps Deps, options map[string]any) (dispatch.Consumer, error) {
	var cfg search.Config
	if err := Decode(options, &cfg); err != nil {
		return nil, err
	}
	return search.New(cfg, deps.Content, deps.Observability.Logger()), nil
}

func buildBrowse(deps Deps, options map[string]any) (dispatch.Consumer, error) {
	var cfg browse.Config
	if err := Decode(options, &cfg); err != nil {
		return nil, err
	}
	return browse.New(cfg, deps.Content, deps.Observability.Logger())
}

func buildSubscription(deps Deps, options map[string]any) (dispatch.Consumer, error) {
	var cfg subscription.Config
	if err := Decode(options, &cfg); err != nil {
		return nil, err
	}
	opts := []subscription.Option{subscription.WithObservability(deps.Observability)}
	if deps.KV != nil {
		opts = append(opts, subscription.WithStore(deps.KV))
	}
	if deps.Sender != nil {
		opts = append(opts, subscription.WithSender(deps.Sender))
	}
	return subscription.New(cfg, deps.Content, opts...)
}

func buildHistory(deps Deps, options map[string]any) (dispatch.Consumer, error) {
	var cfg history.Config
	if err := Decode(options, &cfg); err != nil {
		return nil, err
	}
	return history.New(cfg, deps.Observability.Logger()), nil
}

func buildAMQP(deps Deps, options map[string]any) (dispatch.Consumer, error) {
	var cfg amqpexport.Config
	if err := Decode(options, &cfg); err != nil {
		return nil, err
	}
	return amqpexport.New(cfg, amqpexport.WithLogger(deps.Observability.Logger())), nil
}

func buildLog(deps Deps, options map[string]any) (dispatch.Consumer, error) {
	var cfg eventlogger.Config
	if err := Decode(options, &cfg); err != nil {
		return nil, err
	}
	return eventlogger.New(cfg, deps.Observability.Logger()), nil
}

// Find returns the first consumer of the dispatcher chain with type T.
func Find[T dispatch.Consumer](d *dispatch.Dispatcher) (T, bool) {
	for _, p := range d.Profiles() {
		if c, ok := p.Consumer.(T); ok {
			return c, true
		}
	}
	var zero T
	return zero, false
}
