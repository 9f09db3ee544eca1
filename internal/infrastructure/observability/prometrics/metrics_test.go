package prometrics

import (
	"strings"
	"testing"

	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Run("should register each instrument once", func(t *testing.T) {
		// arrange
		reg := prometheus.NewRegistry()
		r := New("repoevents", "", reg)

		// act
		first := r.Counter("consumer_events_total", "Events.", "consumer")
		second := r.Counter("consumer_events_total", "Events.", "consumer")
		first.Add(2, observability.L("consumer", "search"))
		second.Bind(observability.L("consumer", "search")).Add(1)

		// assert
		expected := `
# HELP repoevents_consumer_events_total Events.
# TYPE repoevents_consumer_events_total counter
repoevents_consumer_events_total{consumer="search"} 3
`
		require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "repoevents_consumer_events_total"))
	})

	t.Run("should expose every application instrument", func(t *testing.T) {
		// arrange
		reg := prometheus.NewRegistry()

		// act
		counters, histograms := Instruments(New("repoevents", "test", reg))
		counters[observability.MDispatches].Add(1,
			observability.L("dispatcher", "default"), observability.L("outcome", "success"))
		histograms[observability.MDispatchDuration].Bind(observability.L("dispatcher", "default")).Observe(0.2)

		// assert
		assert.Contains(t, counters, observability.MConsumerFailures)
		assert.Contains(t, histograms, observability.MConsumerDuration)
		n, err := testutil.GatherAndCount(reg,
			"repoevents_test_"+string(observability.MDispatches),
			"repoevents_test_"+string(observability.MDispatchDuration),
		)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
