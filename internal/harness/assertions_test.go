package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/model"
	"github.com/roach88/offsync/internal/queue"
)

func traceWith(requests ...string) []TraceEvent {
	var out []TraceEvent
	for i, r := range requests {
		var method, url string
		for j := 0; j < len(r); j++ {
			if r[j] == ' ' {
				method, url = r[:j], r[j+1:]
				break
			}
		}
		out = append(out, TraceEvent{
			Type: EventRequest,
			Seq:  int64(i + 1),
			Args: map[string]any{"method": method, "url": url},
		})
	}
	return out
}

func TestAssertRequestCount(t *testing.T) {
	trace := traceWith("POST https://api.test/a", "PUT https://api.test/b")
	trace = append(trace, TraceEvent{Type: EventStep, Op: OpSync})

	assert.NoError(t, assertRequestCount(trace, Assertion{Type: AssertRequestCount, Count: 2}))

	err := assertRequestCount(trace, Assertion{Type: AssertRequestCount, Count: 3})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "3 requests", ae.Expected)
	assert.Equal(t, "2 requests", ae.Actual)
	assert.Contains(t, err.Error(), "[2] PUT https://api.test/b")
}

func TestAssertRequestOrder(t *testing.T) {
	trace := traceWith("PUT https://api.test/b", "POST https://api.test/a")

	assert.NoError(t, assertRequestOrder(trace, Assertion{
		Requests: []string{"PUT https://api.test/b", "POST https://api.test/a"},
	}))

	err := assertRequestOrder(trace, Assertion{
		Requests: []string{"POST https://api.test/a", "PUT https://api.test/b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request 1 = POST https://api.test/a")

	err = assertRequestOrder(trace, Assertion{Requests: []string{"PUT https://api.test/b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 requests")
}

func TestAssertQueueState(t *testing.T) {
	items := []queue.Item{
		{ID: 1, TargetURL: "https://api.test/a", Method: "POST", Status: model.StatusPending, Priority: model.PriorityHigh, AuthHold: true},
		{ID: 2, TargetURL: "https://api.test/b", Method: "PUT", Status: model.StatusFailed, RetryCount: 3, Priority: model.PriorityLow},
	}

	t.Run("match", func(t *testing.T) {
		err := assertQueueState(items, Assertion{
			Where:  map[string]any{"id": 2},
			Expect: map[string]any{"status": "failed", "retry_count": 3, "priority": "low"},
		})
		assert.NoError(t, err)
	})

	t.Run("mismatch", func(t *testing.T) {
		err := assertQueueState(items, Assertion{
			Where:  map[string]any{"id": 1},
			Expect: map[string]any{"auth_hold": false},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `field "auth_hold" = false`)
	})

	t.Run("unknown field", func(t *testing.T) {
		err := assertQueueState(items, Assertion{
			Where:  map[string]any{"id": 1},
			Expect: map[string]any{"colour": "red"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `field "colour" to exist`)
	})

	t.Run("absent", func(t *testing.T) {
		assert.NoError(t, assertQueueState(items, Assertion{Where: map[string]any{"id": 9}}))
		assert.Error(t, assertQueueState(items, Assertion{Where: map[string]any{"id": 1}}))
	})

	t.Run("ambiguous", func(t *testing.T) {
		err := assertQueueState(items, Assertion{
			Where:  map[string]any{"auth_hold": false, "method": "PUT"},
			Expect: map[string]any{"id": 2},
		})
		assert.NoError(t, err)

		err = assertQueueState(append(items, items[1]), Assertion{
			Where:  map[string]any{"method": "PUT"},
			Expect: map[string]any{"id": 2},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ambiguous")
	})
}

func TestAssertEventCount(t *testing.T) {
	events := map[string]int{"online": 2}
	assert.NoError(t, assertEventCount(events, Assertion{Event: "online", Count: 2}))
	assert.NoError(t, assertEventCount(events, Assertion{Event: "offline", Count: 0}))
	assert.Error(t, assertEventCount(events, Assertion{Event: "online", Count: 1}))
}

func TestEvaluateAssertions_RequiresQueue(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertQueueLength}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires a queue")

	errs = EvaluateAssertions(NewResult(), []Assertion{{Type: AssertRequestCount}}, &AssertionContext{Ctx: context.Background()})
	assert.Empty(t, errs)
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(int64(3), 3))
	assert.True(t, valuesEqual(3, int64(3)))
	assert.False(t, valuesEqual(int64(3), "3"))
	assert.True(t, valuesEqual("a", "a"))
	assert.True(t, valuesEqual(nil, nil))
	assert.False(t, valuesEqual(nil, false))
	assert.True(t, valuesEqual([]any{1, "x"}, []any{1, "x"}))
}
