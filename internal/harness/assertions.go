package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/offsync/internal/queue"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nRequests:\n")
		i := 0
		for _, event := range e.Trace {
			if event.Type == EventRequest {
				i++
				fmt.Fprintf(&buf, "  [%d] %s\n", i, requestLine(event))
			}
		}
	}

	return buf.String()
}

// AssertionContext provides the final state assertions read from.
type AssertionContext struct {
	Ctx    context.Context
	Queue  *queue.Queue
	Events map[string]int
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRequestCount:
			err = assertRequestCount(result.Trace, assertion)
		case AssertRequestOrder:
			err = assertRequestOrder(result.Trace, assertion)
		case AssertQueueLength, AssertQueueState:
			if actx == nil || actx.Queue == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a queue", i, assertion.Type)
				break
			}
			items, lerr := actx.Queue.ListAll(actx.Ctx)
			if lerr != nil {
				err = fmt.Errorf("assertion[%d]: list queue: %w", i, lerr)
				break
			}
			if assertion.Type == AssertQueueLength {
				err = assertQueueLength(items, assertion)
			} else {
				err = assertQueueState(items, assertion)
			}
		case AssertEventCount:
			var events map[string]int
			if actx != nil {
				events = actx.Events
			}
			err = assertEventCount(events, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func assertRequestCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventRequest {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d requests", assertion.Count),
			Actual:   fmt.Sprintf("%d requests", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRequestOrder checks the full "METHOD URL" sequence the network saw.
func assertRequestOrder(trace []TraceEvent, assertion Assertion) error {
	var actual []string
	for _, event := range trace {
		if event.Type == EventRequest {
			actual = append(actual, requestLine(event))
		}
	}
	if len(actual) != len(assertion.Requests) {
		return &AssertionError{
			Type:     AssertRequestOrder,
			Expected: fmt.Sprintf("%d requests %v", len(assertion.Requests), assertion.Requests),
			Actual:   fmt.Sprintf("%d requests %v", len(actual), actual),
			Trace:    trace,
		}
	}
	for i, want := range assertion.Requests {
		if actual[i] != want {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("request %d = %s", i+1, want),
				Actual:   fmt.Sprintf("request %d = %s", i+1, actual[i]),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertQueueLength(items []queue.Item, assertion Assertion) error {
	if len(items) != assertion.Count {
		return &AssertionError{
			Type:     AssertQueueLength,
			Expected: fmt.Sprintf("%d items", assertion.Count),
			Actual:   fmt.Sprintf("%d items", len(items)),
		}
	}
	return nil
}

// assertQueueState finds exactly one item matching Where and subset-matches
// Expect against it. A nil Expect asserts no item matches.
func assertQueueState(items []queue.Item, assertion Assertion) error {
	var matched []map[string]any
	for _, item := range items {
		m := itemMap(item)
		if matchArgs(m, assertion.Where) {
			matched = append(matched, m)
		}
	}
	where := formatWhere(assertion.Where)

	if assertion.Expect == nil {
		if len(matched) > 0 {
			return &AssertionError{
				Type:     AssertQueueState,
				Expected: fmt.Sprintf("no item where %s", where),
				Actual:   fmt.Sprintf("%d matching items", len(matched)),
			}
		}
		return nil
	}

	switch len(matched) {
	case 0:
		return &AssertionError{
			Type:     AssertQueueState,
			Expected: fmt.Sprintf("item where %s", where),
			Actual:   "item not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertQueueState,
			Expected: fmt.Sprintf("exactly one item where %s", where),
			Actual:   "multiple items matched (assertion is ambiguous)",
		}
	}

	actual := matched[0]
	keys := sortedKeys(assertion.Expect)
	for _, key := range keys {
		want := assertion.Expect[key]
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertQueueState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("fields are %v", sortedKeys(actual)),
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     AssertQueueState,
				Expected: fmt.Sprintf("field %q = %v", key, want),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
			}
		}
	}
	return nil
}

func assertEventCount(events map[string]int, assertion Assertion) error {
	if n := events[assertion.Event]; n != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d events", n),
		}
	}
	return nil
}

// itemMap flattens a queue item into the fields assertions can address.
func itemMap(item queue.Item) map[string]any {
	return map[string]any{
		"id":              item.ID,
		"target_url":      item.TargetURL,
		"method":          item.Method,
		"status":          string(item.Status),
		"retry_count":     item.RetryCount,
		"priority":        item.Priority.String(),
		"auth_hold":       item.AuthHold,
		"description":     item.Description,
		"idempotency_key": item.IdempotencyKey,
		"last_error":      item.LastError,
	}
}

func requestLine(event TraceEvent) string {
	return fmt.Sprintf("%v %v", event.Args["method"], event.Args["url"])
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// matchArgs checks if actual contains all expected keys (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual map[string]any, expected map[string]any) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values, treating all integer kinds as equal
// when their values match. YAML decodes numbers as int while outcomes
// carry int64.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}
	if a, ok := asInt(actual); ok {
		if e, ok := asInt(expected); ok {
			return a == e
		}
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
