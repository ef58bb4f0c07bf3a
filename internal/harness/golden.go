package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/offsync/internal/canon"
)

// TraceSnapshot captures the trace of one scenario execution.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// toCanonicalMap converts the snapshot into the value types canon.Marshal
// accepts.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"type": event.Type,
			"seq":  event.Seq,
		}
		if event.Op != "" {
			eventMap["op"] = event.Op
		}
		if event.Args != nil {
			eventMap["args"] = canonicalValue(event.Args)
		}
		if event.Outcome != nil {
			eventMap["outcome"] = canonicalValue(event.Outcome)
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

func canonicalValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = canonicalValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = canonicalValue(inner)
		}
		return out
	case int:
		return int64(val)
	}
	return v
}

// MarshalTrace renders a result's trace as canonical JSON, the golden
// file format.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	}
	return canon.Marshal(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
