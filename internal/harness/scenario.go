package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/model"
)

// Scenario is one offline-sync conformance test.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Config overrides the harness defaults.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Setup establishes the starting state.
	Setup Setup `yaml:"setup,omitempty"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions are evaluated after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig overrides engine and routing settings.
// Zero values keep the defaults.
type ScenarioConfig struct {
	MaxRetries      int                 `yaml:"max_retries,omitempty"`
	RetryBackoff    string              `yaml:"retry_backoff,omitempty"`
	AuthPolicy      string              `yaml:"auth_policy,omitempty"`
	IdempotencyKeys *bool               `yaml:"idempotency_keys,omitempty"`
	Rules           []config.RuleConfig `yaml:"rules,omitempty"`
}

// Setup is the state before the first flow step.
type Setup struct {
	// Online is the starting connectivity. Default: true.
	Online *bool `yaml:"online,omitempty"`

	// Credential is the starting credential. Default: "token-1".
	Credential string `yaml:"credential,omitempty"`
}

// FlowStep is one operation. Which fields apply depends on Op.
type FlowStep struct {
	Op string `yaml:"op"`

	// write
	Method      string `yaml:"method,omitempty"`
	URL         string `yaml:"url,omitempty"`
	Body        string `yaml:"body,omitempty"`
	Priority    string `yaml:"priority,omitempty"`
	Description string `yaml:"description,omitempty"`

	// set_online
	Online *bool `yaml:"online,omitempty"`

	// advance, cache_set
	Duration string `yaml:"duration,omitempty"`

	// respond
	Responses []Response `yaml:"responses,omitempty"`

	// credential
	Token string `yaml:"token,omitempty"`

	// cache_set, cache_get
	Key     string `yaml:"key,omitempty"`
	Payload string `yaml:"payload,omitempty"`

	// Expect is subset-matched against the step outcome.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Response is one scripted network outcome.
type Response struct {
	Status int    `yaml:"status,omitempty"`
	Body   string `yaml:"body,omitempty"`

	// Down fails the request with a transport error.
	Down bool `yaml:"down,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is the expected number (request_count, queue_length,
	// event_count).
	Count int `yaml:"count,omitempty"`

	// Requests is the exact "METHOD URL" sequence (request_order).
	Requests []string `yaml:"requests,omitempty"`

	// Where selects the item (queue_state). Keys: id, target_url,
	// description.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect is subset-matched against the item (queue_state).
	// A nil Expect asserts the item is absent.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Event is the event kind (event_count).
	Event string `yaml:"event,omitempty"`
}

// Flow operations.
const (
	OpWrite          = "write"
	OpSync           = "sync"
	OpSetOnline      = "set_online"
	OpAdvance        = "advance"
	OpRespond        = "respond"
	OpCredential     = "credential"
	OpReauthenticate = "reauthenticate"
	OpCacheSet       = "cache_set"
	OpCacheGet       = "cache_get"
	OpCacheSweep     = "cache_sweep"
)

// Assertion types.
const (
	AssertRequestCount = "request_count"
	AssertRequestOrder = "request_order"
	AssertQueueLength  = "queue_length"
	AssertQueueState   = "queue_state"
	AssertEventCount   = "event_count"
)

// LoadScenario reads and validates a scenario file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml files in dir, sorted by name.
func FindScenarios(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Config.RetryBackoff != "" {
		if _, err := time.ParseDuration(s.Config.RetryBackoff); err != nil {
			return fmt.Errorf("config.retry_backoff: %w", err)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *FlowStep) error {
	switch step.Op {
	case OpWrite:
		if step.Method == "" || step.URL == "" {
			return fmt.Errorf("flow[%d]: method and url are required for write", i)
		}
		if step.Priority != "" {
			if _, err := model.ParsePriority(step.Priority); err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
		}
	case OpSetOnline:
		if step.Online == nil {
			return fmt.Errorf("flow[%d]: online is required for set_online", i)
		}
	case OpAdvance:
		if _, err := time.ParseDuration(step.Duration); err != nil {
			return fmt.Errorf("flow[%d]: duration: %w", i, err)
		}
	case OpRespond:
		if len(step.Responses) == 0 {
			return fmt.Errorf("flow[%d]: responses are required for respond", i)
		}
	case OpCacheSet:
		if step.Key == "" {
			return fmt.Errorf("flow[%d]: key is required for cache_set", i)
		}
		if _, err := time.ParseDuration(step.Duration); err != nil {
			return fmt.Errorf("flow[%d]: duration: %w", i, err)
		}
	case OpCacheGet:
		if step.Key == "" {
			return fmt.Errorf("flow[%d]: key is required for cache_get", i)
		}
	case OpSync, OpCredential, OpReauthenticate, OpCacheSweep:
	case "":
		return fmt.Errorf("flow[%d]: op is required", i)
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRequestCount, AssertQueueLength:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertRequestOrder:
		if a.Requests == nil {
			return fmt.Errorf("assertions[%d]: requests list is required for request_order", index)
		}
	case AssertQueueState:
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: where is required for queue_state", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
