package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/keysettle/internal/sensor"
)

// Scenario defines a scripted sequence of pokes and completion events.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Options configures the sensor under test.
	Options ScenarioOptions `yaml:"options"`

	// Steps run in order against a single sensor instance.
	Steps []Step `yaml:"steps"`
}

// ScenarioOptions mirrors the sensor options a scenario may set.
// Durations use Go syntax ("20s", "1m30s").
type ScenarioOptions struct {
	Bucket           string   `yaml:"bucket"`
	Prefix           string   `yaml:"prefix"`
	InactivityPeriod string   `yaml:"inactivity_period,omitempty"`
	MinObjects       *int     `yaml:"min_objects,omitempty"`
	AllowDelete      bool     `yaml:"allow_delete,omitempty"`
	SoftFail         bool     `yaml:"soft_fail,omitempty"`
	PreviousObjects  []string `yaml:"previous_objects,omitempty"`
}

// Step is one scripted interaction.
//
// A step without Event replaces the bucket contents with Keys and pokes.
// A step with Event delivers it to ExecuteComplete instead.
type Step struct {
	// Advance moves the fake clock forward before the step runs.
	Advance string `yaml:"advance,omitempty"`

	// Keys is the full bucket contents for a poke step.
	Keys []string `yaml:"keys,omitempty"`

	// Event is a deferred completion event.
	Event *EventStep `yaml:"event,omitempty"`

	// Expect is checked against the step outcome. Nil skips validation.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// EventStep is a trigger event delivered to ExecuteComplete.
type EventStep struct {
	Status  string `yaml:"status"`
	Message string `yaml:"message,omitempty"`
}

// ExpectClause specifies the expected step outcome.
type ExpectClause struct {
	// Result is one of accumulating, stable, skipped or failed.
	Result string `yaml:"result"`

	// InactivitySeconds, when set, must equal the reported inactivity.
	InactivitySeconds *int64 `yaml:"inactivity_seconds,omitempty"`

	// Error, when set, must be a substring of the returned error.
	Error string `yaml:"error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
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

// SensorOptions converts the scenario options. Unset fields keep the
// sensor defaults.
func (o ScenarioOptions) SensorOptions() (sensor.Options, error) {
	opts := sensor.DefaultOptions()
	opts.Bucket = o.Bucket
	opts.Prefix = o.Prefix
	opts.AllowDelete = o.AllowDelete
	opts.SoftFail = o.SoftFail

	if o.InactivityPeriod != "" {
		d, err := time.ParseDuration(o.InactivityPeriod)
		if err != nil {
			return sensor.Options{}, fmt.Errorf("inactivity_period: %w", err)
		}
		opts.InactivityPeriod = d
	}
	if o.MinObjects != nil {
		opts.MinObjects = *o.MinObjects
	}
	if o.PreviousObjects != nil {
		opts.PreviousObjects = sensor.NewKeySet(o.PreviousObjects...)
	}
	return opts, nil
}

var validResults = map[string]bool{
	string(sensor.OutcomeAccumulating): true,
	string(sensor.OutcomeStable):       true,
	string(sensor.OutcomeSkipped):      true,
	string(sensor.OutcomeFailed):       true,
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Options.Bucket == "" {
		return fmt.Errorf("options.bucket is required")
	}
	if _, err := s.Options.SensorOptions(); err != nil {
		return fmt.Errorf("options.%w", err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Advance != "" {
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return fmt.Errorf("steps[%d]: advance: %w", i, err)
			}
			if d < 0 {
				return fmt.Errorf("steps[%d]: advance must be non-negative", i)
			}
		}
		if step.Event != nil {
			if len(step.Keys) > 0 {
				return fmt.Errorf("steps[%d]: keys and event are mutually exclusive", i)
			}
			if step.Event.Status == "" {
				return fmt.Errorf("steps[%d].event: status is required", i)
			}
		}
		if step.Expect != nil && !validResults[step.Expect.Result] {
			return fmt.Errorf("steps[%d].expect: unknown result %q", i, step.Expect.Result)
		}
	}
	return nil
}
