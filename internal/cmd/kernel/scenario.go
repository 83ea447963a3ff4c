package kernel

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/aggkernel/internal/services/kernel/saga"
)

// Scenario is a list of sagas to run in order.
type Scenario struct {
	Sagas []SagaScript `yaml:"sagas"`
}

// SagaScript drives one saga through a sequence of steps.
type SagaScript struct {
	Name      string   `yaml:"name"`
	Amount    int64    `yaml:"amount"`
	Carrier   string   `yaml:"carrier"`
	Signature string   `yaml:"signature"`
	Steps     []string `yaml:"steps"`
}

var stepNames = map[string]saga.CommandType{
	"validate_order":   saga.CommandValidateOrder,
	"process_payment":  saga.CommandProcessPayment,
	"ship_order":       saga.CommandShipOrder,
	"confirm_delivery": saga.CommandConfirmDelivery,
}

// DefaultScenario runs one saga to completion, one that is rejected at
// delivery and one whose payment exceeds the default limit.
func DefaultScenario() Scenario {
	all := []string{"validate_order", "process_payment", "ship_order", "confirm_delivery"}
	return Scenario{Sagas: []SagaScript{
		{Name: "delivered", Amount: 4200, Carrier: "ups", Signature: "r. ortiz", Steps: all},
		{Name: "unsigned delivery", Amount: 1999, Carrier: "dhl", Steps: all},
		{Name: "over limit", Amount: 250000, Carrier: "fedex", Signature: "a. lee", Steps: all},
	}}
}

// LoadScenario reads a YAML scenario. Unknown fields are rejected.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates YAML scenario data.
func ParseScenario(data []byte) (Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks every step name.
func (s Scenario) Validate() error {
	if len(s.Sagas) == 0 {
		return errors.New("scenario has no sagas")
	}
	for i, script := range s.Sagas {
		if _, err := script.Commands(); err != nil {
			return fmt.Errorf("saga %d (%s): %w", i+1, script.Name, err)
		}
	}
	return nil
}

// Commands maps the script's steps to saga commands.
func (s SagaScript) Commands() ([]saga.Command, error) {
	out := make([]saga.Command, 0, len(s.Steps))
	for _, name := range s.Steps {
		typ, ok := stepNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown step %q", name)
		}
		cmd := saga.Command{Type: typ}
		switch typ {
		case saga.CommandProcessPayment:
			cmd.Amount = s.Amount
		case saga.CommandShipOrder:
			cmd.Carrier = s.Carrier
		case saga.CommandConfirmDelivery:
			cmd.Signature = s.Signature
		}
		out = append(out, cmd)
	}
	return out, nil
}
