// Package agentconfig holds the script settings the calling agent speaks from.
package agentconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"collections-agent/internal/domain"
)

const (
	maxAgentName   = 100
	maxScriptField = 2000
	maxDisclaimers = 10
)

const agentNamePlaceholder = "{agentName}"

// Defaults returns the settings used when no file is configured.
func Defaults() domain.AgentSettings {
	return domain.AgentSettings{
		AgentName: "AI Collection Assistant",
		Greeting: "Hello, this is Mark calling from ABC Collections. I hope you are having a good day. " +
			"This is an attempt to collect an outstanding debt. This call may be recorded for quality and training purposes. " +
			"Our records indicate that you have an outstanding debt. Is that correct?",
		MiniMiranda: "This is an attempt to collect a debt, and any information obtained will be used for that purpose. " +
			"This communication is from a debt collector.",
		Disclaimers: []string{
			"This call may be recorded for quality and training purposes.",
			"Please be advised that we are required by law to inform you of your rights.",
			"All payment arrangements must be confirmed in writing.",
		},
	}
}

// Load reads settings from a YAML file. Fields absent from the file keep
// their default values.
func Load(path string) (domain.AgentSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.AgentSettings{}, fmt.Errorf("agentconfig: read %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (domain.AgentSettings, error) {
	settings := Defaults()
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return domain.AgentSettings{}, fmt.Errorf("agentconfig: parse yaml: %w", err)
	}
	settings = Normalize(settings)
	if err := Validate(settings); err != nil {
		return domain.AgentSettings{}, err
	}
	return settings, nil
}

// Normalize trims every field and drops blank disclaimers.
func Normalize(s domain.AgentSettings) domain.AgentSettings {
	out := domain.AgentSettings{
		AgentName:   strings.TrimSpace(s.AgentName),
		Greeting:    strings.TrimSpace(s.Greeting),
		MiniMiranda: strings.TrimSpace(s.MiniMiranda),
		Disclaimers: make([]string, 0, len(s.Disclaimers)),
	}
	for _, d := range s.Disclaimers {
		if d = strings.TrimSpace(d); d != "" {
			out.Disclaimers = append(out.Disclaimers, d)
		}
	}
	return out
}

func Validate(s domain.AgentSettings) error {
	if s.AgentName == "" {
		return errors.New("agentconfig: agent name must not be empty")
	}
	if len(s.AgentName) > maxAgentName {
		return fmt.Errorf("agentconfig: agent name exceeds %d characters", maxAgentName)
	}
	if s.Greeting == "" {
		return errors.New("agentconfig: greeting must not be empty")
	}
	if s.MiniMiranda == "" {
		return errors.New("agentconfig: mini-Miranda disclosure must not be empty")
	}
	if len(s.Greeting) > maxScriptField || len(s.MiniMiranda) > maxScriptField {
		return fmt.Errorf("agentconfig: script text exceeds %d characters", maxScriptField)
	}
	if len(s.Disclaimers) > maxDisclaimers {
		return fmt.Errorf("agentconfig: at most %d disclaimers allowed", maxDisclaimers)
	}
	for _, d := range s.Disclaimers {
		if len(d) > maxScriptField {
			return fmt.Errorf("agentconfig: disclaimer exceeds %d characters", maxScriptField)
		}
	}
	return nil
}

// FirstMessage is the literal opening utterance of a call.
func FirstMessage(s domain.AgentSettings) string {
	return strings.ReplaceAll(s.Greeting, agentNamePlaceholder, s.AgentName)
}

// Store is the live, runtime-editable copy of the settings.
type Store struct {
	mu       sync.RWMutex
	settings domain.AgentSettings
}

func NewStore(initial domain.AgentSettings) (*Store, error) {
	initial = Normalize(initial)
	if err := Validate(initial); err != nil {
		return nil, err
	}
	return &Store{settings: initial}, nil
}

func (s *Store) Get() domain.AgentSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.settings)
}

// Set replaces the settings after validation and returns what was stored.
func (s *Store) Set(next domain.AgentSettings) (domain.AgentSettings, error) {
	next = Normalize(next)
	if err := Validate(next); err != nil {
		return domain.AgentSettings{}, err
	}
	s.mu.Lock()
	s.settings = clone(next)
	s.mu.Unlock()
	return next, nil
}

func clone(s domain.AgentSettings) domain.AgentSettings {
	s.Disclaimers = append([]string(nil), s.Disclaimers...)
	return s
}
