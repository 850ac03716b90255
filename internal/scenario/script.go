// Package scenario replays scripted health samples through a fresh relay
// and checks the faces it produces. Scripts are YAML.
package scenario

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed scripts/*.yaml
var builtinFS embed.FS

// Script is a named list of samples with optional expectations.
type Script struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Threshold   *float64 `yaml:"threshold,omitempty"`
	Samples     []Step   `yaml:"samples"`
}

// Step is one sample. Payload, when present, is submitted as-is so the
// payload extraction rules are exercised; otherwise Health/Confidence are used.
type Step struct {
	Health     *int                   `yaml:"health,omitempty"`
	Confidence *float64               `yaml:"confidence,omitempty"`
	Payload    map[string]interface{} `yaml:"payload,omitempty"`
	Repeat     int                    `yaml:"repeat,omitempty"`
	Expect     *Expect                `yaml:"expect,omitempty"`
}

// Expect lists the fields to check after a step. Empty fields are not checked.
type Expect struct {
	Frame  string `yaml:"frame,omitempty"`
	Look   string `yaml:"look,omitempty"`
	Pain   *bool  `yaml:"pain,omitempty"`
	Bucket *int   `yaml:"bucket,omitempty"`
	Health *int   `yaml:"health,omitempty"`
	Held   *bool  `yaml:"held,omitempty"`
}

// Parse decodes a YAML script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a YAML script from disk.
func Load(filename string) (*Script, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", filename, err)
	}
	return Parse(data)
}

// Validate rejects scripts the runner cannot replay.
func (s *Script) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario has no name")
	}
	if len(s.Samples) == 0 {
		return fmt.Errorf("scenario %q has no samples", s.Name)
	}
	for i, step := range s.Samples {
		if step.Health == nil && step.Payload == nil {
			return fmt.Errorf("scenario %q sample %d: needs health or payload", s.Name, i+1)
		}
		if step.Repeat < 0 {
			return fmt.Errorf("scenario %q sample %d: negative repeat", s.Name, i+1)
		}
	}
	return nil
}

// Builtins returns the scripts shipped with the binary, sorted by name.
func Builtins() ([]*Script, error) {
	entries, err := builtinFS.ReadDir("scripts")
	if err != nil {
		return nil, err
	}

	scripts := make([]*Script, 0, len(entries))
	for _, entry := range entries {
		data, err := builtinFS.ReadFile(path.Join("scripts", entry.Name()))
		if err != nil {
			return nil, err
		}
		s, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
	return scripts, nil
}
