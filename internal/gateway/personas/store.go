package personas

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var defaultPersonas []byte

// Persona is a named character instruction block
type Persona struct {
	Name        string `yaml:"name"`
	Instruction string `yaml:"instruction"`
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// Store maps character names to instruction blocks. It is read-only after
// construction and safe for concurrent use.
type Store struct {
	byName map[string]string
	names  []string
}

// Default returns the built-in TrueCompanion characters
func Default() (*Store, error) {
	return Parse(defaultPersonas)
}

// Load reads personas from a YAML file, or the built-in set when path is empty
func Load(path string) (*Store, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read personas file: %w", err)
	}
	return Parse(data)
}

// Parse builds a store from YAML
func Parse(data []byte) (*Store, error) {
	var f personaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse personas: %w", err)
	}
	if len(f.Personas) == 0 {
		return nil, fmt.Errorf("no personas defined")
	}

	s := &Store{byName: make(map[string]string, len(f.Personas))}
	for _, p := range f.Personas {
		name := strings.TrimSpace(p.Name)
		if name == "" || strings.TrimSpace(p.Instruction) == "" {
			return nil, fmt.Errorf("persona %q: name and instruction are required", p.Name)
		}
		if _, dup := s.byName[name]; dup {
			return nil, fmt.Errorf("duplicate persona %q", name)
		}
		s.byName[name] = strings.TrimSpace(p.Instruction)
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Lookup returns the instruction block for a character
func (s *Store) Lookup(name string) (string, bool) {
	instruction, ok := s.byName[name]
	return instruction, ok
}

// Names returns all character names, sorted
func (s *Store) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}
