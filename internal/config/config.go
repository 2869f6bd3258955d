package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SerialConfig describes how to open the bus transport. Opening the
// port itself is an external collaborator; this struct
// only carries what that collaborator needs.
type SerialConfig struct {
	Type string `yaml:"type,omitempty"` // "serial" or "tcp"
	Path string `yaml:"path,omitempty"`
	Baud int    `yaml:"baud,omitempty"`
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// BusConfig is the immutable catalog for one bus: framing contract,
// entities, and automation rules.
type BusConfig struct {
	Name           string
	Serial         SerialConfig
	PacketDefaults PacketDefaults
	Entities       []*Entity
	Automation     []*Rule
	Scripts        map[string][]Action
}

// EntitiesByType returns only the entities declared under the given
// root key (e.g. "climate").
func (b *BusConfig) EntitiesByType(t EntityType) []*Entity {
	var out []*Entity
	for _, e := range b.Entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// EntityByID looks up a single entity by its stable slug.
func (b *BusConfig) EntityByID(id string) *Entity {
	for _, e := range b.Entities {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (b *BusConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return &yaml.TypeError{Errors: []string{"homenet_bridge: expected mapping"}}
	}

	validTypes := map[string]EntityType{}
	for _, t := range entityTypeKeys {
		validTypes[string(t)] = t
	}

	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		val := value.Content[i+1]

		switch key {
		case "serial":
			if err := val.Decode(&b.Serial); err != nil {
				return fmt.Errorf("serial: %w", err)
			}
		case "packet_defaults":
			if err := val.Decode(&b.PacketDefaults); err != nil {
				return fmt.Errorf("packet_defaults: %w", err)
			}
		case "automation":
			if err := val.Decode(&b.Automation); err != nil {
				return fmt.Errorf("automation: %w", err)
			}
		case "scripts":
			if err := val.Decode(&b.Scripts); err != nil {
				return fmt.Errorf("scripts: %w", err)
			}
		default:
			if t, ok := validTypes[key]; ok {
				var entities []*Entity
				if err := val.Decode(&entities); err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
				for _, e := range entities {
					e.Type = t
				}
				b.Entities = append(b.Entities, entities...)
			}
			// Unknown root keys are ignored (forward compatibility).
		}
	}
	return b.validate()
}

func (b *BusConfig) validate() error {
	seen := map[string]bool{}
	for _, e := range b.Entities {
		if seen[e.ID] {
			return fmt.Errorf("duplicate entity id %q", e.ID)
		}
		seen[e.ID] = true
	}
	for _, r := range b.Automation {
		if r.ID == "" {
			return fmt.Errorf("automation rule missing id")
		}
	}
	return nil
}

// Document is the root YAML document: a single "homenet_bridge" key.
type Document struct {
	Bridge BusConfig `yaml:"homenet_bridge"`
}

// Load reads and parses a bus configuration file. Validation failures
// here are structural as opposed to the per-schema failures the matcher
// tolerates at runtime.
func Load(path string) (*BusConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	doc.Bridge.Name = path
	return &doc.Bridge, nil
}
