package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// EntityType tags the logical device kind an Entity represents.
type EntityType string

const (
	EntityLight        EntityType = "light"
	EntityClimate      EntityType = "climate"
	EntityFan          EntityType = "fan"
	EntityValve        EntityType = "valve"
	EntityButton       EntityType = "button"
	EntitySensor       EntityType = "sensor"
	EntitySwitch       EntityType = "switch"
	EntityBinarySensor EntityType = "binary_sensor"
	EntityLock         EntityType = "lock"
	EntityNumber       EntityType = "number"
	EntitySelect       EntityType = "select"
	EntityText         EntityType = "text"
	EntityTextSensor   EntityType = "text_sensor"
)

// entityTypeKeys is the set of root-level YAML keys under
// homenet_bridge that introduce entity lists, in dispatch-table order.
var entityTypeKeys = []EntityType{
	EntityLight, EntityClimate, EntityFan, EntityValve, EntityButton,
	EntitySensor, EntitySwitch, EntityBinarySensor, EntityLock,
	EntityNumber, EntitySelect, EntityText, EntityTextSensor,
}

// Entity is one declared device. Sub and Commands hold the
// type-specific "state_on", "state_speed", "command_on", ... schemas
// that appear as sibling keys alongside id/name/state in the YAML
// mapping for one entity.
type Entity struct {
	Type       EntityType
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Optimistic bool   `yaml:"optimistic,omitempty"`
	State      *StateSchema

	Sub      map[string]*StateSchema
	Commands map[string]*CommandSchema
}

func (e *Entity) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return &yaml.TypeError{Errors: []string{"entity: expected mapping"}}
	}
	e.Sub = map[string]*StateSchema{}
	e.Commands = map[string]*CommandSchema{}

	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		val := value.Content[i+1]

		switch key {
		case "id":
			e.ID = val.Value
		case "name":
			e.Name = val.Value
		case "optimistic":
			e.Optimistic = val.Value == "true"
		case "state":
			s, err := decodeStateSchema(val)
			if err != nil {
				return fmt.Errorf("entity %s: state: %w", e.ID, err)
			}
			e.State = s
		default:
			switch {
			case strings.HasPrefix(key, "state_"):
				s, err := decodeStateSchema(val)
				if err != nil {
					return fmt.Errorf("entity %s: %s: %w", e.ID, key, err)
				}
				e.Sub[strings.TrimPrefix(key, "state_")] = s
			case strings.HasPrefix(key, "command_"):
				c, err := decodeCommandSchema(val)
				if err != nil {
					return fmt.Errorf("entity %s: %s: %w", e.ID, key, err)
				}
				e.Commands[strings.TrimPrefix(key, "command_")] = c
			default:
				// Unknown key: ignore, forward-compatible with future
				// per-type fields we haven't modeled yet.
			}
		}
	}

	if e.ID == "" {
		return fmt.Errorf("entity: missing id")
	}
	if e.State == nil && !e.Optimistic {
		return fmt.Errorf("entity %s: missing state schema (required unless optimistic)", e.ID)
	}
	return nil
}
