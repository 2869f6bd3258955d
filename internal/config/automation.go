package config

import "gopkg.in/yaml.v3"

// Mode governs how concurrent invocations of one rule are handled.
type Mode string

const (
	ModeParallel Mode = "parallel"
	ModeSingle   Mode = "single"
	ModeRestart  Mode = "restart"
	ModeQueued   Mode = "queued"
)

// Trigger is one entry in a rule's trigger list. Match is kept as a raw
// YAML node because its shape depends on Platform: a StateSchema for
// "packet" triggers, a MatchSpec for "state" triggers.
type Trigger struct {
	Platform string    `yaml:"platform"`
	Delay    string    `yaml:"delay,omitempty"`
	EntityID string    `yaml:"entity_id,omitempty"`
	Property string    `yaml:"property,omitempty"`
	Match    yaml.Node `yaml:"match,omitempty"`
	Cron     string    `yaml:"cron,omitempty"`
	Interval string    `yaml:"interval,omitempty"`
}

// PacketMatch decodes Match as a StateSchema, for "packet" triggers.
func (t *Trigger) PacketMatch() (*StateSchema, error) {
	return decodeStateSchema(&t.Match)
}

// MatchSpec is a "state" trigger's comparison against state[property]
// (or the whole state record when Property is empty): plain equality,
// a "/regex/" string, or an object with eq/gt/gte/lt/lte.
type MatchSpec struct {
	Eq  *yaml.Node `yaml:"eq,omitempty"`
	Gt  *float64   `yaml:"gt,omitempty"`
	Gte *float64   `yaml:"gte,omitempty"`
	Lt  *float64   `yaml:"lt,omitempty"`
	Lte *float64   `yaml:"lte,omitempty"`

	// Scalar holds the decoded value when Match was a bare scalar
	// (string/number/bool) rather than an {eq:...} mapping.
	Scalar any
	IsRegex bool
	Regex   string
}

func (t *Trigger) StateMatch() (*MatchSpec, error) {
	n := &t.Match
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind == yaml.MappingNode {
		var m MatchSpec
		if err := n.Decode(&m); err != nil {
			return nil, err
		}
		return &m, nil
	}
	// Scalar form: plain value, or "/regex/".
	var raw any
	if err := n.Decode(&raw); err != nil {
		return nil, err
	}
	if s, ok := raw.(string); ok && len(s) >= 2 && s[0] == '/' && s[len(s)-1] == '/' {
		return &MatchSpec{IsRegex: true, Regex: s[1 : len(s)-1]}, nil
	}
	return &MatchSpec{Scalar: raw}, nil
}

// Action is one step of the action DSL. Every field is
// optional; which are meaningful is determined by Do.
type Action struct {
	Do string `yaml:"action"`

	// publish
	Topic   string `yaml:"topic,omitempty"`
	Payload string `yaml:"payload,omitempty"`
	Retain  bool   `yaml:"retain,omitempty"`

	// send_packet
	Data     ByteList `yaml:"data,omitempty"`
	Expr     string   `yaml:"expr,omitempty"`
	Checksum string   `yaml:"checksum,omitempty"`
	Header   ByteList `yaml:"header,omitempty"`
	Footer   ByteList `yaml:"footer,omitempty"`

	// command
	Target string `yaml:"target,omitempty"`

	// delay
	Delay string `yaml:"delay,omitempty"`

	// log
	Message string `yaml:"message,omitempty"`

	// if / choose
	Condition string   `yaml:"condition,omitempty"`
	Then      []Action `yaml:"then,omitempty"`
	Else      []Action `yaml:"else,omitempty"`
	Choices   []Choice `yaml:"choices,omitempty"`
	Default   []Action `yaml:"default,omitempty"`

	// stop
	Reason string `yaml:"reason,omitempty"`

	// repeat
	Times int    `yaml:"times,omitempty"`
	While string `yaml:"while,omitempty"`
}

type Choice struct {
	Condition string   `yaml:"condition"`
	Then      []Action `yaml:"then"`
}

// Rule is one declared automation.
type Rule struct {
	ID      string    `yaml:"id"`
	Enabled *bool     `yaml:"enabled,omitempty"`
	Mode    Mode      `yaml:"mode,omitempty"`
	Trigger []Trigger `yaml:"trigger"`
	Then    []Action  `yaml:"then"`
}

func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

func (r *Rule) EffectiveMode() Mode {
	if r.Mode == "" {
		return ModeParallel
	}
	return r.Mode
}
