package config

import "gopkg.in/yaml.v3"

// Endian selects byte order for multi-byte numeric decode/encode.
type Endian string

const (
	BigEndian    Endian = "big"
	LittleEndian Endian = "little"
)

// DecodeKind selects the extraction rule applied to a schema's byte span.
type DecodeKind string

const (
	DecodeRawUint             DecodeKind = "raw_uint"
	DecodeSigned               DecodeKind = "signed"
	DecodeBCD                 DecodeKind = "bcd"
	DecodeASCII                DecodeKind = "ascii"
	DecodeSignedByteHalfDegree DecodeKind = "signed_byte_half_degree"
)

// StateSchema is a declarative match/extract rule over a packet slice
//. Offset/Length are pointers so "unset" is distinguishable
// from an explicit zero.
type StateSchema struct {
	Offset *int     `yaml:"offset,omitempty"`
	Length *int     `yaml:"length,omitempty"`
	Data   ByteList `yaml:"data,omitempty"`
	Mask   ByteList `yaml:"mask,omitempty"`

	Inverted bool           `yaml:"inverted,omitempty"`
	Guard    string         `yaml:"guard,omitempty"`
	Except   []*StateSchema `yaml:"except,omitempty"`

	Decode    DecodeKind `yaml:"decode,omitempty"`
	Endian    Endian     `yaml:"endian,omitempty"`
	Signed    bool       `yaml:"signed,omitempty"`
	Precision int        `yaml:"precision,omitempty"`
	Mapping   map[int]string `yaml:"mapping,omitempty"`

	// AllowEmptyData lets a schema match with no literal data at all
	// (optimistic entities whose primary selector is guard-only, or
	// sub-schemas that only extract a value without gating on bytes).
	AllowEmptyData bool `yaml:"allow_empty_data,omitempty"`
}

// CommandSchema is a template for outbound frame assembly.
type CommandSchema struct {
	Data        ByteList       `yaml:"data,omitempty"`
	ValueOffset *int           `yaml:"value_offset,omitempty"`
	Length      int            `yaml:"length,omitempty"`
	Decode      DecodeKind     `yaml:"decode,omitempty"`
	Endian      Endian         `yaml:"endian,omitempty"`
	Signed      bool           `yaml:"signed,omitempty"`
	Precision   int            `yaml:"precision,omitempty"`
	Mapping     map[string]int `yaml:"mapping,omitempty"`
	Lambda      string         `yaml:"lambda,omitempty"`

	// Ack is the RX schema that clears the pending-ack window opened
	// by sending this command.
	Ack        *StateSchema `yaml:"ack,omitempty"`
	AckTimeout string       `yaml:"ack_timeout,omitempty"`
}

// rawSchema/rawCommand mirror the yaml shape exactly so custom
// UnmarshalYAML on Entity (which must also collect sibling state_*/
// command_* keys) can decode known fields through the normal path.
type rawSchema StateSchema
type rawCommand CommandSchema

func decodeStateSchema(node *yaml.Node) (*StateSchema, error) {
	var r rawSchema
	if err := node.Decode(&r); err != nil {
		return nil, err
	}
	s := StateSchema(r)
	return &s, nil
}

func decodeCommandSchema(node *yaml.Node) (*CommandSchema, error) {
	var r rawCommand
	if err := node.Decode(&r); err != nil {
		return nil, err
	}
	c := CommandSchema(r)
	return &c, nil
}
