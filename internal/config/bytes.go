package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ByteList is a sequence of bus bytes. It accepts both hex tokens
// ("0xAA") and plain decimal integers in YAML, and always dumps back
// as hex tokens so round-tripped config stays readable, mirroring the
// mixed-scalar handling common in YAML byte-list fields.
type ByteList []byte

func (b *ByteList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return &yaml.TypeError{Errors: []string{"byte list: expected sequence"}}
	}
	out := make(ByteList, 0, len(value.Content))
	for _, item := range value.Content {
		if item.Kind != yaml.ScalarNode {
			return &yaml.TypeError{Errors: []string{"byte list: expected scalar entries"}}
		}
		v, err := parseByteToken(item.Value)
		if err != nil {
			return err
		}
		out = append(out, v)
	}
	*b = out
	return nil
}

func (b ByteList) MarshalYAML() (any, error) {
	nodes := make([]*yaml.Node, 0, len(b))
	for _, v := range b {
		nodes = append(nodes, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Value: fmt.Sprintf("0x%02X", v),
		})
	}
	return &yaml.Node{Kind: yaml.SequenceNode, Content: nodes}, nil
}

func parseByteToken(s string) (byte, error) {
	s = strings.TrimSpace(s)
	var n int64
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err = strconv.ParseInt(s[2:], 16, 32)
	} else {
		n, err = strconv.ParseInt(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid byte token %q: %w", s, err)
	}
	if n < 0 || n > 0xFF {
		return 0, fmt.Errorf("byte token %q out of range [0,255]", s)
	}
	return byte(n), nil
}
