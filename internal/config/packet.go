package config

// ChecksumKind names one of the bit-exact checksum algorithms a bus
// can declare for its trailing checksum byte(s).
type ChecksumKind string

const (
	ChecksumNone         ChecksumKind = "none"
	ChecksumAdd          ChecksumKind = "add"
	ChecksumAddNoHeader  ChecksumKind = "add_no_header"
	ChecksumXor          ChecksumKind = "xor"
	ChecksumXorNoHeader  ChecksumKind = "xor_no_header"
	ChecksumSamsungRx    ChecksumKind = "samsung_rx"
	ChecksumSamsungTx    ChecksumKind = "samsung_tx"
	ChecksumXorAdd       ChecksumKind = "xor_add"
)

// PacketDefaults is the framing contract for one bus.
type PacketDefaults struct {
	RxHeader       ByteList     `yaml:"rx_header,omitempty"`
	RxFooter       ByteList     `yaml:"rx_footer,omitempty"`
	RxValidHeaders ByteList     `yaml:"rx_valid_headers,omitempty"`
	RxLength       *int         `yaml:"rx_length,omitempty"`
	RxMinLength    int          `yaml:"rx_min_length,omitempty"`
	RxChecksum     ChecksumKind `yaml:"rx_checksum,omitempty"`
	RxChecksum2    ChecksumKind `yaml:"rx_checksum2,omitempty"`
	RxTimeoutMS    int          `yaml:"rx_timeout_ms,omitempty"`

	TxHeader    ByteList     `yaml:"tx_header,omitempty"`
	TxFooter    ByteList     `yaml:"tx_footer,omitempty"`
	TxChecksum  ChecksumKind `yaml:"tx_checksum,omitempty"`
	TxChecksum2 ChecksumKind `yaml:"tx_checksum2,omitempty"`

	// DefaultOffset is decoded from default_offset, but no schema
	// evaluation reads it: a schema that omits offset uses 0 plus the
	// caller's base offset.
	DefaultOffset int `yaml:"default_offset,omitempty"`
}

// MaxSweepLength bounds the checksum-sweep framing strategy's search
// window when rx_length is absent. 64 bytes comfortably covers every
// RS-485 home-automation frame observed in practice without letting a
// pathological byte stream blow up sweep cost.
const MaxSweepLength = 64
