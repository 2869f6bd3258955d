// Package checksum implements the bit-exact checksum family the
// FrameParser and CommandAssembler both need: every
// function takes the candidate bytes and a header length to exclude
// and returns the checksum byte(s) a well-formed frame must carry.
package checksum

import "github.com/homenetio/bridge/internal/config"

// Sum computes the single trailing checksum byte for kind over buf,
// excluding the trailing checksum byte(s) themselves (callers pass the
// payload span, not the whole candidate). headerLen bytes at the front
// of buf are skipped for the "_no_header" variants and for samsung_rx/tx
// which are defined over the payload only.
func Sum(kind config.ChecksumKind, buf []byte, headerLen int) byte {
	switch kind {
	case config.ChecksumAdd:
		return addSum(buf, 0)
	case config.ChecksumAddNoHeader:
		return addSum(buf, headerLen)
	case config.ChecksumXor:
		return xorSum(buf, 0)
	case config.ChecksumXorNoHeader:
		return xorSum(buf, headerLen)
	case config.ChecksumSamsungRx:
		return samsungChecksum(buf, headerLen, false)
	case config.ChecksumSamsungTx:
		return samsungChecksum(buf, headerLen, true)
	default:
		return 0
	}
}

// Pair computes the two-byte xor_add checksum: the first result is the
// XOR-fold, the second is the additive sum, both over buf[headerLen:].
func Pair(buf []byte, headerLen int) (xorByte, addByte byte) {
	return xorSum(buf, headerLen), addSum(buf, headerLen)
}

func addSum(buf []byte, from int) byte {
	var sum byte
	for i := from; i < len(buf); i++ {
		sum += buf[i]
	}
	return sum
}

func xorSum(buf []byte, from int) byte {
	var x byte
	for i := from; i < len(buf); i++ {
		x ^= buf[i]
	}
	return x
}

// samsungChecksum folds buf[from:] into one byte by XOR followed by a
// rotate-left of 1 per byte; the tx variant bit-reverses each byte
// before folding and inverts the result. It is not checked against a
// vendor reference vector: checksum_test.go pins only determinism and
// that the rx and tx variants differ.
func samsungChecksum(buf []byte, from int, tx bool) byte {
	var acc byte
	for i := from; i < len(buf); i++ {
		b := buf[i]
		if tx {
			b = bitReverse(b)
		}
		acc ^= b
		acc = (acc << 1) | (acc >> 7) // rotate-left 1
	}
	if tx {
		acc = ^acc
	}
	return acc
}

func bitReverse(b byte) byte {
	var r byte
	for i := 0; i < 8; i++ {
		r <<= 1
		r |= b & 1
		b >>= 1
	}
	return r
}

// Verify checks a candidate frame's trailing checksum byte(s) against
// defaults.RxChecksum/RxChecksum2. headerLen is the length of
// defaults.RxHeader, used by the "_no_header" and samsung variants.
func Verify(defaults config.PacketDefaults, frame []byte) bool {
	headerLen := len(defaults.RxHeader)

	if defaults.RxChecksum == config.ChecksumXorAdd {
		if len(frame) < headerLen+2 {
			return false
		}
		payload := frame[:len(frame)-2]
		xorByte, addByte := Pair(payload, headerLen)
		return frame[len(frame)-2] == xorByte && frame[len(frame)-1] == addByte
	}

	n := trailerLen(defaults)
	if len(frame) < headerLen+n {
		return false
	}

	idx := len(frame) - n
	if defaults.RxChecksum != "" && defaults.RxChecksum != config.ChecksumNone {
		payload := frame[:idx]
		if Sum(defaults.RxChecksum, payload, headerLen) != frame[idx] {
			return false
		}
		idx++
	}
	if defaults.RxChecksum2 != "" && defaults.RxChecksum2 != config.ChecksumNone {
		payload := frame[:idx]
		if Sum(defaults.RxChecksum2, payload, headerLen) != frame[idx] {
			return false
		}
	}
	return true
}

// trailerLen reports how many trailing bytes the declared checksum
// configuration occupies.
func trailerLen(defaults config.PacketDefaults) int {
	n := 0
	if defaults.RxChecksum != "" && defaults.RxChecksum != config.ChecksumNone {
		n++
	}
	if defaults.RxChecksum2 != "" && defaults.RxChecksum2 != config.ChecksumNone {
		n++
	}
	return n
}

// AppendTx appends the declared tx checksum byte(s) to buf (already
// carrying header+payload) for the CommandAssembler; the caller appends
// the tx footer after the checksum.
func AppendTx(defaults config.PacketDefaults, buf []byte) []byte {
	headerLen := len(defaults.TxHeader)
	if defaults.TxChecksum == config.ChecksumXorAdd {
		xorByte, addByte := Pair(buf, headerLen)
		return append(buf, xorByte, addByte)
	}
	if defaults.TxChecksum != "" && defaults.TxChecksum != config.ChecksumNone {
		buf = append(buf, Sum(defaults.TxChecksum, buf, headerLen))
	}
	if defaults.TxChecksum2 != "" && defaults.TxChecksum2 != config.ChecksumNone {
		buf = append(buf, Sum(defaults.TxChecksum2, buf, headerLen))
	}
	return buf
}
