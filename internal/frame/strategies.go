package frame

import "github.com/homenetio/bridge/internal/config"

// extractHeaderFooter implements strategy A.
func (p *Parser) extractHeaderFooter() (Packet, int, bool) {
	hdr := p.defaults.RxHeader
	ftr := p.defaults.RxFooter

	for j := 0; j < len(hdr) && j < len(p.buf); j++ {
		if p.buf[j] != hdr[j] {
			return Packet{}, 1, false // slide head by one byte and retry
		}
	}
	if len(p.buf) < len(hdr) {
		return Packet{}, 0, false // prefix matches so far, need more data
	}

	ftrIdx := -1
	for i := len(hdr); i+len(ftr) <= len(p.buf); i++ {
		if matchesAt(p.buf, i, ftr) {
			ftrIdx = i
			break
		}
	}
	if ftrIdx == -1 {
		return Packet{}, 0, false
	}

	end := ftrIdx + len(ftr)
	frame := p.buf[:end]
	if p.defaults.RxLength != nil && len(frame) != *p.defaults.RxLength {
		return Packet{}, 1, false
	}
	if !p.verify(frame) {
		return Packet{}, 1, false
	}
	return Packet{Bytes: clone(frame)}, end, true
}

// extractFixedLength implements strategy B.
func (p *Parser) extractFixedLength() (Packet, int, bool) {
	n := *p.defaults.RxLength
	if len(p.buf) < n {
		return Packet{}, 0, false
	}
	if !p.validHeaderByte(p.buf[0]) {
		return Packet{}, 1, false
	}
	if len(p.defaults.RxHeader) > 0 && !matchesAt(p.buf, 0, p.defaults.RxHeader) {
		return Packet{}, 1, false
	}
	frame := p.buf[:n]
	if !p.verify(frame) {
		return Packet{}, 1, false
	}
	return Packet{Bytes: clone(frame)}, n, true
}

// extractChecksumSweep implements strategy C.
func (p *Parser) extractChecksumSweep() (Packet, int, bool) {
	if len(p.buf) == 0 {
		return Packet{}, 0, false
	}
	if !p.validHeaderByte(p.buf[0]) {
		return Packet{}, 1, false
	}

	min := p.defaults.RxMinLength
	if min <= 0 {
		min = 1
	}
	max := config.MaxSweepLength

	for n := min; n <= max; n++ {
		if n > len(p.buf) {
			return Packet{}, 0, false // need more data before giving up at this length
		}
		frame := p.buf[:n]
		if p.verify(frame) {
			return Packet{Bytes: clone(frame)}, n, true
		}
	}
	// Every plausible length in [min, max] is available and failed: exhausted.
	return Packet{}, 1, false
}

// extractFooterOnly implements strategy D.
func (p *Parser) extractFooterOnly() (Packet, int, bool) {
	if len(p.buf) == 0 {
		return Packet{}, 0, false
	}
	if !p.validHeaderByte(p.buf[0]) {
		return Packet{}, 1, false
	}
	ftr := p.defaults.RxFooter
	for i := 0; i+len(ftr) <= len(p.buf); i++ {
		if matchesAt(p.buf, i, ftr) {
			end := i + len(ftr)
			frame := p.buf[:end]
			if p.verify(frame) {
				return Packet{Bytes: clone(frame)}, end, true
			}
			return Packet{}, 1, false
		}
	}
	return Packet{}, 0, false
}

func matchesAt(buf []byte, at int, want []byte) bool {
	if at+len(want) > len(buf) {
		return false
	}
	for j, b := range want {
		if buf[at+j] != b {
			return false
		}
	}
	return true
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
