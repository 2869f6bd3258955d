// Package frame implements the FrameParser: a stateful byte sink that
// extracts well-formed packets from a noisy, unsynchronised stream
// under one of four framing disciplines.
package frame

import (
	"log/slog"

	"github.com/homenetio/bridge/internal/checksum"
	"github.com/homenetio/bridge/internal/config"
	"golang.org/x/time/rate"
)

// ringCapacity is the minimum bounded-ring buffer size for the
// sliding-window framing strategies ("cap >= 16 KiB").
const ringCapacity = 16 * 1024

// sweepBurst bounds how many checksum-sweep attempts (bus.PacketDefaults
// with no header/footer/length declared) run per second before Feed
// starts short-circuiting early. An adversarial or noisy byte stream
// with no framing fields set would otherwise re-run the O(MaxSweepLength)
// search on every single fed byte.
const sweepLimit rate.Limit = 2000
const sweepBurst = 2000

// strategy is the framing discipline selected once at construction
// from the declared defaults.
type strategy int

const (
	strategyHeaderFooter strategy = iota
	strategyFixedLength
	strategyChecksumSweep
	strategyFooterOnly
)

// Parser is the FrameParser. It is not safe for concurrent use — it is
// the single-producer byte sink for one bus, run on that bus's logical
// task runner.
type Parser struct {
	defaults config.PacketDefaults
	strategy strategy
	validHdr map[byte]bool
	log      *slog.Logger

	buf      []byte // bounded ring, represented as a plain growable slice capped at ringCapacity
	lastByte int64  // monotonic count of bytes ever fed, for idle/overflow bookkeeping

	sweepLimiter *rate.Limiter // only armed for strategyChecksumSweep
}

// New constructs a Parser for one bus's packet defaults, selecting the
// framing strategy deterministically from which fields are set.
func New(defaults config.PacketDefaults, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	p := &Parser{defaults: defaults, log: log}

	switch {
	case len(defaults.RxHeader) > 0 && len(defaults.RxFooter) > 0:
		p.strategy = strategyHeaderFooter
	case defaults.RxLength != nil && len(defaults.RxFooter) == 0:
		p.strategy = strategyFixedLength
	case len(defaults.RxFooter) > 0:
		p.strategy = strategyFooterOnly
	default:
		p.strategy = strategyChecksumSweep
		p.sweepLimiter = rate.NewLimiter(sweepLimit, sweepBurst)
	}

	if len(defaults.RxValidHeaders) > 0 {
		p.validHdr = make(map[byte]bool, len(defaults.RxValidHeaders))
		for _, b := range defaults.RxValidHeaders {
			p.validHdr[b] = true
		}
	}
	return p
}

// Feed appends bytes to the candidate buffer and extracts zero or more
// complete packets, in order. It never blocks and never throws on
// malformed input.
func (p *Parser) Feed(data []byte) []Packet {
	p.buf = append(p.buf, data...)
	p.lastByte += int64(len(data))
	p.trimOverflow()

	var out []Packet
	for {
		pkt, consumed, ok := p.tryExtract()
		if consumed == 0 {
			break
		}
		if ok {
			out = append(out, pkt)
		}
		p.buf = p.buf[consumed:]
	}
	return out
}

// IdleFlush is called when the inter-byte gap reaches rx_timeout_ms so a
// trailing partial frame that will never complete doesn't wedge the
// buffer. Whatever the strategy, it drops the buffer's first byte when
// the buffer is non-empty, letting the next Feed resynchronise past it;
// it never emits a packet.
func (p *Parser) IdleFlush() {
	if len(p.buf) > 0 {
		p.buf = p.buf[1:]
	}
}

func (p *Parser) trimOverflow() {
	if len(p.buf) > ringCapacity {
		drop := len(p.buf) - ringCapacity
		p.buf = p.buf[drop:]
		p.log.Debug("frame buffer overflow, dropped from head", "dropped", drop)
	}
}

// tryExtract attempts one extraction step from the current buffer
// head. It returns the packet (if ok), and how many bytes to consume
// from the front of the buffer (0 means "need more data").
func (p *Parser) tryExtract() (Packet, int, bool) {
	switch p.strategy {
	case strategyHeaderFooter:
		return p.extractHeaderFooter()
	case strategyFixedLength:
		return p.extractFixedLength()
	case strategyFooterOnly:
		return p.extractFooterOnly()
	default:
		if !p.sweepLimiter.Allow() {
			// Over budget this tick: hold the buffer as-is and wait for
			// the next Feed rather than burning CPU on another sweep.
			return Packet{}, 0, false
		}
		return p.extractChecksumSweep()
	}
}

func (p *Parser) validHeaderByte(b byte) bool {
	if p.validHdr == nil {
		return true
	}
	return p.validHdr[b]
}

func (p *Parser) verify(frame []byte) bool {
	return checksum.Verify(p.defaults, frame)
}

// Packet is one fully extracted, checksum-valid frame.
type Packet struct {
	Bytes []byte
}
