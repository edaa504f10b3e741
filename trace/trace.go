// Package trace reads BYU address trace files.
//
// A trace is a sequence of fixed-size 16-byte records. Each record
// carries the accessed address, the request type, and bus bookkeeping
// fields the simulator does not consume. Records are stored in the
// producing host's byte order; traces produced on big-endian machines
// need their addr and time fields swapped (see WithByteSwap).
package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
)

// RecordSize is the on-disk size of one trace record in bytes.
const RecordSize = 16

// ReqType is the request type field of a trace record.
type ReqType uint8

// Request types from the BYU trace format. The simulator consumes only
// the four memory access types; everything else is bus traffic it skips.
const (
	Fetch      ReqType = 0x00 // instruction fetch
	MemRead    ReqType = 0x01 // memory read
	MemReadInv ReqType = 0x02 // memory read and invalidate
	MemWrite   ReqType = 0x03 // memory write

	IORead  ReqType = 0x10
	IOWrite ReqType = 0x11

	DeferReply           ReqType = 0x20
	IntAck               ReqType = 0x21
	CentralAgentResponse ReqType = 0x22
	BranchTraceRecord    ReqType = 0x23

	Shutdown     ReqType = 0x31
	Flush        ReqType = 0x32
	Halt         ReqType = 0x33
	Sync         ReqType = 0x34
	FlushAck     ReqType = 0x35
	StopClockAck ReqType = 0x36
	SMIAck       ReqType = 0x37
)

// IsMemoryAccess reports whether the request type is one of the four
// memory accesses the cache hierarchy consumes.
func (t ReqType) IsMemoryAccess() bool {
	switch t {
	case Fetch, MemRead, MemReadInv, MemWrite:
		return true
	}
	return false
}

func (t ReqType) String() string {
	switch t {
	case Fetch:
		return "fetch"
	case MemRead:
		return "read"
	case MemReadInv:
		return "read-invalidate"
	case MemWrite:
		return "write"
	case IORead:
		return "io-read"
	case IOWrite:
		return "io-write"
	case DeferReply:
		return "defer-reply"
	case IntAck:
		return "interrupt-ack"
	case CentralAgentResponse:
		return "central-agent-response"
	case BranchTraceRecord:
		return "branch-trace-record"
	case Shutdown:
		return "shutdown"
	case Flush:
		return "flush"
	case Halt:
		return "halt"
	case Sync:
		return "sync"
	case FlushAck:
		return "flush-ack"
	case StopClockAck:
		return "stop-clock-ack"
	case SMIAck:
		return "smi-ack"
	}
	return fmt.Sprintf("reqtype(0x%02X)", uint8(t))
}

// Record is one decoded trace record.
type Record struct {
	Addr uint64
	Type ReqType
	Size uint8
	Attr uint8
	Proc uint8
	Time uint32
}

// SwapEndian reverses the byte order of a 64-bit value. Traces written
// on big-endian hosts store addr this way.
func SwapEndian(v uint64) uint64 {
	return bits.ReverseBytes64(v)
}

// Reader decodes trace records from a stream.
type Reader struct {
	r    io.Reader
	buf  [RecordSize]byte
	swap bool
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithByteSwap byte-swaps the addr and time fields of every record, for
// traces produced on a host of the opposite endianness.
func WithByteSwap() ReaderOption {
	return func(r *Reader) {
		r.swap = true
	}
}

// NewReader wraps r. The caller keeps ownership of r and should buffer
// it for file input.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	reader := &Reader{r: r}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// Next decodes the next record. It returns io.EOF at a clean end of the
// stream and an error naming the corruption when the stream ends inside
// a record.
func (r *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("truncated trace record: %w", err)
		}
		return Record{}, err
	}

	rec := Record{
		Addr: binary.LittleEndian.Uint64(r.buf[0:8]),
		Type: ReqType(r.buf[8]),
		Size: r.buf[9],
		Attr: r.buf[10],
		Proc: r.buf[11],
		Time: binary.LittleEndian.Uint32(r.buf[12:16]),
	}

	if r.swap {
		rec.Addr = SwapEndian(rec.Addr)
		rec.Time = bits.ReverseBytes32(rec.Time)
	}

	return rec, nil
}
