package recording

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrBadMagic is returned when data does not start with the recording envelope.
	ErrBadMagic = errors.New("not a stacktape recording")
	// ErrChecksum is returned when the decompressed payload fails verification.
	ErrChecksum = errors.New("recording checksum mismatch")
)

const (
	envelopeVersion = 1
	headerSize      = 4 + 1 + 8
)

var magic = [4]byte{'S', 'T', 'P', 'E'}

// Field numbers of the recording message.
const (
	fieldApplication protowire.Number = 1
	fieldStart       protowire.Number = 2
	fieldSessionID   protowire.Number = 3
	fieldParentID    protowire.Number = 4
	fieldSite        protowire.Number = 5
	fieldCall        protowire.Number = 6
	fieldMarker      protowire.Number = 7
	fieldStatus      protowire.Number = 8
)

// Encode serializes the recording and compresses it into the on-disk envelope:
// magic, version, xxh3 checksum of the raw payload, zstd payload.
func (r *Recording) Encode() ([]byte, error) {
	payload := r.marshal()

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer func() { _ = enc.Close() }()

	out := make([]byte, headerSize, headerSize+len(payload)/4)
	copy(out, magic[:])
	out[4] = envelopeVersion
	binary.BigEndian.PutUint64(out[5:headerSize], xxh3.Hash(payload))
	return enc.EncodeAll(payload, out), nil
}

// Load decodes an envelope produced by Encode and replaces the recording's
// contents wholesale.
func (r *Recording) Load(data []byte) error {
	if len(data) < headerSize || !bytes.Equal(data[:4], magic[:]) {
		return ErrBadMagic
	}
	if data[4] != envelopeVersion {
		return fmt.Errorf("unsupported recording version %d", data[4])
	}
	sum := binary.BigEndian.Uint64(data[5:headerSize])

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	payload, err := dec.DecodeAll(data[headerSize:], nil)
	if err != nil {
		return fmt.Errorf("failed to decompress recording: %w", err)
	}
	if xxh3.Hash(payload) != sum {
		return ErrChecksum
	}

	d, err := unmarshal(payload)
	if err != nil {
		return fmt.Errorf("failed to decode recording: %w", err)
	}
	r.replace(d)
	return nil
}

// siteTable interns call sites so each one is written once.
type siteTable struct {
	index map[uint64][]int
	sites []CallSite
}

func (t *siteTable) id(s CallSite) uint64 {
	key := xxh3.HashString(s.Name) ^ xxh3.HashString(s.Filename) ^ uint64(s.Line)
	for _, i := range t.index[key] {
		if t.sites[i].IsSimilar(s) {
			return uint64(i)
		}
	}
	t.sites = append(t.sites, s)
	i := len(t.sites) - 1
	t.index[key] = append(t.index[key], i)
	return uint64(i)
}

func (r *Recording) marshal() []byte {
	calls := r.Calls()
	markers := r.Markers()
	statuses := r.Statuses()
	table := &siteTable{index: make(map[uint64][]int)}

	var body []byte
	for _, c := range calls {
		var m []byte
		m = appendDuration(m, 1, c.When)
		m = protowire.AppendTag(m, 2, protowire.VarintType)
		m = protowire.AppendVarint(m, protowire.EncodeZigZag(c.GoroutineID))
		m = protowire.AppendTag(m, 3, protowire.VarintType)
		m = protowire.AppendVarint(m, table.id(c.CallSite))
		m = protowire.AppendTag(m, 4, protowire.VarintType)
		m = protowire.AppendVarint(m, table.id(c.CallerSite))
		m = protowire.AppendTag(m, 5, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(c.Depth))
		m = appendDuration(m, 6, c.Duration)
		body = protowire.AppendTag(body, fieldCall, protowire.BytesType)
		body = protowire.AppendBytes(body, m)
	}
	for _, mk := range markers {
		var m []byte
		m = protowire.AppendTag(m, 1, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(mk.Kind))
		m = appendDuration(m, 2, mk.When)
		m = protowire.AppendTag(m, 3, protowire.BytesType)
		m = protowire.AppendString(m, mk.Message)
		m = appendDuration(m, 4, mk.Duration)
		m = protowire.AppendTag(m, 5, protowire.VarintType)
		m = protowire.AppendVarint(m, protowire.EncodeZigZag(mk.Stack.GoroutineID))
		m = appendDuration(m, 6, mk.Stack.When)
		for i := 0; i < mk.Stack.Len(); i++ {
			m = protowire.AppendTag(m, 7, protowire.VarintType)
			m = protowire.AppendVarint(m, table.id(mk.Stack.At(i)))
		}
		body = protowire.AppendTag(body, fieldMarker, protowire.BytesType)
		body = protowire.AppendBytes(body, m)
	}
	for _, s := range statuses {
		var m []byte
		m = appendDuration(m, 1, s.When)
		m = appendDouble(m, 2, s.CPU)
		m = appendDouble(m, 3, s.SystemCPU)
		m = appendUint(m, 4, s.Memory)
		m = appendUint(m, 5, s.MemoryTotal)
		m = appendUint(m, 6, s.MemoryFree)
		m = appendUint(m, 7, uint64(s.ModuleCount))
		m = appendUint(m, 8, s.ObjectCount)
		m = appendUint(m, 9, uint64(s.Goroutines))
		m = appendDuration(m, 10, s.Duration)
		body = protowire.AppendTag(body, fieldStatus, protowire.BytesType)
		body = protowire.AppendBytes(body, m)
	}

	var out []byte
	out = protowire.AppendTag(out, fieldApplication, protowire.BytesType)
	out = protowire.AppendString(out, r.ApplicationName())
	out = protowire.AppendTag(out, fieldStart, protowire.VarintType)
	out = protowire.AppendVarint(out, protowire.EncodeZigZag(r.Start().UnixNano()))
	out = protowire.AppendTag(out, fieldSessionID, protowire.BytesType)
	out = protowire.AppendString(out, r.SessionID())
	out = protowire.AppendTag(out, fieldParentID, protowire.BytesType)
	out = protowire.AppendString(out, r.ParentID())
	// The site table precedes the records referencing it.
	for _, s := range table.sites {
		var m []byte
		m = protowire.AppendTag(m, 1, protowire.BytesType)
		m = protowire.AppendString(m, s.Filename)
		m = protowire.AppendTag(m, 2, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(s.Line))
		m = protowire.AppendTag(m, 3, protowire.BytesType)
		m = protowire.AppendString(m, s.Name)
		out = protowire.AppendTag(out, fieldSite, protowire.BytesType)
		out = protowire.AppendBytes(out, m)
	}
	return append(out, body...)
}

func appendDuration(b []byte, num protowire.Number, d time.Duration) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(d)))
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

type decoded struct {
	application string
	sessionID   string
	parentID    string
	start       time.Time
	sites       []CallSite
	calls       []Call
	markers     []Marker
	statuses    []Status
}

// field is one decoded key/value pair of a message.
type field struct {
	num   protowire.Number
	u     uint64
	bytes []byte
}

// fields splits a message into its fields.
func fields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		f := field{num: num}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		out = append(out, f)
	}
	return out, nil
}

func (d *decoded) site(i uint64) (CallSite, error) {
	if i >= uint64(len(d.sites)) {
		return CallSite{}, fmt.Errorf("call site index %d out of range (%d sites)", i, len(d.sites))
	}
	return d.sites[i], nil
}

func duration(u uint64) time.Duration {
	return time.Duration(protowire.DecodeZigZag(u))
}

func unmarshal(payload []byte) (*decoded, error) {
	top, err := fields(payload)
	if err != nil {
		return nil, err
	}
	d := &decoded{}
	for _, f := range top {
		switch f.num {
		case fieldApplication:
			d.application = string(f.bytes)
		case fieldStart:
			d.start = time.Unix(0, protowire.DecodeZigZag(f.u))
		case fieldSessionID:
			d.sessionID = string(f.bytes)
		case fieldParentID:
			d.parentID = string(f.bytes)
		case fieldSite:
			s, err := decodeSite(f.bytes)
			if err != nil {
				return nil, err
			}
			d.sites = append(d.sites, s)
		case fieldCall:
			c, err := d.decodeCall(f.bytes)
			if err != nil {
				return nil, err
			}
			d.calls = append(d.calls, c)
		case fieldMarker:
			m, err := d.decodeMarker(f.bytes)
			if err != nil {
				return nil, err
			}
			d.markers = append(d.markers, m)
		case fieldStatus:
			s, err := decodeStatus(f.bytes)
			if err != nil {
				return nil, err
			}
			d.statuses = append(d.statuses, s)
		}
	}
	return d, nil
}

func decodeSite(b []byte) (CallSite, error) {
	fs, err := fields(b)
	if err != nil {
		return CallSite{}, err
	}
	var s CallSite
	for _, f := range fs {
		switch f.num {
		case 1:
			s.Filename = string(f.bytes)
		case 2:
			s.Line = int(f.u)
		case 3:
			s.Name = string(f.bytes)
		}
	}
	return s, nil
}

func (d *decoded) decodeCall(b []byte) (Call, error) {
	fs, err := fields(b)
	if err != nil {
		return Call{}, err
	}
	var c Call
	for _, f := range fs {
		switch f.num {
		case 1:
			c.When = duration(f.u)
		case 2:
			c.GoroutineID = protowire.DecodeZigZag(f.u)
		case 3:
			if c.CallSite, err = d.site(f.u); err != nil {
				return Call{}, err
			}
		case 4:
			if c.CallerSite, err = d.site(f.u); err != nil {
				return Call{}, err
			}
		case 5:
			c.Depth = int(f.u)
		case 6:
			c.Duration = duration(f.u)
		}
	}
	return c, nil
}

func (d *decoded) decodeMarker(b []byte) (Marker, error) {
	fs, err := fields(b)
	if err != nil {
		return Marker{}, err
	}
	var (
		m     Marker
		gid   int64
		when  time.Duration
		sites []CallSite
	)
	for _, f := range fs {
		switch f.num {
		case 1:
			m.Kind = MarkerKind(f.u)
		case 2:
			m.When = duration(f.u)
		case 3:
			m.Message = string(f.bytes)
		case 4:
			m.Duration = duration(f.u)
		case 5:
			gid = protowire.DecodeZigZag(f.u)
		case 6:
			when = duration(f.u)
		case 7:
			s, err := d.site(f.u)
			if err != nil {
				return Marker{}, err
			}
			sites = append(sites, s)
		}
	}
	m.Stack = NewStack(gid, when, sites)
	return m, nil
}

func decodeStatus(b []byte) (Status, error) {
	fs, err := fields(b)
	if err != nil {
		return Status{}, err
	}
	var s Status
	for _, f := range fs {
		switch f.num {
		case 1:
			s.When = duration(f.u)
		case 2:
			s.CPU = math.Float64frombits(f.u)
		case 3:
			s.SystemCPU = math.Float64frombits(f.u)
		case 4:
			s.Memory = f.u
		case 5:
			s.MemoryTotal = f.u
		case 6:
			s.MemoryFree = f.u
		case 7:
			s.ModuleCount = int(f.u)
		case 8:
			s.ObjectCount = f.u
		case 9:
			s.Goroutines = int(f.u)
		case 10:
			s.Duration = duration(f.u)
		}
	}
	return s, nil
}
