package cti

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

const (
	// HeaderMagic opens every frame.
	HeaderMagic uint64 = 0x11DDDDDDDDDDDDDD
	// PrefixSize covers the magic and the declared length; the declared
	// length counts every byte after the prefix.
	PrefixSize    = 12
	PayloadOffset = 20
	ChecksumSize  = 2
	MinFrameSize  = PayloadOffset + ChecksumSize
	auxRecordSize = 8
)

// Codec encodes and decodes frames with one field table. It holds no
// mutable state and is safe for concurrent use.
type Codec struct {
	table *Table
}

func NewCodec(table *Table) *Codec {
	if table == nil {
		table = defaultTable
	}

	return &Codec{table: table}
}

var defaultCodec = NewCodec(nil)

// Encode builds a frame with the built-in table.
func Encode(cmd Command, v Values) ([]byte, error) {
	return defaultCodec.Encode(cmd, v)
}

// Decode parses a frame with the built-in table.
func Decode(frame []byte) (Command, Values, error) {
	return defaultCodec.Decode(frame)
}

func (c *Codec) Table() *Table {
	return c.table
}

// Encode validates v against the command's layout and returns the complete
// frame including header and checksum.
func (c *Codec) Encode(cmd Command, v Values) ([]byte, error) {
	layout, ok := c.table.Layout(cmd)
	if !ok {
		return nil, &EncodingError{Command: cmd, Reason: "no field table for command"}
	}

	known := make(map[string]struct{}, len(layout.Fields))
	for _, f := range layout.Fields {
		if f.Type != TypeReserved {
			known[f.Name] = struct{}{}
		}
	}
	for name := range v {
		if name == KeyAux && layout.Aux {
			continue
		}
		if _, ok := known[name]; !ok {
			return nil, &EncodingError{Command: cmd, Field: name, Reason: "unknown field"}
		}
	}

	var aux []AuxReading
	var counts map[string]int
	if layout.Aux {
		var err error
		aux, counts, err = prepareAux(cmd, v)
		if err != nil {
			return nil, err
		}
	}

	frame := make([]byte, layout.FixedSize()+len(aux)*auxRecordSize)
	for i, f := range layout.Fields {
		if f.Type == TypeReserved {
			continue
		}

		raw, present := v[f.Name]
		if n, isCount := counts[f.Name]; isCount {
			if present {
				if given, ok := toInt64(raw); !ok || given != int64(n) {
					return nil, &EncodingError{Command: cmd, Field: f.Name, Reason: fmt.Sprintf("count %v disagrees with %d readings", raw, n)}
				}
			}
			raw, present = n, true
		}
		if !present {
			switch {
			case f.Default != nil:
				raw = f.Default
			case f.Required:
				return nil, &EncodingError{Command: cmd, Field: f.Name, Reason: "missing required field"}
			default:
				continue
			}
		}

		off := layout.offsets[i]
		if err := putField(cmd, f, frame[off:off+f.Size()], raw); err != nil {
			return nil, err
		}
	}

	off := layout.FixedSize() - ChecksumSize
	for _, r := range aux {
		binary.LittleEndian.PutUint32(frame[off:], math.Float32bits(r.Value))
		binary.LittleEndian.PutUint32(frame[off+4:], math.Float32bits(r.DT))
		off += auxRecordSize
	}

	binary.LittleEndian.PutUint64(frame[0:], HeaderMagic)
	binary.LittleEndian.PutUint32(frame[8:], uint32(len(frame)-PrefixSize))
	binary.LittleEndian.PutUint32(frame[12:], uint32(cmd))
	binary.LittleEndian.PutUint32(frame[16:], 0)
	binary.LittleEndian.PutUint16(frame[len(frame)-ChecksumSize:], Checksum(frame[:len(frame)-ChecksumSize]))

	return frame, nil
}

func prepareAux(cmd Command, v Values) ([]AuxReading, map[string]int, error) {
	var readings []AuxReading
	if raw, ok := v[KeyAux]; ok && raw != nil {
		typed, ok := raw.([]AuxReading)
		if !ok {
			return nil, nil, &EncodingError{Command: cmd, Field: KeyAux, Reason: fmt.Sprintf("expected []AuxReading, got %T", raw)}
		}
		readings = append(readings, typed...)
	}

	counts := make(map[string]int, len(auxKindNames))
	for _, k := range AuxKinds() {
		counts[k.CountField()] = 0
	}
	for _, r := range readings {
		if int(r.Kind) >= len(auxKindNames) {
			return nil, nil, &EncodingError{Command: cmd, Field: KeyAux, Reason: fmt.Sprintf("unknown aux kind %d", r.Kind)}
		}
		if !finite32(r.Value) || !finite32(r.DT) {
			return nil, nil, &EncodingError{Command: cmd, Field: KeyAux, Reason: "aux reading is not finite"}
		}
		counts[r.Kind.CountField()]++
	}
	for name, n := range counts {
		if n > math.MaxUint16 {
			return nil, nil, &EncodingError{Command: cmd, Field: name, Reason: fmt.Sprintf("%d readings exceed the u16 count", n)}
		}
	}
	sort.SliceStable(readings, func(i, j int) bool { return readings[i].Kind < readings[j].Kind })

	return readings, counts, nil
}

func finite32(f float32) bool {
	x := float64(f)

	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Decode validates frame and returns its command and field values. Checks
// run in order: size, magic, declared length, checksum, command, layout.
// Once the length checks pass the raw command is returned even on error.
func (c *Codec) Decode(frame []byte) (Command, Values, error) {
	if len(frame) < MinFrameSize {
		return 0, nil, &FramingError{Reason: fmt.Sprintf("frame of %d bytes is shorter than the %d byte minimum", len(frame), MinFrameSize)}
	}

	total, err := DeclaredFrameLength(frame[:PrefixSize])
	if err != nil {
		return 0, nil, err
	}
	if total != len(frame) {
		return 0, nil, &FramingError{Reason: fmt.Sprintf("declared length %d does not match %d bytes received", total-PrefixSize, len(frame)-PrefixSize)}
	}

	cmd := Command(binary.LittleEndian.Uint32(frame[12:]))
	body := frame[:len(frame)-ChecksumSize]
	want := Checksum(body)
	got := binary.LittleEndian.Uint16(frame[len(frame)-ChecksumSize:])
	if want != got {
		return cmd, nil, &ChecksumError{Want: want, Got: got}
	}

	layout, ok := c.table.Layout(cmd)
	if !ok {
		return cmd, nil, &UnknownCommandError{Command: cmd}
	}

	if len(frame) < layout.FixedSize() || (!layout.Aux && len(frame) != layout.FixedSize()) {
		return cmd, nil, &FramingError{Reason: fmt.Sprintf("%s frame is %d bytes, table expects %d", cmd, len(frame), layout.FixedSize())}
	}

	v := make(Values, len(layout.Fields))
	for i, f := range layout.Fields {
		if f.Type == TypeReserved {
			continue
		}
		off := layout.offsets[i]
		v[f.Name] = readField(f, frame[off:off+f.Size()])
	}

	if layout.Aux {
		readings, err := decodeAux(v, frame[layout.FixedSize()-ChecksumSize:len(frame)-ChecksumSize])
		if err != nil {
			return cmd, nil, err
		}
		v[KeyAux] = readings
	}

	return cmd, v, nil
}

func decodeAux(v Values, tail []byte) ([]AuxReading, error) {
	expected := 0
	for _, k := range AuxKinds() {
		expected += int(v.Int(k.CountField()))
	}
	if expected*auxRecordSize != len(tail) {
		return nil, &FramingError{Reason: fmt.Sprintf("aux counts announce %d readings, frame carries %d bytes of readings", expected, len(tail))}
	}

	readings := make([]AuxReading, 0, expected)
	off := 0
	for _, k := range AuxKinds() {
		for n := v.Int(k.CountField()); n > 0; n-- {
			readings = append(readings, AuxReading{
				Kind:  k,
				Value: math.Float32frombits(binary.LittleEndian.Uint32(tail[off:])),
				DT:    math.Float32frombits(binary.LittleEndian.Uint32(tail[off+4:])),
			})
			off += auxRecordSize
		}
	}

	return readings, nil
}

// Checksum is the 16-bit wrap-around sum of b.
func Checksum(b []byte) uint16 {
	var sum uint16
	for _, x := range b {
		sum += uint16(x)
	}

	return sum
}

// DeclaredFrameLength returns the total frame length announced by the first
// PrefixSize bytes of a frame.
func DeclaredFrameLength(prefix []byte) (int, error) {
	if len(prefix) < PrefixSize {
		return 0, &FramingError{Reason: fmt.Sprintf("need %d prefix bytes, have %d", PrefixSize, len(prefix))}
	}
	if magic := binary.LittleEndian.Uint64(prefix); magic != HeaderMagic {
		return 0, &FramingError{Reason: fmt.Sprintf("bad header magic 0x%016X", magic)}
	}

	total := int(binary.LittleEndian.Uint32(prefix[8:])) + PrefixSize
	if total < MinFrameSize {
		return 0, &FramingError{Reason: fmt.Sprintf("declared length %d is below the minimum", total-PrefixSize)}
	}

	return total, nil
}
