package amule

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// EC wire codec. A frame is a uint32 flags word, a uint32 payload length and
// the payload; the payload is one packet: opcode byte, tag count uint16, then
// the tags. Tag names carry a low bit marking the presence of child tags. All
// integers are big endian.

const _frameFlags uint32 = 0x20

// Tag value types.
const (
	ecTypeCustom uint8 = iota
	ecTypeUint8
	ecTypeUint16
	ecTypeUint32
	ecTypeUint64
	ecTypeString
	ecTypeDouble
	ecTypeIPv4
	ecTypeHash16
)

// ecTag is one tag in a packet. Exactly one of the value fields is meaningful
// for a given Type; children may be present on any tag.
type ecTag struct {
	Name     uint16
	Type     uint8
	Data     []byte
	Children []ecTag
}

func uintTag(name uint16, v uint64) ecTag {
	switch {
	case v <= math.MaxUint8:
		return ecTag{Name: name, Type: ecTypeUint8, Data: []byte{byte(v)}}
	case v <= math.MaxUint16:
		d := make([]byte, 2)
		binary.BigEndian.PutUint16(d, uint16(v))
		return ecTag{Name: name, Type: ecTypeUint16, Data: d}
	case v <= math.MaxUint32:
		d := make([]byte, 4)
		binary.BigEndian.PutUint32(d, uint32(v))
		return ecTag{Name: name, Type: ecTypeUint32, Data: d}
	default:
		d := make([]byte, 8)
		binary.BigEndian.PutUint64(d, v)
		return ecTag{Name: name, Type: ecTypeUint64, Data: d}
	}
}

func stringTag(name uint16, s string) ecTag {
	return ecTag{Name: name, Type: ecTypeString, Data: append([]byte(s), 0)}
}

func hashTag(name uint16, h []byte) ecTag {
	return ecTag{Name: name, Type: ecTypeHash16, Data: h}
}

// Uint returns the tag value as an unsigned integer, zero when not numeric.
func (t ecTag) Uint() uint64 {
	switch t.Type {
	case ecTypeUint8:
		if len(t.Data) == 1 {
			return uint64(t.Data[0])
		}
	case ecTypeUint16:
		if len(t.Data) == 2 {
			return uint64(binary.BigEndian.Uint16(t.Data))
		}
	case ecTypeUint32:
		if len(t.Data) == 4 {
			return uint64(binary.BigEndian.Uint32(t.Data))
		}
	case ecTypeUint64:
		if len(t.Data) == 8 {
			return binary.BigEndian.Uint64(t.Data)
		}
	}
	return 0
}

// String returns the tag value as a string, stripping the trailing NUL.
func (t ecTag) String() string {
	d := t.Data
	if n := len(d); n > 0 && d[n-1] == 0 {
		d = d[:n-1]
	}
	return string(d)
}

// Child returns the first child tag with the given name.
func (t ecTag) Child(name uint16) (ecTag, bool) {
	for _, c := range t.Children {
		if c.Name == name {
			return c, true
		}
	}
	return ecTag{}, false
}

func (t ecTag) ChildUint(name uint16) uint64 {
	c, _ := t.Child(name)
	return c.Uint()
}

func (t ecTag) ChildString(name uint16) string {
	c, ok := t.Child(name)
	if !ok {
		return ""
	}
	return c.String()
}

// ecPacket is one request or response.
type ecPacket struct {
	Opcode uint8
	Tags   []ecTag
}

// Tag returns the first top-level tag with the given name.
func (p *ecPacket) Tag(name uint16) (ecTag, bool) {
	for _, t := range p.Tags {
		if t.Name == name {
			return t, true
		}
	}
	return ecTag{}, false
}

// TagsNamed returns all top-level tags with the given name.
func (p *ecPacket) TagsNamed(name uint16) []ecTag {
	var out []ecTag
	for _, t := range p.Tags {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

func encodeTag(b *bytes.Buffer, t ecTag) error {
	name := t.Name << 1
	if len(t.Children) > 0 {
		name |= 1
	}
	binary.Write(b, binary.BigEndian, name)
	b.WriteByte(t.Type)

	var body bytes.Buffer
	if len(t.Children) > 0 {
		binary.Write(&body, binary.BigEndian, uint16(len(t.Children)))
		for _, c := range t.Children {
			if err := encodeTag(&body, c); err != nil {
				return err
			}
		}
	}
	body.Write(t.Data)

	if body.Len() > math.MaxUint32 {
		return fmt.Errorf("tag %#x too large", t.Name)
	}
	binary.Write(b, binary.BigEndian, uint32(body.Len()))
	b.Write(body.Bytes())
	return nil
}

func decodeTag(r *bytes.Reader) (ecTag, error) {
	var name uint16
	if err := binary.Read(r, binary.BigEndian, &name); err != nil {
		return ecTag{}, fmt.Errorf("read tag name: %s", err)
	}
	typ, err := r.ReadByte()
	if err != nil {
		return ecTag{}, fmt.Errorf("read tag type: %s", err)
	}
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return ecTag{}, fmt.Errorf("read tag length: %s", err)
	}
	if int(length) > r.Len() {
		return ecTag{}, fmt.Errorf("tag length %d exceeds remaining %d", length, r.Len())
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return ecTag{}, fmt.Errorf("read tag body: %s", err)
	}

	t := ecTag{Name: name >> 1, Type: typ}
	if name&1 == 0 {
		t.Data = body
		return t, nil
	}
	br := bytes.NewReader(body)
	var count uint16
	if err := binary.Read(br, binary.BigEndian, &count); err != nil {
		return ecTag{}, fmt.Errorf("read child count: %s", err)
	}
	for i := 0; i < int(count); i++ {
		c, err := decodeTag(br)
		if err != nil {
			return ecTag{}, err
		}
		t.Children = append(t.Children, c)
	}
	rest := make([]byte, br.Len())
	io.ReadFull(br, rest)
	t.Data = rest
	return t, nil
}

func encodePacket(p *ecPacket) ([]byte, error) {
	var body bytes.Buffer
	body.WriteByte(p.Opcode)
	binary.Write(&body, binary.BigEndian, uint16(len(p.Tags)))
	for _, t := range p.Tags {
		if err := encodeTag(&body, t); err != nil {
			return nil, err
		}
	}

	var frame bytes.Buffer
	binary.Write(&frame, binary.BigEndian, _frameFlags)
	binary.Write(&frame, binary.BigEndian, uint32(body.Len()))
	frame.Write(body.Bytes())
	return frame.Bytes(), nil
}

const _maxPayload = 16 << 20

func decodePacket(r io.Reader) (*ecPacket, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[4:])
	if length == 0 || length > _maxPayload {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	br := bytes.NewReader(payload)
	op, _ := br.ReadByte()
	var count uint16
	if err := binary.Read(br, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read tag count: %s", err)
	}
	p := &ecPacket{Opcode: op}
	for i := 0; i < int(count); i++ {
		t, err := decodeTag(br)
		if err != nil {
			return nil, err
		}
		p.Tags = append(p.Tags, t)
	}
	return p, nil
}
