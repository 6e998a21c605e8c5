package types

import (
	"fmt"
	"strconv"
	"strings"
)

// DatapathID is the 64-bit identifier of a switch.
type DatapathID uint64

// String renders the id in the colon separated hex form used by controllers,
// e.g. 00:00:00:00:00:00:00:01.
func (d DatapathID) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 0, 23)
	for i := 7; i >= 0; i-- {
		b := byte(uint64(d) >> (uint(i) * 8))
		buf = append(buf, hex[b>>4], hex[b&0x0f])
		if i > 0 {
			buf = append(buf, ':')
		}
	}
	return string(buf)
}

// MarshalText implements encoding.TextMarshaler.
func (d DatapathID) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DatapathID) UnmarshalText(text []byte) error {
	id, err := ParseDatapathID(string(text))
	if err != nil {
		return err
	}
	*d = id
	return nil
}

// ParseDatapathID parses either the colon separated hex form or a plain
// integer (decimal or 0x-prefixed hex).
func ParseDatapathID(s string) (DatapathID, error) {
	if !strings.Contains(s, ":") {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid datapath id %q: %w", s, err)
		}
		return DatapathID(v), nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 8 {
		return 0, fmt.Errorf("invalid datapath id %q: want 8 octets, got %d", s, len(parts))
	}
	var v uint64
	for _, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid datapath id %q: %w", s, err)
		}
		v = v<<8 | b
	}
	return DatapathID(v), nil
}

// NodePort is one (device, port) hop entry of a path.
type NodePort struct {
	DeviceID DatapathID `json:"nodeId"`
	Port     uint32     `json:"portId"`
}

func (np NodePort) String() string {
	return np.DeviceID.String() + "/" + strconv.FormatUint(uint64(np.Port), 10)
}

// Path is an ordered sequence of node ports from the source side to the
// destination side. Entries come in (ingress, egress) pairs per device.
type Path []NodePort

// Installable reports whether the path has an even number of entries and at
// least one device pair.
func (p Path) Installable() bool {
	return len(p) >= 2 && len(p)%2 == 0
}

// Equal reports whether two paths visit the same node ports in order.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not share backing storage with p.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}
