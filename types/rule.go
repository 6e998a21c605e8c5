package types

import (
	"net"
	"net/netip"
	"strconv"
)

// EthTypeIPv4 is the ethertype matched for IPv4 flows.
const EthTypeIPv4 uint16 = 0x0800

// NoBuffer tells the switch the packet was not buffered.
const NoBuffer uint32 = 0xffffffff

// MaxLenNoBuffer asks the switch to send the whole packet with no length
// restriction.
const MaxLenNoBuffer uint16 = 0xffff

// ProtocolVersion is the OpenFlow wire version negotiated with a device.
type ProtocolVersion uint8

const (
	OF10 ProtocolVersion = 0x01
	OF11 ProtocolVersion = 0x02
	OF12 ProtocolVersion = 0x03
	OF13 ProtocolVersion = 0x04
	OF14 ProtocolVersion = 0x05
	OF15 ProtocolVersion = 0x06
)

func (v ProtocolVersion) String() string {
	switch v {
	case OF10:
		return "OF_10"
	case OF11:
		return "OF_11"
	case OF12:
		return "OF_12"
	case OF13:
		return "OF_13"
	case OF14:
		return "OF_14"
	case OF15:
		return "OF_15"
	default:
		return "OF_unknown(" + strconv.Itoa(int(v)) + ")"
	}
}

// MatchSpec lists the exact-match fields of a rule. EthType, SrcIP and DstIP
// are only set for IPv4 flows.
type MatchSpec struct {
	DstMAC  net.HardwareAddr
	SrcMAC  net.HardwareAddr
	InPort  uint32
	EthType *uint16
	SrcIP   netip.Addr
	DstIP   netip.Addr
}

// HasL3 reports whether the match carries IPv4 fields.
func (m MatchSpec) HasL3() bool {
	return m.EthType != nil
}

// OutputAction forwards the packet to a port.
type OutputAction struct {
	Port   uint32
	MaxLen uint16
}

// RuleInstallRequest describes one forwarding rule for one device.
type RuleInstallRequest struct {
	DeviceID    DatapathID
	Match       MatchSpec
	OutPort     uint32
	Actions     []OutputAction
	Priority    uint16
	IdleTimeout uint16 // seconds
	HardTimeout uint16 // seconds
	Cookie      uint64
	BufferID    uint32
	// TableID is nil for OpenFlow 1.0 devices, which have no table field.
	TableID *uint8
}

// DampKey identifies requests that would install the same rule, ignoring
// the cookie.
func (r RuleInstallRequest) DampKey() string {
	b := make([]byte, 0, 96)
	b = append(b, r.DeviceID.String()...)
	b = append(b, '|')
	b = strconv.AppendUint(b, uint64(r.Match.InPort), 10)
	b = append(b, '|')
	b = append(b, r.Match.SrcMAC.String()...)
	b = append(b, '>')
	b = append(b, r.Match.DstMAC.String()...)
	if r.Match.HasL3() {
		b = append(b, '|')
		b = append(b, r.Match.SrcIP.String()...)
		b = append(b, '>')
		b = append(b, r.Match.DstIP.String()...)
	}
	b = append(b, '|')
	b = strconv.AppendUint(b, uint64(r.OutPort), 10)
	if r.TableID != nil {
		b = append(b, "|t"...)
		b = strconv.AppendUint(b, uint64(*r.TableID), 10)
	}
	return string(b)
}
