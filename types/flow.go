package types

import (
	"net"
	"net/netip"
	"strings"
)

// keyPrefix namespaces canonical keys inside the store.
const keyPrefix = "flow"

// absentMarker encodes a missing IP field. '~' never occurs in the text form
// of an IP or MAC address, so the marker cannot collide with a real value.
const absentMarker = "~none"

const keySeparator = "|"

// FlowKey identifies an observed flow. SrcIP and DstIP are the zero
// netip.Addr for non-IPv4 traffic; the MAC fields are always set.
type FlowKey struct {
	SrcIP  netip.Addr
	DstIP  netip.Addr
	SrcMAC net.HardwareAddr
	DstMAC net.HardwareAddr
}

// NewFlowKey builds a FlowKey. Pass the zero netip.Addr for absent IPs.
func NewFlowKey(srcIP, dstIP netip.Addr, srcMAC, dstMAC net.HardwareAddr) FlowKey {
	return FlowKey{
		SrcIP:  srcIP.Unmap(),
		DstIP:  dstIP.Unmap(),
		SrcMAC: srcMAC,
		DstMAC: dstMAC,
	}
}

// HasIP reports whether both IP fields are present. Flows with only one IP
// field set are treated as pure L2 flows.
func (k FlowKey) HasIP() bool {
	return k.SrcIP.IsValid() && k.DstIP.IsValid()
}

// Equal reports whether two keys describe the same flow.
func (k FlowKey) Equal(o FlowKey) bool {
	return Encode(k) == Encode(o)
}

// String returns a human readable form for logs.
func (k FlowKey) String() string {
	return "FlowKey[srcIP=" + ipText(k.SrcIP) + ", dstIP=" + ipText(k.DstIP) +
		", srcMac=" + k.SrcMAC.String() + ", dstMac=" + k.DstMAC.String() + "]"
}

// Encode derives the canonical store key for a flow:
//
//	flow|<srcIP>|<dstIP>|<srcMAC>|<dstMAC>
//
// Absent IPs are written as "~none". The encoding is one-directional.
func Encode(k FlowKey) string {
	var b strings.Builder
	b.Grow(len(keyPrefix) + 2*len(absentMarker) + 2*17 + 4*len(keySeparator) + 2*15)
	b.WriteString(keyPrefix)
	b.WriteString(keySeparator)
	b.WriteString(ipText(k.SrcIP))
	b.WriteString(keySeparator)
	b.WriteString(ipText(k.DstIP))
	b.WriteString(keySeparator)
	b.WriteString(strings.ToLower(k.SrcMAC.String()))
	b.WriteString(keySeparator)
	b.WriteString(strings.ToLower(k.DstMAC.String()))
	return b.String()
}

func ipText(ip netip.Addr) string {
	if !ip.IsValid() {
		return absentMarker
	}
	return ip.Unmap().String()
}
