package decode

import (
	"fmt"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Extractor fills per-layer protocol fields into decoded records. Extraction
// is separate from decoding so a record cap or early failure never pays for
// field formatting it will not use.
type Extractor struct{}

// NewExtractor creates an extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractFields walks the packet's layers and fills rec.Protocols with
// human-readable field maps. Layers without a dedicated handler keep an
// empty field map; their presence in rec.Layers is still recorded.
func (e *Extractor) ExtractFields(rec *Record) {
	if rec == nil || rec.packet == nil {
		return
	}
	for _, layer := range rec.packet.Layers() {
		name := layer.LayerType().String()
		info, ok := rec.Protocols[name]
		if !ok {
			info = &LayerInfo{Fields: make(map[string]string)}
			rec.Protocols[name] = info
		}
		e.extractLayer(layer, info)
	}
}

func (e *Extractor) extractLayer(layer gopacket.Layer, info *LayerInfo) {
	f := info.Fields
	switch l := layer.(type) {
	case *layers.Ethernet:
		f["src"] = l.SrcMAC.String()
		f["dst"] = l.DstMAC.String()
		f["type"] = l.EthernetType.String()
		info.Summary = fmt.Sprintf("%s -> %s (%s)", l.SrcMAC, l.DstMAC, l.EthernetType)

	case *layers.Dot1Q:
		f["vlan_id"] = strconv.Itoa(int(l.VLANIdentifier))
		f["priority"] = strconv.Itoa(int(l.Priority))
		f["type"] = l.Type.String()
		info.Summary = fmt.Sprintf("VLAN %d", l.VLANIdentifier)

	case *layers.ARP:
		f["operation"] = strconv.Itoa(int(l.Operation))
		f["src_hw"] = hwAddr(l.SourceHwAddress)
		f["src_ip"] = ipBytes(l.SourceProtAddress)
		f["dst_hw"] = hwAddr(l.DstHwAddress)
		f["dst_ip"] = ipBytes(l.DstProtAddress)
		op := "request"
		if l.Operation == layers.ARPReply {
			op = "reply"
		}
		info.Summary = fmt.Sprintf("ARP %s %s -> %s", op,
			ipBytes(l.SourceProtAddress), ipBytes(l.DstProtAddress))

	case *layers.IPv4:
		f["src"] = l.SrcIP.String()
		f["dst"] = l.DstIP.String()
		f["proto"] = l.Protocol.String()
		f["ttl"] = strconv.Itoa(int(l.TTL))
		f["length"] = strconv.Itoa(int(l.Length))
		f["id"] = strconv.Itoa(int(l.Id))
		f["flags"] = l.Flags.String()
		info.Summary = fmt.Sprintf("%s -> %s (%s)", l.SrcIP, l.DstIP, l.Protocol)

	case *layers.IPv6:
		f["src"] = l.SrcIP.String()
		f["dst"] = l.DstIP.String()
		f["next_header"] = l.NextHeader.String()
		f["hop_limit"] = strconv.Itoa(int(l.HopLimit))
		f["length"] = strconv.Itoa(int(l.Length))
		info.Summary = fmt.Sprintf("%s -> %s (%s)", l.SrcIP, l.DstIP, l.NextHeader)

	case *layers.ICMPv4:
		f["type_code"] = l.TypeCode.String()
		f["id"] = strconv.Itoa(int(l.Id))
		f["seq"] = strconv.Itoa(int(l.Seq))
		f["checksum"] = fmt.Sprintf("0x%04x", l.Checksum)
		info.Summary = "ICMP " + l.TypeCode.String()

	case *layers.ICMPv6:
		f["type_code"] = l.TypeCode.String()
		f["checksum"] = fmt.Sprintf("0x%04x", l.Checksum)
		info.Summary = "ICMPv6 " + l.TypeCode.String()

	case *layers.TCP:
		f["src_port"] = strconv.Itoa(int(l.SrcPort))
		f["dst_port"] = strconv.Itoa(int(l.DstPort))
		f["seq"] = strconv.FormatUint(uint64(l.Seq), 10)
		f["ack"] = strconv.FormatUint(uint64(l.Ack), 10)
		f["window"] = strconv.Itoa(int(l.Window))
		f["flags"] = tcpFlags(l)
		f["payload_len"] = strconv.Itoa(len(l.Payload))
		info.Summary = fmt.Sprintf("%d -> %d [%s]", l.SrcPort, l.DstPort, tcpFlags(l))

	case *layers.UDP:
		f["src_port"] = strconv.Itoa(int(l.SrcPort))
		f["dst_port"] = strconv.Itoa(int(l.DstPort))
		f["length"] = strconv.Itoa(int(l.Length))
		f["checksum"] = fmt.Sprintf("0x%04x", l.Checksum)
		info.Summary = fmt.Sprintf("%d -> %d len=%d", l.SrcPort, l.DstPort, l.Length)

	case *layers.DNS:
		f["id"] = strconv.Itoa(int(l.ID))
		f["qr"] = strconv.FormatBool(l.QR)
		f["opcode"] = l.OpCode.String()
		f["response_code"] = l.ResponseCode.String()
		f["questions"] = strconv.Itoa(int(l.QDCount))
		f["answers"] = strconv.Itoa(int(l.ANCount))
		if len(l.Questions) > 0 {
			q := l.Questions[0]
			f["qry_name"] = string(q.Name)
			f["qry_type"] = q.Type.String()
		}
		kind := "query"
		if l.QR {
			kind = "response"
		}
		info.Summary = fmt.Sprintf("DNS %s id=%d", kind, l.ID)
	}
}

// tcpFlags renders set TCP flags in wire order.
func tcpFlags(t *layers.TCP) string {
	flags := ""
	add := func(set bool, name string) {
		if !set {
			return
		}
		if flags != "" {
			flags += ","
		}
		flags += name
	}
	add(t.FIN, "FIN")
	add(t.SYN, "SYN")
	add(t.RST, "RST")
	add(t.PSH, "PSH")
	add(t.ACK, "ACK")
	add(t.URG, "URG")
	add(t.ECE, "ECE")
	add(t.CWR, "CWR")
	return flags
}

func hwAddr(b []byte) string {
	s := ""
	for i, v := range b {
		if i > 0 {
			s += ":"
		}
		s += fmt.Sprintf("%02x", v)
	}
	return s
}

func ipBytes(b []byte) string {
	s := ""
	for i, v := range b {
		if i > 0 {
			s += "."
		}
		s += strconv.Itoa(int(v))
	}
	return s
}
