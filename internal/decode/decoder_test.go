package decode

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// buildUDPPacket serializes a small Ethernet/IPv4/UDP frame.
func buildUDPPacket(t *testing.T, payload string) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 4000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

// writePcap writes count packets into a classic pcap file.
func writePcap(t *testing.T, dir string, count int) string {
	t.Helper()
	path := filepath.Join(dir, "test.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		data := buildUDPPacket(t, "payload")
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

// writePcapNg writes count packets into a pcapng file.
func writePcapNg(t *testing.T, dir string, count int) string {
	t.Helper()
	path := filepath.Join(dir, "test.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		data := buildUDPPacket(t, "payload")
		ci := gopacket.CaptureInfo{
			Timestamp:      ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength:  len(data),
			Length:         len(data),
			InterfaceIndex: 0,
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	require.NoError(t, w.Flush())
	return path
}

func TestDecodeClassicPcap(t *testing.T) {
	path := writePcap(t, t.TempDir(), 5)

	d := NewDecoder(zap.NewNop())
	res, err := d.Decode(context.Background(), path, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, res.RecordCount)
	assert.Len(t, res.Records, 5)
	assert.Empty(t, res.Errors)
	assert.Greater(t, res.FileSize, int64(0))

	rec := res.Records[0]
	assert.Equal(t, 1, rec.Number)
	assert.Contains(t, rec.Layers, "Ethernet")
	assert.Contains(t, rec.Layers, "IPv4")
	assert.Contains(t, rec.Layers, "UDP")
	assert.False(t, rec.Timestamp.IsZero())
}

func TestDecodePcapNg(t *testing.T) {
	path := writePcapNg(t, t.TempDir(), 3)

	d := NewDecoder(zap.NewNop())
	res, err := d.Decode(context.Background(), path, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RecordCount)
	assert.Contains(t, res.Records[0].Layers, "UDP")
}

func TestDecodeRecordCap(t *testing.T) {
	path := writePcap(t, t.TempDir(), 10)

	d := NewDecoder(zap.NewNop())
	res, err := d.Decode(context.Background(), path, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.RecordCount)
}

func TestDecodeProgressCallback(t *testing.T) {
	path := writePcap(t, t.TempDir(), 250)

	var calls []int
	d := NewDecoder(zap.NewNop())
	res, err := d.Decode(context.Background(), path, 0, func(processed, total int) {
		calls = append(calls, processed)
		assert.Equal(t, -1, total, "packet totals are unknown up front")
	})
	require.NoError(t, err)
	assert.Equal(t, 250, res.RecordCount)
	assert.Equal(t, []int{100, 200}, calls)
}

func TestDecodeCancelled(t *testing.T) {
	path := writePcap(t, t.TempDir(), 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDecoder(zap.NewNop())
	_, err := d.Decode(ctx, path, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.pcap")
	require.NoError(t, os.WriteFile(path, []byte("this is not a capture file"), 0o644))

	d := NewDecoder(zap.NewNop())
	_, err := d.Decode(context.Background(), path, 0, nil)
	assert.Error(t, err)
}

func TestDecodeMissingFile(t *testing.T) {
	d := NewDecoder(zap.NewNop())
	_, err := d.Decode(context.Background(), filepath.Join(t.TempDir(), "absent.pcap"), 0, nil)
	assert.Error(t, err)
}

func TestExtractFieldsUDP(t *testing.T) {
	path := writePcap(t, t.TempDir(), 1)

	d := NewDecoder(zap.NewNop())
	res, err := d.Decode(context.Background(), path, 0, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	NewExtractor().ExtractFields(res.Records[0])
	rec := res.Records[0]

	ipv4 := rec.Protocols["IPv4"]
	require.NotNil(t, ipv4)
	assert.Equal(t, "10.0.0.1", ipv4.Fields["src"])
	assert.Equal(t, "10.0.0.2", ipv4.Fields["dst"])
	assert.Equal(t, "64", ipv4.Fields["ttl"])
	assert.NotEmpty(t, ipv4.Summary)

	udp := rec.Protocols["UDP"]
	require.NotNil(t, udp)
	assert.Equal(t, "4000", udp.Fields["src_port"])
	assert.Equal(t, "53", udp.Fields["dst_port"])

	eth := rec.Protocols["Ethernet"]
	require.NotNil(t, eth)
	assert.Equal(t, "00:11:22:33:44:55", eth.Fields["src"])
}

func TestExtractFieldsNilSafe(t *testing.T) {
	e := NewExtractor()
	e.ExtractFields(nil)
	e.ExtractFields(&Record{}) // no packet attached
}
