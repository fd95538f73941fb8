// Package decode parses capture files (pcap and pcapng) into structured
// packet records using gopacket.
package decode

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"
)

// Progress callbacks fire every this many records.
const progressInterval = 100

// ProgressFunc receives periodic decode progress. total is -1: capture files
// carry no up-front packet count.
type ProgressFunc func(processed, total int)

// LayerInfo holds the extracted fields of one protocol layer.
type LayerInfo struct {
	Summary string            `json:"summary,omitempty"`
	Fields  map[string]string `json:"fields"`
}

// Record is one decoded packet.
type Record struct {
	Number    int                   `json:"number"`
	Timestamp time.Time             `json:"timestamp"`
	Length    int                   `json:"length"`
	Layers    []string              `json:"layers"`
	Protocols map[string]*LayerInfo `json:"protocols"`

	// packet keeps the parsed layers around for field extraction; it is
	// not serialized.
	packet gopacket.Packet
}

// Result is the outcome of decoding one file. Per-packet parse problems are
// accumulated in Errors; only failing to open or read the file itself is an
// error return.
type Result struct {
	FilePath    string        `json:"file_path"`
	FileSize    int64         `json:"file_size"`
	RecordCount int           `json:"record_count"`
	Records     []*Record     `json:"-"`
	DecodeTime  time.Duration `json:"decode_time"`
	Errors      []string      `json:"errors,omitempty"`
}

// Decoder decodes capture files.
type Decoder struct {
	logger *zap.Logger
}

// NewDecoder creates a decoder.
func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// packetReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// pcapng section header block type; classic pcap files start with one of
// the tcpdump magic numbers instead.
const ngMagic = 0x0A0D0D0A

// Decode reads every packet from path, stopping early at maxRecords
// (0 = unlimited) or when ctx is cancelled. onProgress may be nil.
func (d *Decoder) Decode(ctx context.Context, path string, maxRecords int, onProgress ProgressFunc) (*Result, error) {
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buffered := bufio.NewReader(f)
	reader, err := newPacketReader(buffered)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	res := &Result{
		FilePath: path,
		FileSize: info.Size(),
	}

	for {
		if maxRecords > 0 && res.RecordCount >= maxRecords {
			d.logger.Debug("Record cap reached",
				zap.String("file", path), zap.Int("max_records", maxRecords))
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken block makes the rest of the stream unreliable.
			res.Errors = append(res.Errors,
				fmt.Sprintf("read packet %d: %v", res.RecordCount+1, err))
			break
		}

		rec := d.parsePacket(data, ci, reader.LinkType(), res.RecordCount+1)
		res.Records = append(res.Records, rec)
		res.RecordCount++

		if onProgress != nil && res.RecordCount%progressInterval == 0 {
			onProgress(res.RecordCount, -1)
		}
	}

	res.DecodeTime = time.Since(start)
	d.logger.Debug("Decoded file",
		zap.String("file", path),
		zap.Int("records", res.RecordCount),
		zap.Duration("took", res.DecodeTime))
	return res, nil
}

// newPacketReader sniffs the file magic and returns the matching pcapgo
// reader.
func newPacketReader(r *bufio.Reader) (packetReader, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading file magic: %w", err)
	}
	if binary.LittleEndian.Uint32(magic) == ngMagic || binary.BigEndian.Uint32(magic) == ngMagic {
		return pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(r)
}

// parsePacket builds a Record with the layer list; detailed per-layer fields
// are filled in later by the Extractor.
func (d *Decoder) parsePacket(data []byte, ci gopacket.CaptureInfo, linkType layers.LinkType, number int) *Record {
	pkt := gopacket.NewPacket(data, linkType, gopacket.Default)
	meta := pkt.Metadata()
	meta.CaptureInfo = ci

	rec := &Record{
		Number:    number,
		Timestamp: ci.Timestamp,
		Length:    ci.Length,
		Protocols: make(map[string]*LayerInfo),
		packet:    pkt,
	}
	for _, layer := range pkt.Layers() {
		name := layer.LayerType().String()
		rec.Layers = append(rec.Layers, name)
		if _, ok := rec.Protocols[name]; !ok {
			rec.Protocols[name] = &LayerInfo{Fields: make(map[string]string)}
		}
	}
	return rec
}
