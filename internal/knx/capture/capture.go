// Package capture records raw cEMI frames to pcap files.
//
// Frames are stored verbatim with link type DLT_USER0 (147). The cEMI
// message code in byte 0 tells outbound requests (L_Data.req) apart from
// bus traffic (L_Data.ind) and confirmations (L_Data.con), so no extra
// direction header is written. Wireshark can decode the files by mapping
// DLT_USER0 to the "cemi" dissector.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// LinkTypeCEMI is the pcap link type used for cEMI frames (DLT_USER0).
const LinkTypeCEMI layers.LinkType = 147

// snapLen covers the longest standard cEMI frame with additional info.
const snapLen = 512

// ErrLinkType is returned when reading a pcap file that does not hold cEMI frames.
var ErrLinkType = errors.New("capture: unexpected link type")

// Writer appends frames to a pcap stream. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	count  uint64
	now    func() time.Time
}

// NewWriter writes the pcap file header to w and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, LinkTypeCEMI); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{w: pw, now: time.Now}, nil
}

// Create creates (or truncates) the pcap file at path.
func Create(path string) (*Writer, error) {
	file, err := os.Create(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	w, err := NewWriter(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// WriteFrame appends one frame stamped with the current time.
func (w *Writer) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ci := gopacket.CaptureInfo{
		Timestamp:     w.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := w.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of frames written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the underlying file if the Writer was made by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	return err
}

// Record is one frame read back from a capture.
type Record struct {
	Timestamp time.Time
	Frame     []byte
}

// ReadAll reads every frame from a pcap stream written by Writer.
func ReadAll(r io.Reader) ([]Record, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if pr.LinkType() != LinkTypeCEMI {
		return nil, fmt.Errorf("%w: %d", ErrLinkType, pr.LinkType())
	}

	var records []Record
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("read packet %d: %w", len(records), err)
		}
		records = append(records, Record{Timestamp: ci.Timestamp, Frame: data})
	}
}

// ReadFile reads every frame from the pcap file at path.
func ReadFile(path string) ([]Record, error) {
	file, err := os.Open(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("open pcap file: %w", err)
	}
	defer file.Close()
	return ReadAll(file)
}
