package etsimport

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

// Parser configuration constants.
const (
	// MaxFileSize is the maximum allowed file size (50MB).
	MaxFileSize = 50 * 1024 * 1024

	// Format constants.
	formatKNXProj = "knxproj"
	formatXML     = "xml"
	formatCSV     = "csv"

	// rangeSeparator joins group range names into a location path.
	rangeSeparator = " > "
)

// utf8BOM is written by ETS at the start of CSV exports.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var reToolVersion = regexp.MustCompile(`ToolVersion="([^"]+)"`)

// Parser parses ETS project files into group address tables.
type Parser struct {
	maxFileSize int
}

// NewParser creates a parser with the default size limit.
func NewParser() *Parser {
	return &Parser{maxFileSize: MaxFileSize}
}

// ParseFile reads and parses an ETS export from disk.
func (p *Parser) ParseFile(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if info.Size() > int64(p.maxFileSize) {
		return nil, ErrFileTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return p.ParseBytes(data, path)
}

// ParseBytes parses an ETS export from a byte slice.
//
// The format is chosen from the filename extension, or detected from the
// content when the extension is not one of .knxproj, .xml or .csv.
//
// Parameters:
//   - data: File content
//   - filename: Original file name, used for format detection and reporting
//
// Returns:
//   - *Result: Group addresses and warnings
//   - error: ErrFileTooLarge, ErrCorruptArchive, ErrInvalidFile or ErrNoGroupAddresses
func (p *Parser) ParseBytes(data []byte, filename string) (*Result, error) {
	if len(data) > p.maxFileSize {
		return nil, ErrFileTooLarge
	}

	result := &Result{}
	if filename != "" {
		result.SourceFile = filepath.Base(filename)
	}
	b := newBuilder(result)

	var format string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".knxproj":
		format = formatKNXProj
	case ".xml":
		format = formatXML
	case ".csv":
		format = formatCSV
	default:
		switch {
		case isZipFile(data):
			format = formatKNXProj
		case isXMLFile(data):
			format = formatXML
		default:
			format = formatCSV
		}
	}

	var err error
	switch format {
	case formatKNXProj:
		err = p.parseKNXProj(data, b)
	case formatXML:
		err = p.parseXML(data, b)
	default:
		err = p.parseCSV(data, b)
	}
	if err != nil {
		return nil, err
	}

	result.Format = format
	b.finish()
	return result, nil
}

// parseKNXProj extracts and parses a .knxproj ZIP archive. A dedicated
// GroupAddresses.xml wins over the group ranges inside the project XML.
func (p *Parser) parseKNXProj(data []byte, b *builder) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}

	var groupAddressesXML []byte
	var projectXML []byte

	for _, file := range reader.File {
		name := strings.ToLower(filepath.Base(file.Name))

		switch {
		case name == "groupaddresses.xml":
			content, err := p.readZipFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file.Name, err)
			}
			groupAddressesXML = content

		case name == "0.xml" && projectXML == nil:
			content, err := p.readZipFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file.Name, err)
			}
			projectXML = content

		case name == "project.xml":
			content, err := p.readZipFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file.Name, err)
			}
			b.result.ETSVersion = extractETSVersion(content)
		}
	}

	switch {
	case groupAddressesXML != nil:
		return p.parseGroupAddressesXML(groupAddressesXML, b)
	case projectXML != nil:
		return p.parseProjectXML(projectXML, b)
	default:
		return ErrNoGroupAddresses
	}
}

// xmlGroupAddress is a GroupAddress element as ETS writes it in both the
// group address export and the project XML.
type xmlGroupAddress struct {
	Address string `xml:"Address,attr"`
	Name    string `xml:"Name,attr"`
	DPT     string `xml:"DatapointType,attr"`
	DPTs    string `xml:"DPTs,attr"`
}

func (a xmlGroupAddress) datapointType() string {
	if a.DPT != "" {
		return a.DPT
	}
	return a.DPTs
}

type xmlGroupRange struct {
	Name      string            `xml:"Name,attr"`
	Ranges    []xmlGroupRange   `xml:"GroupRange"`
	Addresses []xmlGroupAddress `xml:"GroupAddress"`
}

// addRanges walks nested group ranges, recording the range path of each
// address as its location.
func addRanges(b *builder, ranges []xmlGroupRange, path string) {
	for _, r := range ranges {
		currentPath := r.Name
		if path != "" {
			currentPath = path + rangeSeparator + r.Name
		}
		for _, addr := range r.Addresses {
			b.add(addr.Address, addr.Name, addr.datapointType(), currentPath)
		}
		addRanges(b, r.Ranges, currentPath)
	}
}

// parseGroupAddressesXML parses the ETS group address XML export. Both the
// project archive root (GroupAddresses) and the ETS export root
// (GroupAddress-Export) are accepted.
func (p *Parser) parseGroupAddressesXML(data []byte, b *builder) error {
	var doc struct {
		XMLName   xml.Name
		Ranges    []xmlGroupRange   `xml:"GroupRange"`
		Addresses []xmlGroupAddress `xml:"GroupAddress"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if doc.XMLName.Local != "GroupAddresses" && doc.XMLName.Local != "GroupAddress-Export" {
		return fmt.Errorf("%w: unexpected root element %q", ErrInvalidFile, doc.XMLName.Local)
	}

	for _, addr := range doc.Addresses {
		b.add(addr.Address, addr.Name, addr.datapointType(), "")
	}
	addRanges(b, doc.Ranges, "")

	if b.count() == 0 {
		return ErrNoGroupAddresses
	}
	return nil
}

// parseProjectXML parses the group ranges of an ETS project file (0.xml),
// where addresses are written as 16-bit integers.
func (p *Parser) parseProjectXML(data []byte, b *builder) error {
	var doc struct {
		XMLName xml.Name        `xml:"KNX"`
		Ranges  []xmlGroupRange `xml:"Project>Installations>Installation>GroupAddresses>GroupRanges>GroupRange"`
	}
	if err := xml.Unmarshal(data, &doc); err != nil {
		return p.parseGenericXML(data, b)
	}

	addRanges(b, doc.Ranges, "")

	if b.count() == 0 {
		return p.parseGenericXML(data, b)
	}
	return nil
}

// parseXML parses a standalone XML export. Anything that is neither a
// group address export nor a project file falls through to the generic scan.
func (p *Parser) parseXML(data []byte, b *builder) error {
	if err := p.parseGroupAddressesXML(data, b); err == nil {
		return nil
	}
	return p.parseProjectXML(data, b)
}

// parseGenericXML scans every element for group address attributes. Only
// GroupAddress elements and elements carrying a datapoint type are taken,
// so topology addresses in project files are not mistaken for groups.
func (p *Parser) parseGenericXML(data []byte, b *builder) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidFile, err)
		}

		se, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		var addr, name, dptAttr string
		for _, attr := range se.Attr {
			switch attr.Name.Local {
			case "Address":
				addr = attr.Value
			case "Name":
				name = attr.Value
			case "DatapointType", "DPT", "DPTs":
				if dptAttr == "" {
					dptAttr = attr.Value
				}
			}
		}
		if addr == "" || (se.Name.Local != "GroupAddress" && dptAttr == "") {
			continue
		}
		b.add(addr, name, dptAttr, "")
	}

	if b.count() == 0 {
		return ErrNoGroupAddresses
	}
	return nil
}

// parseCSV parses a CSV export of group addresses. The first line must be
// a header naming at least the address column.
func (p *Parser) parseCSV(data []byte, b *builder) error {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrNoGroupAddresses
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if len(records) < 2 {
		return ErrNoGroupAddresses
	}

	colIndex := make(map[string]int)
	for i, col := range records[0] {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	addrCol := findColumn(colIndex, "address", "groupaddress", "group address", "ga")
	if addrCol == -1 {
		return fmt.Errorf("%w: no address column in CSV header", ErrInvalidFile)
	}
	nameCol := findColumn(colIndex, "name", "group name", "description", "bezeichnung")
	dptCol := findColumn(colIndex, "datapointtype", "datapoint type", "dpt", "datapoint")

	for _, fields := range records[1:] {
		addr := field(fields, addrCol)
		// Range rows in ETS exports look like "1/-/-".
		if addr == "" || strings.Contains(addr, "-") {
			continue
		}
		b.add(addr, field(fields, nameCol), field(fields, dptCol), "")
	}

	if b.count() == 0 {
		return ErrNoGroupAddresses
	}
	return nil
}

// detectDelimiter picks the most frequent of tab, semicolon and comma on
// the header line.
func detectDelimiter(data []byte) rune {
	header, _, _ := bytes.Cut(data, []byte("\n"))
	best, bestCount := ',', bytes.Count(header, []byte(","))
	for _, r := range []rune{';', '\t'} {
		if n := bytes.Count(header, []byte(string(r))); n > bestCount {
			best, bestCount = r, n
		}
	}
	return best
}

func findColumn(index map[string]int, names ...string) int {
	for _, name := range names {
		if idx, ok := index[name]; ok {
			return idx
		}
	}
	return -1
}

func field(fields []string, col int) string {
	if col < 0 || col >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[col])
}

func (p *Parser) readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, int64(p.maxFileSize)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptArchive, err)
	}
	if len(data) > p.maxFileSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func isZipFile(data []byte) bool {
	return len(data) >= 4 && data[0] == 0x50 && data[1] == 0x4B
}

func isXMLFile(data []byte) bool {
	trimmed := bytes.TrimLeftFunc(bytes.TrimPrefix(data, utf8BOM), unicode.IsSpace)
	return bytes.HasPrefix(trimmed, []byte("<"))
}

// normaliseDPT parses an ETS datapoint type attribute. ETS may list
// several types separated by spaces; the first one is used.
// An empty attribute yields the zero ID and no error.
func normaliseDPT(s string) (dpt.ID, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return dpt.ID{}, nil
	}
	return dpt.ParseID(fields[0])
}

func extractETSVersion(data []byte) string {
	if matches := reToolVersion.FindSubmatch(data); len(matches) == 2 {
		return string(matches[1])
	}
	return ""
}
