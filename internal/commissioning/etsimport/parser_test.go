package etsimport

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

// buildKNXProj creates an in-memory .knxproj archive from name/content pairs.
func buildKNXProj(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("Failed to create zip entry: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("Failed to write zip content: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func addressStrings(r *Result) []string {
	out := make([]string, len(r.Addresses))
	for i, a := range r.Addresses {
		out[i] = a.Address.String()
	}
	return out
}

func warningCodes(r *Result) map[string]string {
	out := make(map[string]string, len(r.Warnings))
	for _, w := range r.Warnings {
		out[w.Address] = w.Code
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNormaliseDPT(t *testing.T) {
	tests := []struct {
		input   string
		want    dpt.ID
		wantErr bool
	}{
		{"DPST-1-1", dpt.ID{Main: 1, Sub: 1}, false},
		{"DPST-5-1", dpt.ID{Main: 5, Sub: 1}, false},
		{"DPST-14-68", dpt.ID{Main: 14, Sub: 68}, false},
		{"DPST-9-1 DPST-9-2", dpt.ID{Main: 9, Sub: 1}, false},
		{"DPT-5", dpt.ID{Main: 5}, false},
		{"9.001", dpt.ID{Main: 9, Sub: 1}, false},
		{"", dpt.ID{}, false},
		{"  ", dpt.ID{}, false},
		{"DPST-20-102", dpt.ID{}, true},
		{"switch", dpt.ID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := normaliseDPT(tt.input)
			if tt.wantErr {
				if !errors.Is(err, dpt.ErrUnknownDPT) {
					t.Errorf("normaliseDPT(%q) error = %v, want ErrUnknownDPT", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normaliseDPT(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("normaliseDPT(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  rune
	}{
		{"comma", "\"Address\",\"Name\",\"DPT\"\n1/2/3;x,y", ','},
		{"semicolon", "\"Group name\";\"Address\";\"DatapointType\"\n", ';'},
		{"tab", "Address\tName\tDPT\n", '\t'},
		{"single column", "Address\n1/2/3\n", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectDelimiter([]byte(tt.input)); got != tt.want {
				t.Errorf("detectDelimiter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	csv := `"Address","Name","DatapointType"
"1/0/0","Kitchen Light Switch","DPST-1-1"
"1/0/1","Kitchen Light Dimming","DPST-5-1"
"1/0/2","Kitchen Light Status","DPST-1-1"
`

	parser := NewParser()
	result, err := parser.ParseBytes([]byte(csv), "test.csv")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	if result.Format != "csv" {
		t.Errorf("Format = %q, want %q", result.Format, "csv")
	}
	if result.SourceFile != "test.csv" {
		t.Errorf("SourceFile = %q, want %q", result.SourceFile, "test.csv")
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", result.Warnings)
	}

	want := []config.DatapointConfig{
		{Address: "1/0/0", DPT: "1.001", Name: "Kitchen Light Switch"},
		{Address: "1/0/1", DPT: "5.001", Name: "Kitchen Light Dimming"},
		{Address: "1/0/2", DPT: "1.001", Name: "Kitchen Light Status"},
	}
	got := result.Datapoints()
	if len(got) != len(want) {
		t.Fatalf("Datapoints() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Datapoints()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseCSV_ETSExport(t *testing.T) {
	// ETS writes a BOM, semicolons and a row per group range.
	csv := "\xEF\xBB\xBF" + `"Group name";"Address";"Central";"Unfiltered";"Description";"DatapointType";"Security"
"Lighting";"1/-/-";"";"";"";"";"Auto"
"Kitchen";"1/0/-";"";"";"";"";"Auto"
"Kitchen Temperature";"1/0/2";"";"";"Wall sensor";"DPST-9-1";"Auto"
"Kitchen Scene";"1/0/1";"";"";"";"";"Auto"
"Kitchen Light Switch";"1/0/0";"";"";"";"DPST-1-1";"Auto"
"Kitchen Light Switch copy";"1/0/0";"";"";"";"DPST-1-1";"Auto"
"Kitchen Colour";"1/0/3";"";"";"";"DPST-232-600";"Auto"
"Bad";"32/0/0";"";"";"";"DPST-1-1";"Auto"
`

	result, err := NewParser().ParseBytes([]byte(csv), "export.csv")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	wantAddrs := []string{"1/0/0", "1/0/1", "1/0/2", "1/0/3"}
	if got := addressStrings(result); !equalStrings(got, wantAddrs) {
		t.Errorf("addresses = %v, want %v", got, wantAddrs)
	}
	if result.Addresses[0].Name != "Kitchen Light Switch" {
		t.Errorf("duplicate kept %q, want the first row", result.Addresses[0].Name)
	}
	if result.Addresses[2].DPT != dpt.Temperature {
		t.Errorf("1/0/2 DPT = %v, want %v", result.Addresses[2].DPT, dpt.Temperature)
	}

	codes := warningCodes(result)
	wantCodes := map[string]string{
		"1/0/1":  WarnMissingDPT,
		"1/0/0":  WarnDuplicateGA,
		"1/0/3":  WarnDPTUnsupported,
		"32/0/0": WarnInvalidAddress,
	}
	for addr, code := range wantCodes {
		if codes[addr] != code {
			t.Errorf("warning for %s = %q, want %q", addr, codes[addr], code)
		}
	}
	if len(result.Warnings) != len(wantCodes) {
		t.Errorf("got %d warnings, want %d: %v", len(result.Warnings), len(wantCodes), result.Warnings)
	}

	if result.Typed() != 2 {
		t.Errorf("Typed() = %d, want 2", result.Typed())
	}
	if n := len(result.Datapoints()); n != 2 {
		t.Errorf("len(Datapoints()) = %d, want 2", n)
	}
}

func TestParseCSV_NoAddressColumn(t *testing.T) {
	csv := "Name,DPT\nKitchen,DPST-1-1\n"
	_, err := NewParser().ParseBytes([]byte(csv), "test.csv")
	if !errors.Is(err, ErrInvalidFile) {
		t.Errorf("Expected ErrInvalidFile, got %v", err)
	}
}

func TestParseXML(t *testing.T) {
	xml := `<?xml version="1.0" encoding="utf-8"?>
<GroupAddresses>
  <GroupRange Name="Lighting" Address="1">
    <GroupRange Name="Kitchen" Address="0">
      <GroupAddress Id="GA-1" Address="1/0/0" Name="Kitchen Light Switch" DatapointType="DPST-1-1"/>
      <GroupAddress Id="GA-2" Address="1/0/1" Name="Kitchen Light Dimming" DatapointType="DPST-5-1"/>
    </GroupRange>
  </GroupRange>
</GroupAddresses>`

	result, err := NewParser().ParseBytes([]byte(xml), "test.xml")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	if result.Format != "xml" {
		t.Errorf("Format = %q, want %q", result.Format, "xml")
	}
	if len(result.Addresses) != 2 {
		t.Fatalf("got %d addresses, want 2", len(result.Addresses))
	}
	for _, a := range result.Addresses {
		if a.Location != "Lighting > Kitchen" {
			t.Errorf("%s Location = %q, want %q", a.Address, a.Location, "Lighting > Kitchen")
		}
	}
	if result.Addresses[1].DPT != dpt.Scaling {
		t.Errorf("1/0/1 DPT = %v, want %v", result.Addresses[1].DPT, dpt.Scaling)
	}
}

func TestParseXML_GroupAddressExport(t *testing.T) {
	xml := `<?xml version="1.0" encoding="utf-8" standalone="yes"?>
<GroupAddress-Export xmlns="http://knx.org/xml/ga-export/01">
  <GroupRange Name="Heating" RangeStart="2048" RangeEnd="4095">
    <GroupRange Name="Living" RangeStart="2304" RangeEnd="2559">
      <GroupAddress Name="Living Setpoint" Address="1/1/1" DPTs="DPST-9-1" />
      <GroupAddress Name="Living Valve" Address="1/1/2" DPTs="DPST-5-1 DPST-5-4" />
    </GroupRange>
  </GroupRange>
</GroupAddress-Export>`

	result, err := NewParser().ParseBytes([]byte(xml), "export.xml")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	want := []config.DatapointConfig{
		{Address: "1/1/1", DPT: "9.001", Name: "Living Setpoint"},
		{Address: "1/1/2", DPT: "5.001", Name: "Living Valve"},
	}
	got := result.Datapoints()
	if len(got) != len(want) {
		t.Fatalf("Datapoints() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Datapoints()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if result.Addresses[0].Location != "Heating > Living" {
		t.Errorf("Location = %q, want %q", result.Addresses[0].Location, "Heating > Living")
	}
}

func TestParseXML_Generic(t *testing.T) {
	xml := `<Export>
  <Topology><Area Address="1"><Line Address="1"/></Area></Topology>
  <Item Address="1/2/3" Name="Outdoor Temperature" DPT="9.001"/>
  <Group><GroupAddress Address="1/2/4" Name="Untyped"/></Group>
</Export>`

	result, err := NewParser().ParseBytes([]byte(xml), "custom.xml")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	wantAddrs := []string{"1/2/3", "1/2/4"}
	if got := addressStrings(result); !equalStrings(got, wantAddrs) {
		t.Errorf("addresses = %v, want %v", got, wantAddrs)
	}
	if codes := warningCodes(result); codes["1/2/4"] != WarnMissingDPT {
		t.Errorf("warnings = %v, want MISSING_DPT for 1/2/4", result.Warnings)
	}
}

func TestParseKNXProj(t *testing.T) {
	gaXML := `<?xml version="1.0" encoding="utf-8"?>
<GroupAddresses>
  <GroupRange Name="Lighting" Address="1">
    <GroupAddress Id="GA-1" Address="1/1/0" Name="Living Room Light Switch" DatapointType="DPST-1-1"/>
    <GroupAddress Id="GA-2" Address="1/1/1" Name="Living Room Light Brightness" DatapointType="DPST-5-1"/>
  </GroupRange>
  <GroupRange Name="Blinds" Address="2">
    <GroupAddress Id="GA-4" Address="2/1/0" Name="Living Room Blind Move" DatapointType="DPST-1-8"/>
  </GroupRange>
</GroupAddresses>`
	projectXML := `<?xml version="1.0" encoding="utf-8"?>
<KNX xmlns="http://knx.org/xml/project/21" CreatedBy="ETS6" ToolVersion="6.1.5410.0"></KNX>`

	data := buildKNXProj(t, map[string]string{
		"P-TEST/GroupAddresses.xml": gaXML,
		"P-TEST/project.xml":        projectXML,
	})

	result, err := NewParser().ParseBytes(data, "test.knxproj")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	if result.Format != "knxproj" {
		t.Errorf("Format = %q, want %q", result.Format, "knxproj")
	}
	if result.ETSVersion != "6.1.5410.0" {
		t.Errorf("ETSVersion = %q, want %q", result.ETSVersion, "6.1.5410.0")
	}
	wantAddrs := []string{"1/1/0", "1/1/1", "2/1/0"}
	if got := addressStrings(result); !equalStrings(got, wantAddrs) {
		t.Errorf("addresses = %v, want %v", got, wantAddrs)
	}
	if result.Addresses[2].DPT != (dpt.ID{Main: 1, Sub: 8}) {
		t.Errorf("2/1/0 DPT = %v, want 1.008", result.Addresses[2].DPT)
	}
}

func TestParseKNXProj_ProjectXML(t *testing.T) {
	// ETS project files store group addresses as 16-bit integers.
	projectXML := `<?xml version="1.0" encoding="utf-8"?>
<KNX xmlns="http://knx.org/xml/project/21" CreatedBy="ETS6" ToolVersion="6.1.0">
  <Project Id="P-0001">
    <Installations>
      <Installation Name="">
        <Topology>
          <Area Address="1"><Line Address="1"><DeviceInstance Address="5"/></Line></Area>
        </Topology>
        <GroupAddresses>
          <GroupRanges>
            <GroupRange Name="Heating">
              <GroupRange Name="Living">
                <GroupAddress Id="P-0001-0_GA-1" Address="2305" Name="Living Setpoint" DatapointType="DPST-9-1"/>
                <GroupAddress Id="P-0001-0_GA-2" Address="2306" Name="Living Actual" DatapointType="DPST-9-1"/>
              </GroupRange>
            </GroupRange>
          </GroupRanges>
        </GroupAddresses>
      </Installation>
    </Installations>
  </Project>
</KNX>`

	data := buildKNXProj(t, map[string]string{"P-0001/0.xml": projectXML})

	// No extension: detected from the ZIP signature.
	result, err := NewParser().ParseBytes(data, "")
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	if result.Format != "knxproj" {
		t.Errorf("Format = %q, want %q", result.Format, "knxproj")
	}
	if result.SourceFile != "" {
		t.Errorf("SourceFile = %q, want empty", result.SourceFile)
	}
	wantAddrs := []string{"1/1/1", "1/1/2"}
	if got := addressStrings(result); !equalStrings(got, wantAddrs) {
		t.Errorf("addresses = %v, want %v", got, wantAddrs)
	}
	if result.Addresses[0].Location != "Heating > Living" {
		t.Errorf("Location = %q, want %q", result.Addresses[0].Location, "Heating > Living")
	}
}

func TestParseKNXProj_NoGroupAddresses(t *testing.T) {
	data := buildKNXProj(t, map[string]string{"knx_master.xml": "<KNX/>"})
	_, err := NewParser().ParseBytes(data, "test.knxproj")
	if !errors.Is(err, ErrNoGroupAddresses) {
		t.Errorf("Expected ErrNoGroupAddresses, got %v", err)
	}
}

func TestParseEmptyFile(t *testing.T) {
	_, err := NewParser().ParseBytes([]byte{}, "empty.csv")
	if !errors.Is(err, ErrNoGroupAddresses) {
		t.Errorf("Expected ErrNoGroupAddresses, got %v", err)
	}
}

func TestParseInvalidZip(t *testing.T) {
	_, err := NewParser().ParseBytes([]byte("not a zip file"), "test.knxproj")
	if !errors.Is(err, ErrCorruptArchive) {
		t.Errorf("Expected ErrCorruptArchive, got %v", err)
	}
}

func TestParseFileTooLarge(t *testing.T) {
	parser := &Parser{maxFileSize: 16}
	_, err := parser.ParseBytes(make([]byte, 17), "large.knxproj")
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Expected ErrFileTooLarge, got %v", err)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.csv")
	csv := "Address;Name;DPT\n1/2/3;Living Temperature;9.001\n"
	if err := os.WriteFile(path, []byte(csv), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := NewParser().ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if result.SourceFile != "addresses.csv" {
		t.Errorf("SourceFile = %q, want %q", result.SourceFile, "addresses.csv")
	}
	got := result.Datapoints()
	want := config.DatapointConfig{Address: "1/2/3", DPT: "9.001", Name: "Living Temperature"}
	if len(got) != 1 || got[0] != want {
		t.Errorf("Datapoints() = %v, want [%v]", got, want)
	}

	if _, err := NewParser().ParseFile(filepath.Join(t.TempDir(), "missing.csv")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want os.ErrNotExist", err)
	}
}
