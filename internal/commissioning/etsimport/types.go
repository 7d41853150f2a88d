package etsimport

import (
	"sort"
	"strings"

	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

// Result contains the group addresses found in an ETS export.
type Result struct {
	// SourceFile is the base name of the parsed file.
	SourceFile string `json:"source_file"`

	// Format is the detected format: "knxproj", "xml" or "csv".
	Format string `json:"format"`

	// ETSVersion is the tool version recorded in a .knxproj, if any.
	ETSVersion string `json:"ets_version,omitempty"`

	// Addresses are the group addresses in address order, one per address.
	Addresses []Address `json:"addresses"`

	// Warnings are non-fatal issues found while parsing.
	Warnings []Warning `json:"warnings,omitempty"`
}

// Address is one group address from the project.
type Address struct {
	Address knx.GroupAddress `json:"address"`
	Name    string           `json:"name,omitempty"`

	// DPT is the zero ID when the project assigns no supported type.
	DPT dpt.ID `json:"dpt,omitzero"`

	// Location is the group range path, e.g. "Lighting > Kitchen".
	Location string `json:"location,omitempty"`
}

// HasDPT reports whether the address carries a supported datapoint type.
func (a Address) HasDPT() bool {
	return a.DPT.Family().Valid()
}

// Warning describes a non-fatal parse issue.
type Warning struct {
	Code    string `json:"code"`
	Address string `json:"address,omitempty"`
	Message string `json:"message"`
}

// Datapoints returns the addresses that have a supported datapoint type,
// in the form used by the datapoints section of the configuration.
func (r *Result) Datapoints() []config.DatapointConfig {
	out := make([]config.DatapointConfig, 0, len(r.Addresses))
	for _, a := range r.Addresses {
		if !a.HasDPT() {
			continue
		}
		out = append(out, config.DatapointConfig{
			Address: a.Address.String(),
			DPT:     a.DPT.String(),
			Name:    a.Name,
		})
	}
	return out
}

// Typed returns the number of addresses with a supported datapoint type.
func (r *Result) Typed() int {
	n := 0
	for _, a := range r.Addresses {
		if a.HasDPT() {
			n++
		}
	}
	return n
}

// builder accumulates addresses, dropping duplicates with a warning.
type builder struct {
	result *Result
	seen   map[knx.GroupAddress]bool
}

func newBuilder(result *Result) *builder {
	return &builder{result: result, seen: make(map[knx.GroupAddress]bool)}
}

// add records one raw address. Unparseable addresses are warned about and
// skipped; a missing or unsupported type is warned about but kept.
func (b *builder) add(rawAddr, name, rawDPT, location string) {
	ga, err := knx.ParseGroupAddress(rawAddr)
	if err != nil {
		b.warn(WarnInvalidAddress, rawAddr, err.Error())
		return
	}
	if b.seen[ga] {
		b.warn(WarnDuplicateGA, ga.String(), "duplicate group address, keeping the first")
		return
	}
	b.seen[ga] = true

	a := Address{Address: ga, Name: name, Location: location}
	a.DPT, err = normaliseDPT(rawDPT)
	switch {
	case strings.TrimSpace(rawDPT) == "":
		b.warn(WarnMissingDPT, ga.String(), "no datapoint type assigned")
	case err != nil:
		b.warn(WarnDPTUnsupported, ga.String(), err.Error())
	}
	b.result.Addresses = append(b.result.Addresses, a)
}

func (b *builder) warn(code, addr, msg string) {
	b.result.Warnings = append(b.result.Warnings, Warning{Code: code, Address: addr, Message: msg})
}

func (b *builder) count() int {
	return len(b.result.Addresses)
}

// finish sorts the addresses numerically.
func (b *builder) finish() {
	sort.Slice(b.result.Addresses, func(i, j int) bool {
		return b.result.Addresses[i].Address < b.result.Addresses[j].Address
	})
}
