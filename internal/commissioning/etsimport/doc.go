// Package etsimport reads group addresses out of KNX ETS project exports
// and turns them into a datapoint table.
//
// ETS (Engineering Tool Software) is the standard configuration tool for KNX
// installations. Every group address in an ETS project carries a datapoint
// type, which is exactly what the access port needs to encode writes and
// decode telegrams.
//
// # Supported Formats
//
//   - .knxproj: Native ETS project file (ZIP archive with XML)
//   - .xml: ETS group address XML export
//   - .csv: ETS group address CSV export (comma, semicolon or tab separated)
//
// Files without a known extension are recognised by content.
//
// # Usage
//
//	parser := etsimport.NewParser()
//	result, err := parser.ParseFile("project.knxproj")
//	if err != nil {
//	    return err
//	}
//	for _, w := range result.Warnings {
//	    log.Warn("import warning", "code", w.Code, "ga", w.Address, "message", w.Message)
//	}
//	cfg.Datapoints = result.Datapoints()
//
// Addresses without a usable datapoint type are kept in the result with a
// warning but are left out of Datapoints.
package etsimport
