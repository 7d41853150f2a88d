package etsimport

import "errors"

// Sentinel errors for ETS import operations.
var (
	// ErrInvalidFile indicates the file is not a valid ETS export.
	ErrInvalidFile = errors.New("invalid ETS project file")

	// ErrCorruptArchive indicates the ZIP archive is corrupted.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrNoGroupAddresses indicates no group addresses were found.
	ErrNoGroupAddresses = errors.New("no group addresses found in project")

	// ErrFileTooLarge indicates the file exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")
)

// Warning codes for non-fatal parse issues.
const (
	WarnMissingDPT     = "MISSING_DPT"
	WarnDPTUnsupported = "DPT_UNSUPPORTED"
	WarnDuplicateGA    = "DUPLICATE_GA"
	WarnInvalidAddress = "INVALID_ADDRESS"
)
