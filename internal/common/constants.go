package common

import "math"

// HeaderSize is the length of the big-endian length prefix.
const HeaderSize = 4

// NotFound is the length sent when the server has no file to offer.
const NotFound uint32 = 0

// MaxPayloadSize is the largest payload a length prefix can describe.
const MaxPayloadSize = math.MaxUint32

// Defaults used when no address or path is configured.
const (
	DefaultAddress    = "127.0.0.1:8080"
	DefaultSourcePath = "example.txt"
	DefaultOutputPath = "received_example.txt"
)
