// Package diagnostic performs the shutdown-time diagnostic PCM dump (spec
// §4.4 dumpDiagnostic, §6 "Diagnostic file", C9 in the component table).
// The accumulated bytes themselves live in the playback buffer (C4); this
// package only owns the default output path and a Dump helper that writes
// to it. The session controller's shutdown calls DumpDiagnostic directly
// with its configured path rather than going through Dump.
package diagnostic

// DefaultPath is where the raw PCM dump is written on an orderly shutdown
// (spec §6: "32-bit float, 24 kHz, mono, little-endian. No header.").
const DefaultPath = "./output.pcm"

// Dumper is satisfied by *playback.Buffer; declared here so this package
// does not need to import playback, keeping the dependency direction
// shutdown-orchestration -> buffer rather than the reverse.
type Dumper interface {
	DumpDiagnostic(path string) error
}

// Dump writes the diagnostic PCM to DefaultPath, no-op if nothing was
// accumulated (spec §4.4).
func Dump(d Dumper) error {
	return d.DumpDiagnostic(DefaultPath)
}
