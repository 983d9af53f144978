package types

// Version is the canonical project version, reported by the CLI and stamped
// into every session report.
const Version = "0.1.0"

// RecordVersion is the version of the msgpack message record layout written
// by the ipc sink. Bumped in lockstep with Version.
const RecordVersion = "0.1.0"
