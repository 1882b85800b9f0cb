//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical project version.
// The CLI, the session manifest, and the streaming header share it.
const Version = "0.4.0"

// ManifestVersion is the schema version written into session manifests.
// It tracks Version in lockstep.
const ManifestVersion = Version

// DeviceType identifies this producer in the streaming packet header.
const DeviceType uint32 = 1
