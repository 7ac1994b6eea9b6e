package protocol

// Protocol versions. Each version pins a transfer strategy; sender and
// receiver must be built with a matching version set or the session aborts
// before any content is exchanged.
const (
	VersionChunked = "2.1.1"
	VersionWhole   = "1.2.0"
	VersionArchive = "1.3.0"
)

// Wire tags. The manifest travels exactly once on TagManifest; all content
// messages follow on TagContent in strict declaration order.
const (
	TagManifest uint8 = 0
	TagContent  uint8 = 1
)

// DefaultChunkSize is the chunk size used when the CLI does not override it.
const DefaultChunkSize = 5 * 1024 * 1024

type Mode int

const (
	// ModeChunked streams each file as independently compressed chunks.
	ModeChunked Mode = iota
	// ModeWhole sends each file as a single compressed message.
	ModeWhole
	// ModeArchive packs each directory argument into one tar blob.
	ModeArchive
)

func (m Mode) Version() string {
	switch m {
	case ModeWhole:
		return VersionWhole
	case ModeArchive:
		return VersionArchive
	default:
		return VersionChunked
	}
}

func (m Mode) String() string {
	switch m {
	case ModeChunked:
		return "chunked"
	case ModeWhole:
		return "whole"
	case ModeArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// ModeForVersion maps a manifest version to its transfer strategy.
func ModeForVersion(version string) (Mode, bool) {
	switch version {
	case VersionChunked:
		return ModeChunked, true
	case VersionWhole:
		return ModeWhole, true
	case VersionArchive:
		return ModeArchive, true
	default:
		return 0, false
	}
}

// ParseMode maps the CLI mode flag to a strategy.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "chunked":
		return ModeChunked, true
	case "whole":
		return ModeWhole, true
	case "archive":
		return ModeArchive, true
	default:
		return 0, false
	}
}
