package registry

// Usage restricts which programs should accept a given backend.
//
// Backends are linked at build time: a backend registers itself via init(),
// and is enabled in a binary by importing the backend package (often as a
// blank import).
type Usage uint8

const (
	// UsageCLI marks backends the orchestrating CLI may target.
	UsageCLI Usage = 1 << iota
	// UsageDaemon marks backends routeplaned may host and serve.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }
