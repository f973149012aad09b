package types

// Version is the gantry semantic version.
// Updated on each release; commit hash is injected separately via ldflags.
const Version = "0.2.0"
