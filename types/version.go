package types

// Version is the canonical keel tool version.
// The CLI, the config schema, and the build report share this version
// per the lockstep versioning policy.
const Version = "0.4.0"
