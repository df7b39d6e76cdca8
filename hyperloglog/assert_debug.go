//go:build hlldebug

package hyperloglog

// debugAssertions enables internal invariant checks on every insertion and
// register write. Build with -tags hlldebug.
const debugAssertions = true
