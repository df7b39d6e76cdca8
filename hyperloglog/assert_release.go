//go:build !hlldebug

package hyperloglog

const debugAssertions = false
