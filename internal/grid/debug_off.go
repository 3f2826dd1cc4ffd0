//go:build !griddebug

package grid

const debugChecks = false
