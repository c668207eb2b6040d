// Package app provides the live session coordination layer.
//
// Composes session lifecycle, discovery polling, the credential guard, the join
// sequencer and the auto-join policy into per-participant orchestrators.
// Depends on domain interfaces, not concrete implementations.
package app
