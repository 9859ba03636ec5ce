// Package bitmath provides bit-scan primitives over 256-bit words, used by
// the tick bitmap to locate initialized ticks in constant time per word.
package bitmath
