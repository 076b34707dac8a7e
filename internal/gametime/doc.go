// Package gametime models the game's wall clock.
//
// A Timestamp is a zone-less wall-clock value expressed in the game zone.
// Everything that compares or subtracts times in the quest domain does so on
// Timestamps, so no comparison ever mixes an absolute instant with a
// floating value.
package gametime
