// Package quest computes the availability of recurring game tasks.
//
// Evaluate is a pure function of a reset policy, the recorded completion
// state and the current game time. It performs no I/O and holds no state.
package quest
