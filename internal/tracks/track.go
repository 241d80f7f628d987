// Package tracks reads reconstructed tracks in ordered batches.
package tracks

// Track carries the kinematics and the TPC measurement the response model
// needs. Momenta are in GeV/c; TPCInnerParam is the momentum over charge at
// the inner wall of the TPC.
type Track struct {
	P             float64
	TPCInnerParam float64
	TPCSignal     float64
}
