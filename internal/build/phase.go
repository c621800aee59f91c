// SPDX-License-Identifier: MPL-2.0

package build

import "fmt"

// Phase values in the order a full build passes through them. A build whose
// resolution is empty jumps from PhaseResolved straight to PhaseDone.
const (
	PhaseIdle Phase = iota
	PhaseParsed
	PhaseResolved
	PhaseInstalled
	PhaseCollected
	PhaseAliasTableReady
	PhaseDone
)

// Phase is a state of the build state machine.
type Phase int

var phaseNames = [...]string{
	PhaseIdle:            "idle",
	PhaseParsed:          "parsed",
	PhaseResolved:        "resolved",
	PhaseInstalled:       "installed",
	PhaseCollected:       "collected",
	PhaseAliasTableReady: "alias-table-ready",
	PhaseDone:            "done",
}

// String returns the lower-case phase name.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText encodes the phase by name for json, yaml and toml reports.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// canAdvance reports whether the state machine allows from -> to.
func canAdvance(from, to Phase) bool {
	if from == PhaseResolved && to == PhaseDone {
		return true
	}
	return to == from+1
}
