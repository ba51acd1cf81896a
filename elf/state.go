package elf

import "fmt"

// State is the load phase a module has reached.
type State int

const (
	StateUnloaded State = iota
	StateImageOpened
	StateHeaderValidated
	StateSegmentsPlaced
	StateDynamicParsed
	StateSymbolsChecked
	StateEntriesExtracted
	StateRegistered
	StateRelocated
	StateReady
	StateError
)

var stateNames = [...]string{
	StateUnloaded:         "unloaded",
	StateImageOpened:      "image-opened",
	StateHeaderValidated:  "header-validated",
	StateSegmentsPlaced:   "segments-placed",
	StateDynamicParsed:    "dynamic-parsed",
	StateSymbolsChecked:   "symbols-checked",
	StateEntriesExtracted: "entries-extracted",
	StateRegistered:       "registered",
	StateRelocated:        "relocated",
	StateReady:            "ready",
	StateError:            "error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}
