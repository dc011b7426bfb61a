// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package processor

import (
	"fmt"
	"slices"
)

// State is the lifecycle position of one file.
type State int

const (
	StateIdle State = iota
	StateReading
	StateAggregating
	StateFlushing
	StateClosed
	StateErrored
	StateSkipped
)

var stateNames = [...]string{"idle", "reading", "aggregating", "flushing", "closed", "errored", "skipped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored || s == StateSkipped
}

var transitions = map[State][]State{
	StateIdle:        {StateReading, StateSkipped},
	StateReading:     {StateAggregating, StateErrored},
	StateAggregating: {StateFlushing, StateErrored},
	StateFlushing:    {StateClosed, StateErrored},
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// fileState tracks one file's state. Only the worker owning the file
// touches it.
type fileState struct {
	path  string
	state State
}

// to moves to next. An illegal move is a bug in the pipeline and panics.
func (f *fileState) to(next State) {
	if !canTransition(f.state, next) {
		panic(fmt.Sprintf("processor: illegal state transition %s -> %s for %s", f.state, next, f.path))
	}
	f.state = next
}

// fail moves to StateErrored from any non-terminal working state.
func (f *fileState) fail() {
	f.to(StateErrored)
}
