// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mode tracks the agent's permission mode.
//
// The agent CLI has no programmatic mode-set API: the only way to change
// its permission mode is to emit the mode-cycle keypress into its
// interactive input, once per step, and wait for the agent to echo the
// new mode back in a system event. This package owns the confirmed mode
// and computes the keypress sequence for a requested mode; it never
// assumes a request succeeded.
package mode

import (
	"errors"
	"sync"
)

// Mode is one of the agent's permission modes.
type Mode string

const (
	// Ask is the default mode: every tool action prompts for approval.
	Ask Mode = "ask"
	// AutoEdit auto-approves file edits but still prompts for commands.
	AutoEdit Mode = "autoEdit"
	// Plan disallows all mutations; the agent only plans.
	Plan Mode = "plan"
)

// cycle is the fixed order the agent steps through on each advance keypress.
var cycle = [...]Mode{Ask, AutoEdit, Plan}

// AdvanceSequence is the keypress the agent binds to "cycle permission
// mode": reverse-tab (ESC [ Z). One write advances the cycle by one step.
var AdvanceSequence = []byte{0x1b, '[', 'Z'}

// ErrUnknownMode is returned when a reported mode string matches no known
// mode or alias. Callers should surface this rather than coerce to a
// default, so protocol drift in the agent is visible.
var ErrUnknownMode = errors.New("unknown permission mode")

// Normalize maps a wire-format mode string (including aliases the agent
// uses in different event types) to its canonical Mode.
func Normalize(s string) (Mode, error) {
	switch s {
	case "ask", "default":
		return Ask, nil
	case "autoEdit", "auto-edit", "acceptEdits":
		return AutoEdit, nil
	case "plan":
		return Plan, nil
	}
	return "", ErrUnknownMode
}

// index returns the position of m in the cycle.
func index(m Mode) int {
	for i, c := range cycle {
		if c == m {
			return i
		}
	}
	return 0
}

// Machine tracks the agent's confirmed permission mode for one process.
//
// The machine is updated only from the agent's own reports (system
// events); RequestChange emits keypresses but never mutates state. The
// asymmetry is deliberate: the machine has influence over the agent,
// not authority.
type Machine struct {
	mu       sync.Mutex
	current  Mode
	onChange func(Mode)
}

// NewMachine creates a machine starting in Ask. onChange is invoked,
// synchronously and outside the lock, whenever Update applies a new mode.
// It may be nil.
func NewMachine(onChange func(Mode)) *Machine {
	return &Machine{
		current:  Ask,
		onChange: onChange,
	}
}

// Current returns the confirmed mode.
func (m *Machine) Current() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SetInitial force-sets the mode without firing onChange. Bootstrap only,
// for seeding from config before the agent has reported anything.
func (m *Machine) SetInitial(reported string) error {
	mode, err := Normalize(reported)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.current = mode
	m.mu.Unlock()
	return nil
}

// Update applies a mode reported by the agent. If the reported mode
// differs from the current one, the machine updates and fires onChange;
// an equal report is a no-op. An unknown mode string returns
// ErrUnknownMode and leaves the state untouched.
func (m *Machine) Update(reported string) error {
	mode, err := Normalize(reported)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.current == mode {
		m.mu.Unlock()
		return nil
	}
	m.current = mode
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(mode)
	}
	return nil
}

// RequestChange asks the agent to move to the target mode by writing the
// advance keypress once per cyclic step, in order, synchronously. It
// returns false without writing anything when write is nil or the target
// equals the current mode. The machine's state is NOT changed here — the
// new mode takes effect only when the agent echoes it back through
// Update.
func (m *Machine) RequestChange(target string, write func([]byte) error) (bool, error) {
	mode, err := Normalize(target)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	if write == nil || mode == current {
		return false, nil
	}

	// Forward cyclic distance from current to target.
	d := (index(mode) - index(current) + len(cycle)) % len(cycle)
	for i := 0; i < d; i++ {
		if err := write(AdvanceSequence); err != nil {
			return false, err
		}
	}
	return true, nil
}
