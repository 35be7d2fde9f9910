// Package structure parses creature morphologies: a tree of capsules joined by
// motorized constraints, plus the flags selecting which observation channels
// the creature's controller was trained with.
package structure

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Parse errors reported by Parse and Validate.
var (
	ErrNoRoot        = errors.New("structure has no root capsule")
	ErrMultipleRoots = errors.New("structure has more than one root capsule")
)

// Axis identifies a rotational axis of a constraint.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	NumAxes
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	}
	return "axis(" + strconv.Itoa(int(a)) + ")"
}

// AxisRange is the allowed rotation around one axis, in units of π radians.
type AxisRange struct {
	Enabled bool
	Lower   float64
	Upper   float64
}

// Radians returns the range limits in radians.
func (r AxisRange) Radians() (lower, upper float64) {
	return r.Lower * math.Pi, r.Upper * math.Pi
}

// Constraint joins a capsule to its parent.
type Constraint struct {
	ParentID string
	Axes     [NumAxes]AxisRange
}

// NumMotors returns the number of enabled rotation axes.
func (c *Constraint) NumMotors() int {
	n := 0
	for _, a := range c.Axes {
		if a.Enabled {
			n++
		}
	}
	return n
}

// Capsule is one rigid body of the creature.
type Capsule struct {
	ID          string
	InnerHeight float64 // cylinder length between the hemispherical caps
	Radius      float64
	Position    mgl64.Vec3
	Orientation mgl64.Quat
	Constraint  *Constraint // nil for the root
}

// IsRoot reports whether the capsule has no parent constraint.
func (c *Capsule) IsRoot() bool { return c.Constraint == nil }

// Oscillators configures the sine bank fed to the controller.
type Oscillators struct {
	Start      float64
	Multiplier float64
	Count      int
}

// Structure is a parsed creature morphology.
type Structure struct {
	Feedbacks   int
	Oscillators Oscillators
	Inputs      Inputs
	capsules    []*Capsule
}

// New builds a structure from already-constructed capsules and validates it.
func New(inputs Inputs, osc Oscillators, feedbacks int, capsules []*Capsule) (*Structure, error) {
	s := &Structure{
		Feedbacks:   feedbacks,
		Oscillators: osc,
		Inputs:      inputs,
		capsules:    capsules,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Capsules returns the capsules in declaration order.
func (s *Structure) Capsules() []*Capsule { return s.capsules }

// Capsule looks up a capsule by id. Returns nil if not found.
// Linear scan; creatures have a handful of capsules.
func (s *Structure) Capsule(id string) *Capsule {
	for _, c := range s.capsules {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Root returns the capsule without constraint.
func (s *Structure) Root() *Capsule {
	for _, c := range s.capsules {
		if c.IsRoot() {
			return c
		}
	}
	return nil
}

// TotalLength is the normalization length used by the observation encoder:
// the sum of inner height plus radius over all capsules.
func (s *Structure) TotalLength() float64 {
	var total float64
	for _, c := range s.capsules {
		total += c.InnerHeight + c.Radius
	}
	return total
}

// NumMotors returns the number of enabled rotation axes over all constraints.
func (s *Structure) NumMotors() int {
	n := 0
	for _, c := range s.capsules {
		if c.Constraint != nil {
			n += c.Constraint.NumMotors()
		}
	}
	return n
}

// NumInputs returns the length of the observation vector for this structure.
func (s *Structure) NumInputs() int {
	in := s.Inputs
	perCreature := count(in.RootOrientationX, in.RootOrientationY, in.RootOrientationZ, in.RootOrientationW,
		in.ZPosition, in.VelocityX, in.VelocityY, in.VelocityZ)
	if in.Oscillators {
		perCreature += s.Oscillators.Count
	}

	perCapsule := count(in.CapsulePositionX, in.CapsulePositionY, in.CapsulePositionZ,
		in.CapsuleVelocityX, in.CapsuleVelocityY, in.CapsuleVelocityZ,
		in.CapsuleAngularVelocityX, in.CapsuleAngularVelocityY, in.CapsuleAngularVelocityZ)

	motors := 0
	for _, c := range s.capsules {
		if c.Constraint == nil {
			continue
		}
		for axis, r := range c.Constraint.Axes {
			if r.Enabled && in.MotorAngle(Axis(axis)) {
				motors++
			}
		}
	}

	feedbacks := 0
	if in.Feedbacks {
		feedbacks = s.Feedbacks
	}

	return perCreature + len(s.capsules)*perCapsule + motors + feedbacks
}

// NumOutputs returns the number of controller outputs: one target velocity per
// enabled motor axis followed by the feedback channels.
func (s *Structure) NumOutputs() int {
	return s.NumMotors() + s.Feedbacks
}

// Validate checks the capsule tree: exactly one root, unique ids, parents that
// exist, and every capsule connected to the root.
func (s *Structure) Validate() error {
	if s.Feedbacks < 0 {
		return fmt.Errorf("negative feedback count %d", s.Feedbacks)
	}
	if s.Oscillators.Count < 0 {
		return fmt.Errorf("negative oscillator count %d", s.Oscillators.Count)
	}

	roots := 0
	seen := make(map[string]bool, len(s.capsules))
	for _, c := range s.capsules {
		if c.ID == "" {
			return errors.New("capsule with empty id")
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate capsule id %q", c.ID)
		}
		seen[c.ID] = true
		if c.IsRoot() {
			roots++
		}
	}
	switch {
	case roots == 0:
		return ErrNoRoot
	case roots > 1:
		return fmt.Errorf("%w: found %d", ErrMultipleRoots, roots)
	}

	for _, c := range s.capsules {
		if c.IsRoot() {
			continue
		}
		if c.Constraint.ParentID == c.ID {
			return fmt.Errorf("capsule %q is its own parent", c.ID)
		}
		if !seen[c.Constraint.ParentID] {
			return fmt.Errorf("capsule %q: unknown parent %q", c.ID, c.Constraint.ParentID)
		}
	}

	// Walk up from each capsule; more steps than capsules means a cycle.
	for _, c := range s.capsules {
		cur := c
		for steps := 0; !cur.IsRoot(); steps++ {
			if steps > len(s.capsules) {
				return fmt.Errorf("capsule %q is not connected to the root", c.ID)
			}
			cur = s.Capsule(cur.Constraint.ParentID)
		}
	}
	return nil
}

func count(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// ParseRange parses a "<lower>;<upper>" range string. An empty string is the
// zero range.
func ParseRange(s string) (lower, upper float64, err error) {
	if strings.TrimSpace(s) == "" {
		return 0, 0, nil
	}
	lo, hi, ok := strings.Cut(s, ";")
	if !ok {
		return 0, 0, fmt.Errorf("range %q: missing ';' separator", s)
	}
	if lower, err = strconv.ParseFloat(strings.TrimSpace(lo), 64); err != nil {
		return 0, 0, fmt.Errorf("range %q: lower bound: %w", s, err)
	}
	if upper, err = strconv.ParseFloat(strings.TrimSpace(hi), 64); err != nil {
		return 0, 0, fmt.Errorf("range %q: upper bound: %w", s, err)
	}
	if lower > upper {
		return 0, 0, fmt.Errorf("range %q: lower bound exceeds upper bound", s)
	}
	return lower, upper, nil
}

// MarshalJSON encodes the structure in the nested wire format.
func (s *Structure) MarshalJSON() ([]byte, error) {
	doc := structureJSON{
		Feedbacks: s.Feedbacks,
		Oscillators: oscillatorsJSON{
			Start:      s.Oscillators.Start,
			Multiplier: s.Oscillators.Multiplier,
			Count:      s.Oscillators.Count,
		},
		Inputs:   s.Inputs.toMap(),
		Capsules: make([]capsuleJSON, 0, len(s.capsules)),
	}
	for _, c := range s.capsules {
		cj := capsuleJSON{
			ID:          c.ID,
			InnerHeight: c.InnerHeight,
			Radius:      c.Radius,
			Position:    &vec3JSON{X: c.Position[0], Y: c.Position[1], Z: c.Position[2]},
			Quaternion:  &quatJSON{X: c.Orientation.V[0], Y: c.Orientation.V[1], Z: c.Orientation.V[2], W: c.Orientation.W},
		}
		if c.Constraint != nil {
			raw := map[string]any{"parentId": c.Constraint.ParentID}
			for axis, r := range c.Constraint.Axes {
				if r.Enabled {
					raw[Axis(axis).String()+"-rotation"] = map[string]string{
						"range": strconv.FormatFloat(r.Lower, 'g', -1, 64) + ";" + strconv.FormatFloat(r.Upper, 'g', -1, 64),
					}
				}
			}
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, err
			}
			cj.Constraint = data
		}
		doc.Capsules = append(doc.Capsules, cj)
	}
	return json.Marshal(doc)
}
