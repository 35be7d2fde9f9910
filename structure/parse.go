package structure

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

type structureJSON struct {
	Feedbacks   int             `json:"feedbacks"`
	Oscillators oscillatorsJSON `json:"oscillators"`
	Inputs      map[string]flag `json:"inputs"`
	Capsules    []capsuleJSON   `json:"capsules"`
}

type oscillatorsJSON struct {
	Start      float64 `json:"start"`
	Multiplier float64 `json:"multiplier"`
	Count      int     `json:"count"`
}

type vec3JSON struct {
	X, Y, Z float64
}

type quatJSON struct {
	X, Y, Z, W float64
}

// capsuleJSON accepts both the nested position/quaternion objects and the
// flat positionX..quaternionW keys written by older trainers.
type capsuleJSON struct {
	ID          string          `json:"id"`
	InnerHeight float64         `json:"innerHeight"`
	Radius      float64         `json:"radius"`
	Position    *vec3JSON       `json:"position,omitempty"`
	Quaternion  *quatJSON       `json:"quaternion,omitempty"`
	PositionX   *float64        `json:"positionX,omitempty"`
	PositionY   *float64        `json:"positionY,omitempty"`
	PositionZ   *float64        `json:"positionZ,omitempty"`
	QuaternionX *float64        `json:"quaternionX,omitempty"`
	QuaternionY *float64        `json:"quaternionY,omitempty"`
	QuaternionZ *float64        `json:"quaternionZ,omitempty"`
	QuaternionW *float64        `json:"quaternionW,omitempty"`
	Constraint  json.RawMessage `json:"constraint,omitempty"`
}

type axisJSON struct {
	Range string `json:"range"`
}

type constraintJSON struct {
	ParentID  string    `json:"parentId"`
	XRotation *axisJSON `json:"x-rotation"`
	YRotation *axisJSON `json:"y-rotation"`
	ZRotation *axisJSON `json:"z-rotation"`
}

// Parse decodes and validates a structure document.
func Parse(data []byte) (*Structure, error) {
	var doc structureJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding structure: %w", err)
	}
	if doc.Inputs == nil {
		return nil, errors.New("decoding structure: missing inputs")
	}
	if len(doc.Capsules) == 0 {
		return nil, errors.New("decoding structure: no capsules")
	}

	var inputs Inputs
	if err := inputs.fromMap(doc.Inputs); err != nil {
		return nil, fmt.Errorf("decoding structure: %w", err)
	}

	capsules := make([]*Capsule, 0, len(doc.Capsules))
	for i := range doc.Capsules {
		c, err := doc.Capsules[i].capsule()
		if err != nil {
			return nil, fmt.Errorf("decoding structure: capsule %d: %w", i, err)
		}
		capsules = append(capsules, c)
	}

	osc := Oscillators{
		Start:      doc.Oscillators.Start,
		Multiplier: doc.Oscillators.Multiplier,
		Count:      doc.Oscillators.Count,
	}
	return New(inputs, osc, doc.Feedbacks, capsules)
}

func (cj *capsuleJSON) capsule() (*Capsule, error) {
	if cj.Radius <= 0 {
		return nil, fmt.Errorf("capsule %q: radius must be positive", cj.ID)
	}
	if cj.InnerHeight < 0 {
		return nil, fmt.Errorf("capsule %q: negative inner height", cj.ID)
	}
	c := &Capsule{
		ID:          cj.ID,
		InnerHeight: cj.InnerHeight,
		Radius:      cj.Radius,
	}

	switch {
	case cj.Position != nil:
		c.Position = mgl64.Vec3{cj.Position.X, cj.Position.Y, cj.Position.Z}
	case cj.PositionX != nil || cj.PositionY != nil || cj.PositionZ != nil:
		c.Position = mgl64.Vec3{deref(cj.PositionX), deref(cj.PositionY), deref(cj.PositionZ)}
	default:
		return nil, fmt.Errorf("capsule %q: missing position", cj.ID)
	}

	switch {
	case cj.Quaternion != nil:
		c.Orientation = mgl64.Quat{W: cj.Quaternion.W, V: mgl64.Vec3{cj.Quaternion.X, cj.Quaternion.Y, cj.Quaternion.Z}}
	case cj.QuaternionW != nil:
		c.Orientation = mgl64.Quat{W: *cj.QuaternionW, V: mgl64.Vec3{deref(cj.QuaternionX), deref(cj.QuaternionY), deref(cj.QuaternionZ)}}
	default:
		return nil, fmt.Errorf("capsule %q: missing quaternion", cj.ID)
	}
	if c.Orientation.Len() == 0 {
		return nil, fmt.Errorf("capsule %q: zero quaternion", cj.ID)
	}
	c.Orientation = c.Orientation.Normalize()

	constraint, err := parseConstraint(cj.Constraint)
	if err != nil {
		return nil, fmt.Errorf("capsule %q: %w", cj.ID, err)
	}
	c.Constraint = constraint
	return c, nil
}

// parseConstraint returns nil for a missing, null or empty constraint object.
func parseConstraint(raw json.RawMessage) (*Constraint, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("constraint: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}

	var cj constraintJSON
	if err := json.Unmarshal(trimmed, &cj); err != nil {
		return nil, fmt.Errorf("constraint: %w", err)
	}
	if cj.ParentID == "" {
		return nil, errors.New("constraint: missing parentId")
	}

	con := &Constraint{ParentID: cj.ParentID}
	for axis, a := range []*axisJSON{cj.XRotation, cj.YRotation, cj.ZRotation} {
		if a == nil {
			continue
		}
		lo, hi, err := ParseRange(a.Range)
		if err != nil {
			return nil, fmt.Errorf("constraint %s-rotation: %w", Axis(axis), err)
		}
		con.Axes[axis] = AxisRange{Enabled: true, Lower: lo, Upper: hi}
	}
	return con, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
