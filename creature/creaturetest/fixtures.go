// Package creaturetest provides small, valid creature documents for tests.
package creaturetest

import (
	"fmt"
	"strings"
)

// NumInputs and NumOutputs are the controller sizes of Structure.
const (
	NumInputs  = 5 // 2 oscillators + 2 motor angles + 1 feedback
	NumOutputs = 3 // 2 motors + 1 feedback
)

var inputKeys = []string{
	"root-orientation-x", "root-orientation-y", "root-orientation-z", "root-orientation-w",
	"z-position", "velocity-x", "velocity-y", "velocity-z", "oscillators",
	"capsule-position-x", "capsule-position-y", "capsule-position-z",
	"capsule-velocity-x", "capsule-velocity-y", "capsule-velocity-z",
	"capsule-angular-velocity-x", "capsule-angular-velocity-y", "capsule-angular-velocity-z",
	"motor-angle-x", "motor-angle-y", "motor-angle-z", "feedbacks",
}

// Structure returns a torso with two legs swinging around X. Only the
// oscillator, motor-angle-x and feedback channels are enabled.
func Structure() string {
	enabled := map[string]bool{"oscillators": true, "motor-angle-x": true, "feedbacks": true}
	flags := make([]string, 0, len(inputKeys))
	for _, k := range inputKeys {
		v := 0
		if enabled[k] {
			v = 1
		}
		flags = append(flags, fmt.Sprintf("%q: %d", k, v))
	}
	return `{
		"feedbacks": 1,
		"oscillators": {"start": 2, "multiplier": 1.5, "count": 2},
		"inputs": {` + strings.Join(flags, ", ") + `},
		"capsules": [
			{"id": "torso", "innerHeight": 2, "radius": 0.5,
			 "position": {"X": 0, "Y": 0, "Z": 3}, "quaternion": {"X": 0, "Y": 0, "Z": 0, "W": 1}},
			{"id": "front", "innerHeight": 1, "radius": 0.3,
			 "position": {"X": 0, "Y": 0, "Z": 5.3}, "quaternion": {"X": 0, "Y": 0, "Z": 0, "W": 1},
			 "constraint": {"parentId": "torso", "x-rotation": {"range": "-0.75;0.75"}}},
			{"id": "back", "innerHeight": 1, "radius": 0.3,
			 "position": {"X": 0, "Y": 0, "Z": 0.7}, "quaternion": {"X": 1, "Y": 0, "Z": 0, "W": 0},
			 "constraint": {"parentId": "torso", "x-rotation": {"range": "0.25;1"}}}
		]
	}`
}

// Controller returns a single tanh layer driving the legs in antiphase from
// the first oscillator.
func Controller() string {
	// Rows are outputs, columns inputs: osc0, osc1, angle0, angle1, feedback.
	weights := []float64{
		4, 0, 0, 0, 0,
		-4, 0, 0, 0, 0,
		0, 1, 0, 0, 0.5,
	}
	biases := make([]string, len(weights))
	ws := make([]string, len(weights))
	for i, w := range weights {
		ws[i] = fmt.Sprint(w)
		biases[i] = "0"
	}
	return `{"layers": [{"weights": [` + strings.Join(ws, ",") + `], "biases": [` +
		strings.Join(biases, ",") + `], "activation": "tanh"}]}`
}

// WorkUnit returns a work unit document for the fixture creature.
func WorkUnit(taskName, id, experimentID string) string {
	return fmt.Sprintf(`{"creature": {"structure": %s, "motorController": %s}, "task": {"name": %q, "id": %q, "experimentId": %q}}`,
		Structure(), Controller(), taskName, id, experimentID)
}
