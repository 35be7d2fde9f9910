// Package protocol implements the worker side of the work server's TCP
// protocol: one JSON request per connection, answered by one JSON document.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Command is a request type understood by the server.
type Command int

const (
	Ping Command = iota
	GetWork
	GetWorkBatch
	Result
	GetServerStatus
	GetBestCreature
	StepBatch
)

var commandNames = [...]string{
	Ping:            "PING",
	GetWork:         "GET_WORK",
	GetWorkBatch:    "GET_WORK_BATCH",
	Result:          "RESULT",
	GetServerStatus: "GET_SERVER_STATUS",
	GetBestCreature: "GET_BEST_CREATURE",
	StepBatch:       "STEP_BATCH",
}

func (c Command) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// ParseCommand returns the command with the given wire name.
func ParseCommand(s string) (Command, error) {
	for i, name := range commandNames {
		if name == s {
			return Command(i), nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", s)
}

// HasData reports whether requests of this type carry a data field.
func (c Command) HasData() bool {
	return c == Result || c == GetWorkBatch || c == StepBatch
}

// ExpectsReply reports whether the server answers this command.
func (c Command) ExpectsReply() bool {
	return c != Result
}

func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	cmd, err := ParseCommand(s)
	if err != nil {
		return err
	}
	*c = cmd
	return nil
}

// Request is the envelope sent for every call.
type Request struct {
	Type Command         `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StatusNoWork is the status of a GET_WORK reply when the server has nothing.
const StatusNoWork = "NO_WORK"

// StatusServerDown is reported when the server status cannot be fetched.
const StatusServerDown = "SERVER DOWN"

// CreatureDoc holds the creature definition of a work unit. Both documents
// are decoded by the worker when the unit is instantiated.
type CreatureDoc struct {
	Structure       json.RawMessage `json:"structure"`
	MotorController json.RawMessage `json:"motorController"`
}

// TaskDescriptor names the fitness task of a work unit.
type TaskDescriptor struct {
	Name         string `json:"name"`
	ID           string `json:"id"`
	ExperimentID string `json:"experimentId"`
}

// WorkUnit is one creature to evaluate.
type WorkUnit struct {
	Creature CreatureDoc    `json:"creature"`
	Task     TaskDescriptor `json:"task"`
	Status   string         `json:"status,omitempty"`
}

// Empty reports whether the unit carries no creature.
func (w WorkUnit) Empty() bool {
	return w.Status == StatusNoWork || len(w.Creature.Structure) == 0
}

// Batch is the reply to GET_WORK_BATCH and STEP_BATCH.
type Batch struct {
	WorkUnits []WorkUnit `json:"workUnits"`
	Status    string     `json:"status"`
}

// StepRequest is the data of a STEP_BATCH request: finished results plus how
// many new units the worker can take.
type StepRequest struct {
	Results      []json.RawMessage `json:"results"`
	MaxWorkUnits int               `json:"maxWorkUnits"`
}

// MarshalJSON always writes results as an array, never null.
func (r StepRequest) MarshalJSON() ([]byte, error) {
	type plain StepRequest
	if r.Results == nil {
		r.Results = []json.RawMessage{}
	}
	return json.Marshal(plain(r))
}

type workBatchRequest struct {
	MaxWorkUnits int `json:"maxWorkUnits"`
}

type statusReply struct {
	Status string `json:"status"`
}
