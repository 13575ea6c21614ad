// Package protocol defines the structured messages exchanged between the UI
// layer, the orchestrator and the page-automation process.
package protocol

import (
	"encoding/json"
	"fmt"
)

type Type string

const (
	StartTask    Type = "START_TASK"
	StopTask     Type = "STOP_TASK"
	Log          Type = "LOG"
	Progress     Type = "PROGRESS"
	TaskComplete Type = "TASK_COMPLETE"
	ExecuteDM    Type = "EXECUTE_DM"
	Ping         Type = "PING"
)

type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// TaskConfig is the START_TASK payload. Delays are milliseconds.
type TaskConfig struct {
	Links    []string `json:"links"`
	Message  string   `json:"message"`
	DelayMin int      `json:"delayMin"`
	DelayMax int      `json:"delayMax"`
}

// Counts is the PROGRESS payload.
type Counts struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Message is the envelope; Type selects which fields are meaningful.
type Message struct {
	Type   Type        `json:"type"`
	Config *TaskConfig `json:"config,omitempty"`
	Text   string      `json:"text,omitempty"`
	Level  Level       `json:"level,omitempty"`
	TabID  string      `json:"tabId,omitempty"`
	*Counts
}

func LogMessage(level Level, text string) Message {
	return Message{Type: Log, Level: level, Text: text}
}

func ProgressMessage(current, total int) Message {
	return Message{Type: Progress, Counts: &Counts{Current: current, Total: total}}
}

func CompleteMessage() Message { return Message{Type: TaskComplete} }

// Validate checks the discriminant and the fields it requires.
func (m Message) Validate() error {
	switch m.Type {
	case StartTask, StopTask, TaskComplete, Ping:
		return nil
	case Log:
		switch m.Level {
		case Info, Success, Warning, Error:
			return nil
		}
		return fmt.Errorf("log message with unknown level %q", m.Level)
	case Progress:
		if m.Counts == nil {
			return fmt.Errorf("progress message without counts")
		}
		return nil
	case ExecuteDM:
		if m.TabID == "" {
			return fmt.Errorf("EXECUTE_DM without tabId")
		}
		return nil
	case "":
		return fmt.Errorf("message without type")
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}

// Decode parses and validates one envelope.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Result is the page process reply to EXECUTE_DM.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func Succeeded() Result { return Result{Success: true} }

func Failed(reason string) Result { return Result{Success: false, Error: reason} }

// PingReply is the page process reply to PING.
type PingReply struct {
	Ready bool `json:"ready"`
}
