package domain

import (
	"encoding/json"
	"strings"
)

// TriggerKind identifies the shape of an incoming trigger event.
type TriggerKind string

const (
	TriggerScheduled    TriggerKind = "scheduled"
	TriggerRequest      TriggerKind = "request"
	TriggerNotification TriggerKind = "notification"
	TriggerBatch        TriggerKind = "batch"
)

// Trigger is the normalized form of an incoming event, regardless of its
// original shape.
type Trigger struct {
	Kind   TriggerKind
	Tasks  []TaskType
	Scope  Scope
	Source string
}

// rawTrigger covers the fields of every trigger shape we detect.
type rawTrigger struct {
	Source string `json:"source,omitempty"`

	// Notification envelope wrapping an inner message.
	Type    string `json:"Type,omitempty"`
	Message string `json:"Message,omitempty"`

	// Request / batch payloads.
	Tasks    []string `json:"tasks,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
	Regions  []string `json:"regions,omitempty"`
	Services []string `json:"services,omitempty"`
}

// DetectTrigger inspects a raw event body and derives the requested task
// set and target scope. An empty or schedule-shaped body means a full
// scheduled run over every declared task. A malformed body is a
// validation error, not a crash.
func DetectTrigger(body []byte) (*Trigger, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "{}" {
		return &Trigger{Kind: TriggerScheduled, Tasks: AllTaskTypes()}, nil
	}

	var raw rawTrigger
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, NewCollaboratorError(ErrValidation, "", err)
	}

	// Notification envelope: unwrap the inner message and detect again.
	if raw.Type == "Notification" && raw.Message != "" {
		inner, err := DetectTrigger([]byte(raw.Message))
		if err != nil {
			return nil, err
		}
		inner.Kind = TriggerNotification
		return inner, nil
	}

	// Time-based triggers carry a source marker and no task selection.
	if raw.Source != "" && len(raw.Tasks) == 0 && len(raw.Accounts) == 0 {
		return &Trigger{Kind: TriggerScheduled, Tasks: AllTaskTypes(), Source: raw.Source}, nil
	}

	trigger := &Trigger{
		Kind: TriggerRequest,
		Scope: Scope{
			Accounts: raw.Accounts,
			Regions:  raw.Regions,
			Services: raw.Services,
		},
		Source: raw.Source,
	}
	if !trigger.Scope.IsEmpty() {
		trigger.Kind = TriggerBatch
	}

	if len(raw.Tasks) == 0 {
		trigger.Tasks = AllTaskTypes()
		return trigger, nil
	}
	for _, name := range raw.Tasks {
		t, err := ParseTaskType(name)
		if err != nil {
			return nil, NewCollaboratorError(ErrValidation, "", err)
		}
		trigger.Tasks = append(trigger.Tasks, t)
	}
	return trigger, nil
}
