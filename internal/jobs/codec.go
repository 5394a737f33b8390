package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// actionEnvelope is the persisted form of an Action.
type actionEnvelope struct {
	Kind ActionKind      `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalAction encodes an action with its kind tag.
func MarshalAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, ErrNoAction
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionEnvelope{Kind: a.Kind(), Data: data})
}

// UnmarshalAction decodes an action written by MarshalAction.
func UnmarshalAction(b []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return decodeAction(env)
}

func decodeAction(env actionEnvelope) (Action, error) {
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("action %q: missing data", env.Kind)
	}
	var (
		a   Action
		err error
	)
	switch env.Kind {
	case KindRoleRemoval:
		var v RoleRemoval
		err = json.Unmarshal(env.Data, &v)
		a = v
	case KindRoleAddition:
		var v RoleAddition
		err = json.Unmarshal(env.Data, &v)
		a = v
	case KindUnban:
		var v Unban
		err = json.Unmarshal(env.Data, &v)
		a = v
	case KindEcho:
		var v Echo
		err = json.Unmarshal(env.Data, &v)
		a = v
	case KindBannerRotation:
		var v BannerRotation
		err = json.Unmarshal(env.Data, &v)
		a = v
	case "":
		return nil, errors.New("action kind missing")
	default:
		return nil, fmt.Errorf("unknown action kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("action %q: %w", env.Kind, err)
	}
	return a, nil
}

type jobRecord struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	ExecuteAt      time.Time      `json:"execute_at"`
	LastExecutedAt *time.Time     `json:"last_executed_at,omitempty"`
	Repeat         RepeatPolicy   `json:"repeat"`
	Action         actionEnvelope `json:"action"`
}

func (j Job) MarshalJSON() ([]byte, error) {
	if j.Action == nil {
		return nil, ErrNoAction
	}
	data, err := json.Marshal(j.Action)
	if err != nil {
		return nil, err
	}
	rec := jobRecord{
		ID:        j.ID,
		CreatedAt: j.CreatedAt.UTC(),
		ExecuteAt: j.ExecuteAt.UTC(),
		Repeat:    j.Repeat,
		Action:    actionEnvelope{Kind: j.Action.Kind(), Data: data},
	}
	if j.LastExecutedAt != nil {
		t := j.LastExecutedAt.UTC()
		rec.LastExecutedAt = &t
	}
	return json.Marshal(rec)
}

func (j *Job) UnmarshalJSON(b []byte) error {
	var rec jobRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	a, err := decodeAction(rec.Action)
	if err != nil {
		return fmt.Errorf("job %s: %w", rec.ID, err)
	}
	out := Job{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt.UTC(),
		ExecuteAt: rec.ExecuteAt.UTC(),
		Repeat:    rec.Repeat,
		Action:    a,
	}
	if rec.Repeat.Kind == "" {
		out.Repeat.Kind = RepeatNone
	}
	if rec.LastExecutedAt != nil {
		t := rec.LastExecutedAt.UTC()
		out.LastExecutedAt = &t
	}
	*j = out
	return nil
}

// MarshalJob renders the machine-readable file form of a job.
func MarshalJob(j Job) ([]byte, error) {
	b, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// UnmarshalJob reads a job written by MarshalJob and validates it.
func UnmarshalJob(b []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, err
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}
