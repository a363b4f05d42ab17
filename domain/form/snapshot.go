package form

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/fundwit/go-commons/types"
)

// FormSnapshot is the frozen copy of a form version's tasks, stored as a JSON
// column value. It is deliberately not a live relation: executions and work
// orders correlate responses against this copy even if the form moves on.
type FormSnapshot struct {
	FormID        types.ID       `json:"formId"`
	VersionID     types.ID       `json:"versionId"`
	VersionNumber int            `json:"versionNumber"`
	FormName      string         `json:"formName"`
	Tasks         []TaskSnapshot `json:"tasks"`
}

type TaskSnapshot struct {
	TaskID      types.ID `json:"taskId"`
	Kind        TaskKind `json:"kind"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Position    int      `json:"position"`

	Config TaskConfig `json:"config"`

	Instructions []InstructionSnapshot `json:"instructions,omitempty"`
}

type InstructionSnapshot struct {
	Position  int    `json:"position"`
	Content   string `json:"content"`
	MediaPath string `json:"mediaPath,omitempty"`
}

func (s FormSnapshot) IsZero() bool {
	return s.VersionID == 0
}

func (s FormSnapshot) FindTask(taskId types.ID) (TaskSnapshot, bool) {
	for _, t := range s.Tasks {
		if t.TaskID == taskId {
			return t, true
		}
	}
	return TaskSnapshot{}, false
}

func (s FormSnapshot) Value() (driver.Value, error) {
	jsonBytes, err := json.Marshal(&s)
	if err != nil {
		return nil, err
	}
	return string(jsonBytes), nil
}

func (s *FormSnapshot) Scan(v interface{}) error {
	jsonString, ok := v.(string)
	if !ok {
		jsonByte, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("type is neither string nor []byte: %T %v", v, v)
		}
		jsonString = string(jsonByte)
	}
	return json.Unmarshal([]byte(jsonString), s)
}
