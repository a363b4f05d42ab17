package execution

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"maintos/bizerror"
	"maintos/common"
	"maintos/domain/form"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"
	"github.com/sony/sonyflake"
)

var (
	responseIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	RecordResponseFunc = RecordResponse
)

type OptionValues []string

func (t OptionValues) Value() (driver.Value, error) {
	jsonBytes, err := json.Marshal(&t)
	if err != nil {
		return nil, err
	}
	return string(jsonBytes), nil
}

func (c *OptionValues) Scan(v interface{}) error {
	jsonString, ok := v.(string)
	if !ok {
		jsonByte, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("type is neither string nor []byte: %T %v", v, v)
		}
		jsonString = string(jsonByte)
	}
	return json.Unmarshal([]byte(jsonString), c)
}

// TaskResponse holds the answer to one snapshot task. TaskID refers to the
// frozen snapshot, not the live draft table. One row per task per execution,
// updated in place on re-submission.
type TaskResponse struct {
	ID          types.ID `json:"id" gorm:"primary_key"`
	ExecutionID types.ID `json:"executionId" gorm:"index:idx_response_execution"`
	TaskID      types.ID `json:"taskId" gorm:"index:idx_response_task"`

	Kind form.TaskKind `json:"kind"`

	Text             string       `json:"text"`
	SelectedOptions  OptionValues `json:"selectedOptions" sql:"type:TEXT"`
	MeasurementValue *float64     `json:"measurementValue"`

	OutsideRange bool `json:"outsideRange"`
	Completed    bool `json:"completed"`

	RespondedAt   types.Timestamp `json:"respondedAt" sql:"type:DATETIME(6) NOT NULL"`
	ResponderID   types.ID        `json:"responderId"`
	ResponderName string          `json:"responderName"`
}

type ResponseCreation struct {
	ExecutionID types.ID `json:"executionId" binding:"required"`
	TaskID      types.ID `json:"taskId" binding:"required"`

	Text             string   `json:"text"`
	SelectedOptions  []string `json:"selectedOptions"`
	MeasurementValue *float64 `json:"measurementValue"`
}

// RecordResponse upserts the answer for one snapshot task. A measurement
// outside the configured range is stored with the OutsideRange flag, not
// rejected. When the last task gets answered the execution auto-completes
// through the same predicate as the explicit completion call.
func RecordResponse(c *ResponseCreation, s *session.Session) (*TaskResponse, error) {
	var record *TaskResponse
	var ev *event.EventRecord

	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		e, err := findExecutionAndCheckPerms(tx, c.ExecutionID, s)
		if err != nil {
			return err
		}
		if e.StateName != StateInProgress {
			return bizerror.ErrExecutionStateInvalid
		}

		task, found := e.Snapshot.FindTask(c.TaskID)
		if !found {
			return bizerror.ErrUnknownFormTask
		}

		outsideRange, completed, err := validatePayload(task, c)
		if err != nil {
			return err
		}
		if outsideRange {
			logrus.Warnf("execution %d task %d: measurement %.2f is outside configured range",
				e.ID, task.TaskID, *c.MeasurementValue)
		}

		now := types.CurrentTimestamp()
		existing := TaskResponse{}
		err = tx.Where(&TaskResponse{ExecutionID: e.ID, TaskID: task.TaskID}).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r := TaskResponse{
				ID: common.NextId(responseIdWorker), ExecutionID: e.ID, TaskID: task.TaskID,
				Kind: task.Kind, Text: c.Text, SelectedOptions: c.SelectedOptions,
				MeasurementValue: c.MeasurementValue,
				OutsideRange:     outsideRange, Completed: completed,
				RespondedAt: now, ResponderID: s.Identity.ID, ResponderName: s.Identity.Nickname,
			}
			if err := tx.Create(&r).Error; err != nil {
				return err
			}
			record = &r
		} else if err != nil {
			return err
		} else {
			changes := map[string]interface{}{
				"text": c.Text, "selected_options": OptionValues(c.SelectedOptions),
				"measurement_value": c.MeasurementValue,
				"outside_range":     outsideRange, "completed": completed,
				"responded_at": now, "responder_id": s.Identity.ID, "responder_name": s.Identity.Nickname,
			}
			if err := tx.Model(&TaskResponse{}).Where(&TaskResponse{ID: existing.ID}).Updates(changes).Error; err != nil {
				return err
			}
			if err := tx.Where(&TaskResponse{ID: existing.ID}).First(&existing).Error; err != nil {
				return err
			}
			record = &existing
		}

		responses, err := loadResponses(tx, e.ID)
		if err != nil {
			return err
		}
		completedCount := 0
		for _, r := range responses {
			if r.Completed {
				completedCount++
			}
		}
		if completedCount == len(e.Snapshot.Tasks) && len(MissingRequiredTasks(e.Snapshot, responses)) == 0 {
			ev, err = completeInTx(tx, e, s)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ev != nil && event.InvokeHandlersFunc != nil {
		event.InvokeHandlersFunc(ev)
	}
	return record, nil
}

func validatePayload(task form.TaskSnapshot, c *ResponseCreation) (outsideRange bool, completed bool, err error) {
	switch task.Kind {
	case form.TaskKindQuestion, form.TaskKindCodeReader:
		return false, c.Text != "", nil

	case form.TaskKindMultipleChoice:
		if len(c.SelectedOptions) > 1 {
			return false, false, &bizerror.ErrBadParam{Cause: errors.New("multiple_choice accepts a single option")}
		}
		if err := checkOptions(task.Config.Options, c.SelectedOptions); err != nil {
			return false, false, err
		}
		return false, len(c.SelectedOptions) == 1, nil

	case form.TaskKindMultipleSelect:
		if err := checkOptions(task.Config.Options, c.SelectedOptions); err != nil {
			return false, false, err
		}
		return false, len(c.SelectedOptions) > 0, nil

	case form.TaskKindMeasurement:
		if c.MeasurementValue == nil {
			return false, false, nil
		}
		v := *c.MeasurementValue
		if task.Config.MeasurementMin != nil && v < *task.Config.MeasurementMin {
			outsideRange = true
		}
		if task.Config.MeasurementMax != nil && v > *task.Config.MeasurementMax {
			outsideRange = true
		}
		return outsideRange, true, nil

	case form.TaskKindPhoto, form.TaskKindFileUpload:
		// completed as soon as recorded; attachments arrive separately and
		// only carry path strings
		return false, true, nil
	}
	return false, false, bizerror.ErrUnknownFormTask
}

func checkOptions(allowed []string, selected []string) error {
	for _, s := range selected {
		found := false
		for _, a := range allowed {
			if a == s {
				found = true
				break
			}
		}
		if !found {
			return bizerror.ErrOptionNotAllowed
		}
	}
	return nil
}

func loadResponses(tx *gorm.DB, executionId types.ID) ([]TaskResponse, error) {
	var responses []TaskResponse
	if err := tx.Where(&TaskResponse{ExecutionID: executionId}).Find(&responses).Error; err != nil {
		return nil, err
	}
	return responses, nil
}
