package form

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"maintos/bizerror"
	"maintos/common"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sony/sonyflake"
)

var (
	formIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})
	taskIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	CreateFormFunc            = CreateForm
	QueryFormsFunc            = QueryForms
	DetailFormFunc            = DetailForm
	CreateTaskFunc            = CreateTask
	UpdateTaskFunc            = UpdateTask
	DeleteTaskFunc            = DeleteTask
	UpdateTaskRangeOrdersFunc = UpdateTaskRangeOrders
)

type TaskKind string

const (
	TaskKindQuestion       = TaskKind("question")
	TaskKindMultipleChoice = TaskKind("multiple_choice")
	TaskKindMultipleSelect = TaskKind("multiple_select")
	TaskKindMeasurement    = TaskKind("measurement")
	TaskKindPhoto          = TaskKind("photo")
	TaskKindCodeReader     = TaskKind("code_reader")
	TaskKindFileUpload     = TaskKind("file_upload")
)

// Form is a named inspection template. Draft tasks hang off the form and stay
// mutable until Publish freezes them into a FormVersion.
type Form struct {
	ID      types.ID `json:"id" gorm:"primary_key"`
	Name    string   `json:"name"`
	PlantID types.ID `json:"plantId"`

	CurrentVersionID     types.ID `json:"currentVersionId"`
	CurrentVersionNumber int      `json:"currentVersionNumber"`

	CreateTime types.Timestamp `json:"createTime" sql:"type:DATETIME(6) NOT NULL"`
	Creator    types.ID        `json:"creator"`
}

type FormDetail struct {
	Form

	DraftTasks []FormTask `json:"draftTasks" gorm:"-"`
}

// FormTask is a draft task of a form. Published copies live inside
// FormVersion.Snapshot, not in this table.
type FormTask struct {
	ID     types.ID `json:"id" gorm:"primary_key"`
	FormID types.ID `json:"formId" gorm:"index:idx_task_form"`

	Kind        TaskKind `json:"kind"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Position    int      `json:"position"`

	Config TaskConfig `json:"config" sql:"type:TEXT"`

	CreateTime types.Timestamp `json:"createTime" sql:"type:DATETIME(6) NOT NULL"`
}

type Instruction struct {
	ID     types.ID `json:"id" gorm:"primary_key"`
	TaskID types.ID `json:"taskId" gorm:"index:idx_instruction_task"`

	Position  int    `json:"position"`
	Content   string `json:"content"`
	MediaPath string `json:"mediaPath"`
}

type TaskConfig struct {
	MeasurementMin    *float64 `json:"measurementMin,omitempty"`
	MeasurementMax    *float64 `json:"measurementMax,omitempty"`
	MeasurementTarget *float64 `json:"measurementTarget,omitempty"`
	MeasurementUnit   string   `json:"measurementUnit,omitempty"`

	Options []string `json:"options,omitempty"`
}

func (c TaskConfig) Value() (driver.Value, error) {
	jsonBytes, err := json.Marshal(&c)
	if err != nil {
		return nil, err
	}
	return string(jsonBytes), nil
}

func (c *TaskConfig) Scan(v interface{}) error {
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

type FormCreation struct {
	Name    string   `json:"name" binding:"required,lte=120"`
	PlantID types.ID `json:"plantId" binding:"required"`
}

type FormQuery struct {
	PlantID types.ID `form:"plantId"`
	Name    string   `form:"name"`
}

type TaskCreation struct {
	FormID      types.ID   `json:"formId" binding:"required"`
	Kind        TaskKind   `json:"kind" binding:"required,oneof=question multiple_choice multiple_select measurement photo code_reader file_upload"`
	Description string     `json:"description"`
	Required    bool       `json:"required"`
	Position    int        `json:"position"`
	Config      TaskConfig `json:"config"`
}

type TaskUpdating struct {
	Description string     `json:"description"`
	Required    bool       `json:"required"`
	Config      TaskConfig `json:"config"`
}

type TaskOrderRangeUpdating struct {
	TaskID      types.ID `json:"taskId" binding:"required"`
	NewPosition int      `json:"newPosition"`
}

func CreateForm(c *FormCreation, s *session.Session) (*Form, error) {
	if !s.Perms.HasRoleSuffix("_" + c.PlantID.String()) {
		return nil, bizerror.ErrForbidden
	}

	f := Form{
		ID: common.NextId(formIdWorker), Name: c.Name, PlantID: c.PlantID,
		CreateTime: types.CurrentTimestamp(), Creator: s.Identity.ID,
	}
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&f).Error; err != nil {
			return err
		}
		_, err := event.CreateEvent(event.SourceTypeForm, f.ID, f.Name, event.EventCategoryCreated,
			nil, nil, &s.Identity, f.CreateTime, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func QueryForms(query *FormQuery, s *session.Session) (*[]Form, error) {
	var forms []Form
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)

	q := db.Model(&Form{})
	if query.PlantID != 0 {
		q = q.Where(&Form{PlantID: query.PlantID})
	}
	if query.Name != "" {
		q = q.Where("name like ?", "%"+query.Name+"%")
	}
	visiblePlants := s.VisiblePlants()
	if len(visiblePlants) == 0 {
		return &[]Form{}, nil
	}
	q = q.Where("plant_id in (?)", visiblePlants)
	if err := q.Find(&forms).Error; err != nil {
		return nil, err
	}
	return &forms, nil
}

func DetailForm(id types.ID, s *session.Session) (*FormDetail, error) {
	detail := FormDetail{}
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	if err := db.Where(&Form{ID: id}).First(&detail.Form).Error; err != nil {
		return nil, err
	}
	if !s.Perms.HasPlantViewPerm(detail.PlantID) {
		return nil, bizerror.ErrForbidden
	}
	if err := db.Where(&FormTask{FormID: id}).Order("position ASC").Find(&detail.DraftTasks).Error; err != nil {
		return nil, err
	}
	return &detail, nil
}

func CreateTask(c *TaskCreation, s *session.Session) (*FormTask, error) {
	var record *FormTask
	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		f, err := findFormAndCheckPerms(tx, c.FormID, s)
		if err != nil {
			return err
		}

		position := c.Position
		if position == 0 {
			var maxPosition int
			row := tx.Model(&FormTask{}).Where(&FormTask{FormID: f.ID}).Select("COALESCE(MAX(position), 0)").Row()
			if err := row.Scan(&maxPosition); err != nil {
				return err
			}
			position = maxPosition + 1
		}

		t := FormTask{
			ID: common.NextId(taskIdWorker), FormID: f.ID,
			Kind: c.Kind, Description: c.Description, Required: c.Required,
			Position: position, Config: c.Config,
			CreateTime: types.CurrentTimestamp(),
		}
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		record = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func UpdateTask(id types.ID, u *TaskUpdating, s *session.Session) (*FormTask, error) {
	var updated FormTask
	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		t := FormTask{}
		if err := tx.Where(&FormTask{ID: id}).First(&t).Error; err != nil {
			return err
		}
		if _, err := findFormAndCheckPerms(tx, t.FormID, s); err != nil {
			return err
		}

		db := tx.Model(&FormTask{}).Where(&FormTask{ID: id}).
			Updates(map[string]interface{}{"description": u.Description, "required": u.Required, "config": u.Config})
		if err := db.Error; err != nil {
			return err
		}
		return tx.Where(&FormTask{ID: id}).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func DeleteTask(id types.ID, s *session.Session) error {
	return persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		t := FormTask{}
		if err := tx.Where(&FormTask{ID: id}).First(&t).Error; errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		if _, err := findFormAndCheckPerms(tx, t.FormID, s); err != nil {
			return err
		}
		if err := tx.Delete(&FormTask{}, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Instruction{}, "task_id = ?", id).Error
	})
}

func UpdateTaskRangeOrders(formId types.ID, wantedOrders *[]TaskOrderRangeUpdating, s *session.Session) error {
	if wantedOrders == nil || len(*wantedOrders) == 0 {
		return nil
	}

	return persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		if _, err := findFormAndCheckPerms(tx, formId, s); err != nil {
			return err
		}
		for _, orderUpdating := range *wantedOrders {
			db := tx.Model(&FormTask{}).Where(&FormTask{ID: orderUpdating.TaskID, FormID: formId}).
				Update("position", orderUpdating.NewPosition)
			if err := db.Error; err != nil {
				return err
			}
			if db.RowsAffected != 1 {
				return errors.New("expected affected row is 1, but actual is " + strconv.FormatInt(db.RowsAffected, 10))
			}
		}
		return nil
	})
}

func findFormAndCheckPerms(db *gorm.DB, id types.ID, s *session.Session) (*Form, error) {
	var f Form
	if err := db.Where(&Form{ID: id}).First(&f).Error; err != nil {
		return nil, err
	}
	if s == nil || !s.Perms.HasRoleSuffix("_"+f.PlantID.String()) {
		return nil, bizerror.ErrForbidden
	}
	return &f, nil
}
