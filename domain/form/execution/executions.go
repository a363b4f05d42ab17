package execution

import (
	"errors"

	"maintos/bizerror"
	"maintos/common"
	"maintos/domain/form"
	"maintos/domain/workorder"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sony/sonyflake"
)

var (
	executionIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	CreateExecutionFunc   = CreateExecution
	QueryExecutionsFunc   = QueryExecutions
	DetailExecutionFunc   = DetailExecution
	StartExecutionFunc    = StartExecution
	CancelExecutionFunc   = CancelExecution
	CompleteExecutionFunc = CompleteExecution
)

const (
	StatePending    = "pending"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateCancelled  = "cancelled"
)

// FormExecution is one run of a published form version. The Snapshot column
// is copied at creation time; responses correlate against it by snapshot task
// id even if the form or version moves on afterwards.
type FormExecution struct {
	ID      types.ID `json:"id" gorm:"primary_key"`
	PlantID types.ID `json:"plantId"`

	WorkOrderID types.ID `json:"workOrderId" gorm:"index:idx_execution_order"`
	FormID      types.ID `json:"formId"`
	VersionID   types.ID `json:"versionId" gorm:"index:idx_execution_version"`

	Snapshot form.FormSnapshot `json:"snapshot" sql:"type:TEXT"`

	StateName string `json:"stateName"`

	StartTime types.Timestamp `json:"startTime" sql:"type:DATETIME(6)"`
	EndTime   types.Timestamp `json:"endTime" sql:"type:DATETIME(6)"`

	ExecutorID   types.ID `json:"executorId"`
	ExecutorName string   `json:"executorName"`

	CreateTime types.Timestamp `json:"createTime" sql:"type:DATETIME(6) NOT NULL"`
	Creator    types.ID        `json:"creator"`
}

type ExecutionCreation struct {
	WorkOrderID types.ID `json:"workOrderId" binding:"required_without=VersionID"`
	VersionID   types.ID `json:"versionId" binding:"required_without=WorkOrderID"`
}

type ExecutionQuery struct {
	PlantID     types.ID `form:"plantId"`
	WorkOrderID types.ID `form:"workOrderId"`
	StateName   string   `form:"stateName"`
}

type ExecutionDetail struct {
	FormExecution

	Responses []TaskResponse `json:"responses" gorm:"-"`
}

// CreateExecution instantiates a run of a published form version. When bound
// to a work order the snapshot is taken from the order; otherwise from the
// version itself.
func CreateExecution(c *ExecutionCreation, s *session.Session) (*FormExecution, error) {
	if c.WorkOrderID == 0 && c.VersionID == 0 {
		return nil, &bizerror.ErrBadParam{Cause: errors.New("either workOrderId or versionId is required")}
	}

	var record *FormExecution
	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		e := FormExecution{
			ID:         common.NextId(executionIdWorker),
			StateName:  StatePending,
			CreateTime: types.CurrentTimestamp(), Creator: s.Identity.ID,
		}

		if c.WorkOrderID != 0 {
			var w workorder.WorkOrder
			if err := tx.Where(&workorder.WorkOrder{ID: c.WorkOrderID}).First(&w).Error; err != nil {
				return err
			}
			if w.FormSnapshot.IsZero() {
				return bizerror.ErrNotFound
			}
			e.WorkOrderID = w.ID
			e.PlantID = w.PlantID
			e.Snapshot = w.FormSnapshot
		} else {
			var v form.FormVersion
			if err := tx.Where(&form.FormVersion{ID: c.VersionID}).First(&v).Error; err != nil {
				return err
			}
			var f form.Form
			if err := tx.Where(&form.Form{ID: v.FormID}).First(&f).Error; err != nil {
				return err
			}
			e.PlantID = f.PlantID
			e.Snapshot = v.Snapshot
		}
		if !s.Perms.HasRoleSuffix("_" + e.PlantID.String()) {
			return bizerror.ErrForbidden
		}
		e.FormID = e.Snapshot.FormID
		e.VersionID = e.Snapshot.VersionID

		if err := tx.Create(&e).Error; err != nil {
			return err
		}
		record = &e
		_, err := event.CreateEvent(event.SourceTypeFormExecution, e.ID, e.Snapshot.FormName, event.EventCategoryCreated,
			nil, nil, &s.Identity, e.CreateTime, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func QueryExecutions(query *ExecutionQuery, s *session.Session) (*[]FormExecution, error) {
	var executions []FormExecution
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)

	q := db.Model(&FormExecution{})
	if query.PlantID != 0 {
		q = q.Where(&FormExecution{PlantID: query.PlantID})
	}
	if query.WorkOrderID != 0 {
		q = q.Where(&FormExecution{WorkOrderID: query.WorkOrderID})
	}
	if query.StateName != "" {
		q = q.Where(&FormExecution{StateName: query.StateName})
	}
	visiblePlants := s.VisiblePlants()
	if len(visiblePlants) == 0 {
		return &[]FormExecution{}, nil
	}
	q = q.Where("plant_id in (?)", visiblePlants).Order("create_time DESC")
	if err := q.Find(&executions).Error; err != nil {
		return nil, err
	}
	return &executions, nil
}

func DetailExecution(id types.ID, s *session.Session) (*ExecutionDetail, error) {
	detail := ExecutionDetail{}
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	if err := db.Where(&FormExecution{ID: id}).First(&detail.FormExecution).Error; err != nil {
		return nil, err
	}
	if !s.Perms.HasPlantViewPerm(detail.PlantID) {
		return nil, bizerror.ErrForbidden
	}
	if err := db.Where(&TaskResponse{ExecutionID: id}).Find(&detail.Responses).Error; err != nil {
		return nil, err
	}
	return &detail, nil
}

func StartExecution(id types.ID, s *session.Session) error {
	return persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		e, err := findExecutionAndCheckPerms(tx, id, s)
		if err != nil {
			return err
		}
		if e.StateName != StatePending {
			return bizerror.ErrExecutionStateInvalid
		}

		now := types.CurrentTimestamp()
		query := tx.Model(&FormExecution{}).Where(&FormExecution{ID: id, StateName: StatePending}).
			Updates(map[string]interface{}{"state_name": StateInProgress, "start_time": now,
				"executor_id": s.Identity.ID, "executor_name": s.Identity.Nickname})
		if err := query.Error; err != nil {
			return err
		}
		if query.RowsAffected != 1 {
			return bizerror.ErrExecutionStateInvalid
		}
		_, err = createStateEvent(tx, e, StatePending, StateInProgress, s, now)
		return err
	})
}

func CancelExecution(id types.ID, s *session.Session) error {
	return persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		e, err := findExecutionAndCheckPerms(tx, id, s)
		if err != nil {
			return err
		}
		if e.StateName != StatePending && e.StateName != StateInProgress {
			return bizerror.ErrExecutionStateInvalid
		}

		now := types.CurrentTimestamp()
		query := tx.Model(&FormExecution{}).Where(&FormExecution{ID: id, StateName: e.StateName}).
			Updates(map[string]interface{}{"state_name": StateCancelled, "end_time": now})
		if err := query.Error; err != nil {
			return err
		}
		if query.RowsAffected != 1 {
			return bizerror.ErrExecutionStateInvalid
		}
		_, err = createStateEvent(tx, e, e.StateName, StateCancelled, s, now)
		return err
	})
}

// CompleteExecution explicitly finishes the run. It shares the required-task
// predicate with the auto-completion path so the two can never diverge.
func CompleteExecution(id types.ID, s *session.Session) error {
	var ev *event.EventRecord
	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		e, err := findExecutionAndCheckPerms(tx, id, s)
		if err != nil {
			return err
		}
		if e.StateName != StateInProgress {
			return bizerror.ErrExecutionStateInvalid
		}

		responses, err := loadResponses(tx, e.ID)
		if err != nil {
			return err
		}
		missing := MissingRequiredTasks(e.Snapshot, responses)
		if len(missing) > 0 {
			return &bizerror.ErrRequiredTasksIncomplete{MissingTasks: missing}
		}

		ev, err = completeInTx(tx, e, s)
		return err
	})
	if err != nil {
		return err
	}

	if event.InvokeHandlersFunc != nil {
		event.InvokeHandlersFunc(ev)
	}
	return nil
}

func completeInTx(tx *gorm.DB, e *FormExecution, s *session.Session) (*event.EventRecord, error) {
	now := types.CurrentTimestamp()
	query := tx.Model(&FormExecution{}).Where(&FormExecution{ID: e.ID, StateName: StateInProgress}).
		Updates(map[string]interface{}{"state_name": StateCompleted, "end_time": now})
	if err := query.Error; err != nil {
		return nil, err
	}
	if query.RowsAffected != 1 {
		return nil, bizerror.ErrExecutionStateInvalid
	}
	return createStateEvent(tx, e, StateInProgress, StateCompleted, s, now)
}

func createStateEvent(tx *gorm.DB, e *FormExecution, from, to string, s *session.Session, now types.Timestamp) (*event.EventRecord, error) {
	return event.CreateEvent(event.SourceTypeFormExecution, e.ID, e.Snapshot.FormName, event.EventCategoryPropertyUpdated,
		[]event.UpdatedProperty{{
			PropertyName: "StateName", PropertyDesc: "StateName",
			OldValue: from, OldValueDesc: from,
			NewValue: to, NewValueDesc: to,
		}}, nil, &s.Identity, now, tx)
}

// MissingRequiredTasks is the single completion predicate shared by explicit
// completion and the auto-completion path after the last response.
func MissingRequiredTasks(snapshot form.FormSnapshot, responses []TaskResponse) []form.TaskSnapshot {
	completed := map[types.ID]bool{}
	for _, r := range responses {
		if r.Completed {
			completed[r.TaskID] = true
		}
	}

	missing := []form.TaskSnapshot{}
	for _, t := range snapshot.Tasks {
		if t.Required && !completed[t.TaskID] {
			missing = append(missing, t)
		}
	}
	return missing
}

// VersionReferencedCheck reports whether any execution still references the
// form version. Installed as form.VersionReferencedCheckFunc at startup.
func VersionReferencedCheck(db *gorm.DB, versionId types.ID) (bool, error) {
	var count int64
	if err := db.Model(&FormExecution{}).Where(&FormExecution{VersionID: versionId}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func findExecutionAndCheckPerms(db *gorm.DB, id types.ID, s *session.Session) (*FormExecution, error) {
	var e FormExecution
	if err := db.Where(&FormExecution{ID: id}).First(&e).Error; err != nil {
		return nil, err
	}
	if s == nil || !s.Perms.HasRoleSuffix("_"+e.PlantID.String()) {
		return nil, bizerror.ErrForbidden
	}
	return &e, nil
}
