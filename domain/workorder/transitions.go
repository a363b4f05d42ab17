package workorder

import (
	"maintos/bizerror"
	"maintos/common"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
)

var (
	TransitionWorkOrderFunc = TransitionWorkOrder
	QueryProcessStepsFunc   = QueryProcessSteps
)

type WorkOrderTransition struct {
	WorkOrderID types.ID `json:"workOrderId" binding:"required"`
	FromState   string   `json:"fromState" binding:"required"`
	ToState     string   `json:"toState" binding:"required"`
}

// TransitionWorkOrder moves a work order along the fixed status lifecycle.
// An edge missing from the adjacency table fails with
// ErrStateTransitionInvalid before any write happens.
func TransitionWorkOrder(c *WorkOrderTransition, s *session.Session) error {
	availableTransitions := WorkOrderStateMachine.AvailableTransitions(c.FromState, c.ToState)
	if len(availableTransitions) != 1 {
		return bizerror.ErrStateTransitionInvalid
	}
	toState, found := WorkOrderStateMachine.FindState(c.ToState)
	if !found {
		return bizerror.ErrUnknownState
	}

	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	var ev *event.EventRecord
	err := db.Transaction(func(tx *gorm.DB) error {
		w := WorkOrder{ID: c.WorkOrderID}
		if err := tx.Where(&w).First(&w).Error; err != nil {
			return err
		}
		if !s.Perms.HasRoleSuffix("_" + w.PlantID.String()) {
			return bizerror.ErrForbidden
		}
		if w.StateName != c.FromState {
			return bizerror.ErrStateTransitionInvalid
		}

		now := types.CurrentTimestamp()
		query := tx.Model(&WorkOrder{}).Where(&WorkOrder{ID: w.ID, StateName: c.FromState}).
			Update(&WorkOrder{StateName: toState.Name, StateCategory: toState.Category, StateBeginTime: now})
		if err := query.Error; err != nil {
			return err
		}
		if query.RowsAffected != 1 {
			return bizerror.ErrStateTransitionInvalid
		}

		stamps := map[string]interface{}{}
		switch toState.Name {
		case StateApproved.Name:
			stamps["approve_time"] = now
			stamps["approver_id"] = s.Identity.ID
		case StateExecuting.Name:
			stamps["execution_begin_time"] = now
			stamps["executor_id"] = s.Identity.ID
		}
		if toState.Category.Terminal() && w.EndTime.IsZero() {
			stamps["end_time"] = now
		}
		if len(stamps) > 0 {
			if err := tx.Model(&WorkOrder{}).Where(&WorkOrder{ID: w.ID}).Updates(stamps).Error; err != nil {
				return err
			}
		}

		ret := tx.Model(&WorkOrderProcessStep{}).
			Where(&WorkOrderProcessStep{WorkOrderID: w.ID, StateName: c.FromState}).
			Where("end_time = ?", types.Timestamp{}).
			Update(&WorkOrderProcessStep{EndTime: now, NextStateName: toState.Name, NextStateCategory: toState.Category})
		if ret.Error != nil {
			return ret.Error
		}
		if ret.RowsAffected != 1 {
			return bizerror.ErrStateTransitionInvalid
		}
		nextStep := WorkOrderProcessStep{ID: common.NextId(stepIdWorker), WorkOrderID: w.ID,
			StateName: toState.Name, StateCategory: toState.Category, BeginTime: now,
			CreatorID: s.Identity.ID, CreatorName: s.Identity.Nickname}
		if err := tx.Create(&nextStep).Error; err != nil {
			return err
		}

		var err error
		ev, err = event.CreateEvent(event.SourceTypeWorkOrder, w.ID, w.Identifier, event.EventCategoryPropertyUpdated,
			[]event.UpdatedProperty{{
				PropertyName: "StateName", PropertyDesc: "StateName",
				OldValue: w.StateName, OldValueDesc: w.StateName,
				NewValue: toState.Name, NewValueDesc: toState.Name,
			}}, nil, &s.Identity, now, tx)
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

type ProcessStepQuery struct {
	WorkOrderID types.ID `form:"workOrderId" binding:"required"`
}

func QueryProcessSteps(query *ProcessStepQuery, s *session.Session) (*[]WorkOrderProcessStep, error) {
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	w := WorkOrder{}
	if err := db.Where(&WorkOrder{ID: query.WorkOrderID}).Select("plant_id").First(&w).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return &[]WorkOrderProcessStep{}, nil
		}
		return nil, err
	}
	if !s.Perms.HasPlantViewPerm(w.PlantID) {
		return &[]WorkOrderProcessStep{}, nil
	}

	var steps []WorkOrderProcessStep
	if err := db.Where(&WorkOrderProcessStep{WorkOrderID: query.WorkOrderID}).Find(&steps).Error; err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		steps = []WorkOrderProcessStep{}
	}
	return &steps, nil
}
