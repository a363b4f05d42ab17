package execution

import (
	"fmt"

	"maintos/account"
	"maintos/authority"
	"maintos/domain/workorder"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/jinzhu/gorm"
)

var (
	ExecutionCompletionHandlerName = "workOrderCompleter"

	completionRobot = &session.Session{
		Identity: session.Identity{ID: 21, Name: "completion-robot", Nickname: "completion-robot"},
		Perms:    authority.Permissions{account.SystemAdminPermission.ID},
	}
)

// HandleExecutionCompleted pushes the owning work order from executing to
// completed once its form execution finishes. Registered as an event handler
// at startup.
func HandleExecutionCompleted(e *event.EventRecord) *event.EventHandleResult {
	if e.SourceType != event.SourceTypeFormExecution || e.EventCategory != event.EventCategoryPropertyUpdated {
		return nil
	}
	completed := false
	for _, p := range e.UpdatedProperties {
		if p.PropertyName == "StateName" && p.NewValue == StateCompleted {
			completed = true
			break
		}
	}
	if !completed {
		return nil
	}

	db := persistence.ActiveDataSourceManager.GormDB(nil)
	var execution FormExecution
	if err := db.Where(&FormExecution{ID: e.SourceId}).First(&execution).Error; err != nil {
		return &event.EventHandleResult{
			Message:           fmt.Sprintf("load execution %d, %v", e.SourceId, err),
			HandlerIdentifier: ExecutionCompletionHandlerName,
		}
	}
	if execution.WorkOrderID == 0 {
		return nil
	}

	var w workorder.WorkOrder
	if err := db.Where(&workorder.WorkOrder{ID: execution.WorkOrderID}).First(&w).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil
		}
		return &event.EventHandleResult{
			Message:           fmt.Sprintf("load work order %d, %v", execution.WorkOrderID, err),
			HandlerIdentifier: ExecutionCompletionHandlerName,
		}
	}
	if w.StateName != workorder.StateExecuting.Name {
		return nil
	}

	robot := *completionRobot
	robot.Perms = append(authority.Permissions{}, completionRobot.Perms...)
	robot.Perms = append(robot.Perms, "manager_"+w.PlantID.String())
	transition := workorder.WorkOrderTransition{
		WorkOrderID: w.ID,
		FromState:   workorder.StateExecuting.Name,
		ToState:     workorder.StateCompleted.Name,
	}
	if err := workorder.TransitionWorkOrderFunc(&transition, &robot); err != nil {
		return &event.EventHandleResult{
			Message:           fmt.Sprintf("complete work order %d, %v", w.ID, err),
			HandlerIdentifier: ExecutionCompletionHandlerName,
		}
	}
	return &event.EventHandleResult{Success: true, HandlerIdentifier: ExecutionCompletionHandlerName}
}
