package routine

import (
	"fmt"

	"maintos/domain/asset"
	"maintos/domain/form"
	"maintos/domain/workorder"
	"maintos/event"
	"maintos/persistence"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
)

var WorkOrderCompletionHandlerName = "routineBaselineUpdater"

// HandleWorkOrderCompleted advances the owning routine's execution baselines
// when a generated work order reaches completed. Registered as an event
// handler at startup.
func HandleWorkOrderCompleted(e *event.EventRecord) *event.EventHandleResult {
	if e.SourceType != event.SourceTypeWorkOrder || e.EventCategory != event.EventCategoryPropertyUpdated {
		return nil
	}
	completed := false
	for _, p := range e.UpdatedProperties {
		if p.PropertyName == "StateName" && p.NewValue == workorder.StateCompleted.Name {
			completed = true
			break
		}
	}
	if !completed {
		return nil
	}

	db := persistence.ActiveDataSourceManager.GormDB(nil)
	err := db.Transaction(func(tx *gorm.DB) error {
		var w workorder.WorkOrder
		if err := tx.Where(&workorder.WorkOrder{ID: e.SourceId}).First(&w).Error; err != nil {
			return err
		}
		if w.SourceKind != workorder.SourceKindRoutine {
			return nil
		}

		changes := map[string]interface{}{"last_execution_completed_at": types.CurrentTimestamp()}
		current, err := asset.CurrentRuntimeInTx(tx, w.AssetID)
		if err != nil {
			return err
		}
		if current != nil {
			changes["last_execution_runtime_hours"] = current.Hours
		}
		return tx.Model(&Routine{}).Where(&Routine{ID: w.SourceID}).Updates(changes).Error
	})
	if err != nil {
		return &event.EventHandleResult{
			Message:           fmt.Sprintf("update routine baselines for work order %d, %v", e.SourceId, err),
			HandlerIdentifier: WorkOrderCompletionHandlerName,
		}
	}
	return &event.EventHandleResult{Success: true, HandlerIdentifier: WorkOrderCompletionHandlerName}
}

// PropagateActiveVersion points every routine bound to the form at the newly
// published version. Installed as form.PropagateActiveVersionFunc at startup
// so future generations pick up the new content.
func PropagateActiveVersion(tx *gorm.DB, formId types.ID, versionId types.ID) error {
	return tx.Model(&Routine{}).Where(&Routine{FormID: formId}).
		Update("active_form_version_id", versionId).Error
}

func currentFormVersion(tx *gorm.DB, formId types.ID) (types.ID, error) {
	var f form.Form
	if err := tx.Where(&form.Form{ID: formId}).First(&f).Error; err != nil {
		return 0, err
	}
	return f.CurrentVersionID, nil
}
