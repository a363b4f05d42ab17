package routine

import (
	"strconv"

	"maintos/bizerror"
	"maintos/common"
	"maintos/domain/workorder"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sony/sonyflake"
)

var (
	routineIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	CreateRoutineFunc = CreateRoutine
	QueryRoutinesFunc = QueryRoutines
	DetailRoutineFunc = DetailRoutine
	UpdateRoutineFunc = UpdateRoutine
)

const (
	TriggerKindRuntimeHours = "runtime_hours"
	TriggerKindCalendarDays = "calendar_days"

	ExecutionModeManual    = "manual"
	ExecutionModeAutomatic = "automatic"
)

// Routine is a recurring maintenance policy bound to one asset. Baselines
// (LastExecutionRuntimeHours, LastExecutionCompletedAt) are nil/zero until
// the first generated work order completes; a routine without a baseline is
// due immediately.
type Routine struct {
	ID      types.ID `json:"id" gorm:"primary_key"`
	Name    string   `json:"name"`
	PlantID types.ID `json:"plantId"`
	AssetID types.ID `json:"assetId" gorm:"index:idx_routine_asset"`

	TriggerKind         string  `json:"triggerKind"`
	TriggerRuntimeHours float64 `json:"triggerRuntimeHours"`
	TriggerCalendarDays int     `json:"triggerCalendarDays"`

	AdvanceNoticeHours float64 `json:"advanceNoticeHours"`
	AdvanceNoticeDays  int     `json:"advanceNoticeDays"`

	ExecutionMode     string `json:"executionMode"`
	Active            bool   `json:"active"`
	AutoApproveOrders bool   `json:"autoApproveOrders"`

	DefaultPriority   string   `json:"defaultPriority"`
	DefaultDiscipline string   `json:"defaultDiscipline"`
	DefaultCategory   string   `json:"defaultCategory"`
	TypeID            types.ID `json:"typeId"`

	FormID              types.ID `json:"formId"`
	ActiveFormVersionID types.ID `json:"activeFormVersionId"`

	LastExecutionRuntimeHours *float64        `json:"lastExecutionRuntimeHours"`
	LastExecutionCompletedAt  types.Timestamp `json:"lastExecutionCompletedAt" sql:"type:DATETIME(6)"`
	LastGenerationTime        types.Timestamp `json:"lastGenerationTime" sql:"type:DATETIME(6)"`

	CreateTime types.Timestamp `json:"createTime" sql:"type:DATETIME(6) NOT NULL"`
	Creator    types.ID        `json:"creator"`
}

type RoutineCreation struct {
	Name    string   `json:"name" binding:"required,lte=120"`
	PlantID types.ID `json:"plantId" binding:"required"`
	AssetID types.ID `json:"assetId" binding:"required"`

	TriggerKind         string  `json:"triggerKind" binding:"required,oneof=runtime_hours calendar_days"`
	TriggerRuntimeHours float64 `json:"triggerRuntimeHours" binding:"omitempty,gt=0"`
	TriggerCalendarDays int     `json:"triggerCalendarDays" binding:"omitempty,gt=0"`

	AdvanceNoticeHours float64 `json:"advanceNoticeHours" binding:"omitempty,gte=0"`
	AdvanceNoticeDays  int     `json:"advanceNoticeDays" binding:"omitempty,gte=0"`

	ExecutionMode     string `json:"executionMode" binding:"required,oneof=manual automatic"`
	AutoApproveOrders bool   `json:"autoApproveOrders"`

	DefaultPriority   string   `json:"defaultPriority" binding:"omitempty,oneof=low medium high critical"`
	DefaultDiscipline string   `json:"defaultDiscipline" binding:"omitempty,oneof=maintenance quality safety"`
	DefaultCategory   string   `json:"defaultCategory" binding:"omitempty,lte=30"`
	TypeID            types.ID `json:"typeId"`

	FormID types.ID `json:"formId"`
}

type RoutineUpdating struct {
	Name string `json:"name" binding:"required,lte=120"`

	TriggerRuntimeHours float64 `json:"triggerRuntimeHours" binding:"omitempty,gt=0"`
	TriggerCalendarDays int     `json:"triggerCalendarDays" binding:"omitempty,gt=0"`
	AdvanceNoticeHours  float64 `json:"advanceNoticeHours" binding:"omitempty,gte=0"`
	AdvanceNoticeDays   int     `json:"advanceNoticeDays" binding:"omitempty,gte=0"`

	ExecutionMode     string `json:"executionMode" binding:"required,oneof=manual automatic"`
	Active            *bool  `json:"active" binding:"required"`
	AutoApproveOrders bool   `json:"autoApproveOrders"`
}

type RoutineQuery struct {
	PlantID types.ID `form:"plantId"`
	AssetID types.ID `form:"assetId"`
}

func CreateRoutine(c *RoutineCreation, s *session.Session) (*Routine, error) {
	if !s.Perms.HasRoleSuffix("_" + c.PlantID.String()) {
		return nil, bizerror.ErrForbidden
	}

	r := Routine{
		ID: common.NextId(routineIdWorker), Name: c.Name, PlantID: c.PlantID, AssetID: c.AssetID,
		TriggerKind: c.TriggerKind, TriggerRuntimeHours: c.TriggerRuntimeHours, TriggerCalendarDays: c.TriggerCalendarDays,
		AdvanceNoticeHours: c.AdvanceNoticeHours, AdvanceNoticeDays: c.AdvanceNoticeDays,
		ExecutionMode: c.ExecutionMode, Active: true, AutoApproveOrders: c.AutoApproveOrders,
		DefaultPriority: c.DefaultPriority, DefaultDiscipline: c.DefaultDiscipline, DefaultCategory: c.DefaultCategory,
		TypeID: c.TypeID, FormID: c.FormID,
		CreateTime: types.CurrentTimestamp(), Creator: s.Identity.ID,
	}

	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		// fail fast: a routine whose defaults can never pass work order
		// creation would otherwise only surface as generation scan warnings
		discipline, category := c.DefaultDiscipline, c.DefaultCategory
		if c.TypeID != 0 {
			var t workorder.WorkOrderType
			if err := tx.Where(&workorder.WorkOrderType{ID: c.TypeID}).First(&t).Error; err != nil {
				return err
			}
			if discipline == "" {
				discipline = t.Discipline
			}
			if category == "" {
				category = t.Category
			}
		}
		if discipline == "" {
			discipline = workorder.DisciplineMaintenance
		}
		if err := workorder.ValidateCategory(discipline, category); err != nil {
			return err
		}

		if c.FormID != 0 {
			if versionId, err := currentFormVersion(tx, c.FormID); err != nil {
				return err
			} else {
				r.ActiveFormVersionID = versionId
			}
		}
		if err := tx.Create(&r).Error; err != nil {
			return err
		}
		_, err := event.CreateEvent(event.SourceTypeRoutine, r.ID, r.Name, event.EventCategoryCreated,
			nil, nil, &s.Identity, r.CreateTime, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func QueryRoutines(query *RoutineQuery, s *session.Session) (*[]Routine, error) {
	var routines []Routine
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)

	q := db.Model(&Routine{})
	if query.PlantID != 0 {
		q = q.Where(&Routine{PlantID: query.PlantID})
	}
	if query.AssetID != 0 {
		q = q.Where(&Routine{AssetID: query.AssetID})
	}
	visiblePlants := s.VisiblePlants()
	if len(visiblePlants) == 0 {
		return &[]Routine{}, nil
	}
	q = q.Where("plant_id in (?)", visiblePlants).Order("name ASC")
	if err := q.Find(&routines).Error; err != nil {
		return nil, err
	}
	return &routines, nil
}

func DetailRoutine(id types.ID, s *session.Session) (*Routine, error) {
	r := Routine{}
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	if err := db.Where(&Routine{ID: id}).First(&r).Error; err != nil {
		return nil, err
	}
	if !s.Perms.HasPlantViewPerm(r.PlantID) {
		return nil, bizerror.ErrForbidden
	}
	return &r, nil
}

func UpdateRoutine(id types.ID, u *RoutineUpdating, s *session.Session) (*Routine, error) {
	var updated Routine
	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		origin := Routine{}
		if err := tx.Where(&Routine{ID: id}).First(&origin).Error; err != nil {
			return err
		}
		if !s.Perms.HasRoleSuffix("_" + origin.PlantID.String()) {
			return bizerror.ErrForbidden
		}

		changes := map[string]interface{}{
			"name": u.Name, "execution_mode": u.ExecutionMode,
			"active": *u.Active, "auto_approve_orders": u.AutoApproveOrders,
		}
		if u.TriggerRuntimeHours > 0 {
			changes["trigger_runtime_hours"] = u.TriggerRuntimeHours
		}
		if u.TriggerCalendarDays > 0 {
			changes["trigger_calendar_days"] = u.TriggerCalendarDays
		}
		changes["advance_notice_hours"] = u.AdvanceNoticeHours
		changes["advance_notice_days"] = u.AdvanceNoticeDays
		if err := tx.Model(&Routine{}).Where(&Routine{ID: id}).Updates(changes).Error; err != nil {
			return err
		}

		updatedProperties := []event.UpdatedProperty{}
		appendChange := func(name, oldValue, newValue string) {
			if oldValue == newValue {
				return
			}
			updatedProperties = append(updatedProperties, event.UpdatedProperty{
				PropertyName: name, PropertyDesc: name,
				OldValue: oldValue, OldValueDesc: oldValue,
				NewValue: newValue, NewValueDesc: newValue,
			})
		}
		appendChange("Name", origin.Name, u.Name)
		appendChange("ExecutionMode", origin.ExecutionMode, u.ExecutionMode)
		appendChange("Active", strconv.FormatBool(origin.Active), strconv.FormatBool(*u.Active))
		appendChange("AutoApproveOrders", strconv.FormatBool(origin.AutoApproveOrders), strconv.FormatBool(u.AutoApproveOrders))
		if u.TriggerRuntimeHours > 0 {
			appendChange("TriggerRuntimeHours",
				strconv.FormatFloat(origin.TriggerRuntimeHours, 'f', -1, 64),
				strconv.FormatFloat(u.TriggerRuntimeHours, 'f', -1, 64))
		}
		if u.TriggerCalendarDays > 0 {
			appendChange("TriggerCalendarDays",
				strconv.Itoa(origin.TriggerCalendarDays), strconv.Itoa(u.TriggerCalendarDays))
		}
		appendChange("AdvanceNoticeHours",
			strconv.FormatFloat(origin.AdvanceNoticeHours, 'f', -1, 64),
			strconv.FormatFloat(u.AdvanceNoticeHours, 'f', -1, 64))
		appendChange("AdvanceNoticeDays",
			strconv.Itoa(origin.AdvanceNoticeDays), strconv.Itoa(u.AdvanceNoticeDays))

		if len(updatedProperties) > 0 {
			_, err := event.CreateEvent(event.SourceTypeRoutine, origin.ID, origin.Name, event.EventCategoryPropertyUpdated,
				updatedProperties, nil, &s.Identity, types.CurrentTimestamp(), tx)
			if err != nil {
				return err
			}
		}
		return tx.Where(&Routine{ID: id}).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
