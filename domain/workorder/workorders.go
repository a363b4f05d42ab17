package workorder

import (
	"errors"

	"maintos/bizerror"
	"maintos/common"
	"maintos/domain/form"
	"maintos/domain/plant"
	"maintos/domain/state"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sony/sonyflake"
)

var (
	workOrderIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})
	stepIdWorker      = sonyflake.NewSonyflake(sonyflake.Settings{})

	CreateWorkOrderFunc = CreateWorkOrder
	QueryWorkOrdersFunc = QueryWorkOrders
	DetailWorkOrderFunc = DetailWorkOrder
	LoadWorkOrdersFunc  = LoadWorkOrders
)

const (
	SourceKindRoutine = "routine"
	SourceKindManual  = "manual"

	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

var (
	StateRequested = state.State{Name: "requested", Category: state.InRequest}
	StateApproved  = state.State{Name: "approved", Category: state.InProcess}
	StateExecuting = state.State{Name: "executing", Category: state.InProcess}
	StateCompleted = state.State{Name: "completed", Category: state.Done}
	StateRejected  = state.State{Name: "rejected", Category: state.Rejected}
	StateCancelled = state.State{Name: "cancelled", Category: state.Cancelled}
	StateClosed    = state.State{Name: "closed", Category: state.Done}

	// WorkOrderStateMachine is the fixed adjacency table of the status
	// lifecycle. Edges missing here are rejected without mutation.
	WorkOrderStateMachine = state.NewStateMachine(
		[]state.State{StateRequested, StateApproved, StateExecuting, StateCompleted, StateRejected, StateCancelled, StateClosed},
		[]state.Transition{
			{Name: "approve", From: StateRequested.Name, To: StateApproved.Name},
			{Name: "reject", From: StateRequested.Name, To: StateRejected.Name},
			{Name: "cancel", From: StateRequested.Name, To: StateCancelled.Name},
			{Name: "begin", From: StateApproved.Name, To: StateExecuting.Name},
			{Name: "cancel", From: StateApproved.Name, To: StateCancelled.Name},
			{Name: "complete", From: StateExecuting.Name, To: StateCompleted.Name},
			{Name: "close", From: StateCompleted.Name, To: StateClosed.Name},
		})
)

// WorkOrder is a trackable unit of maintenance work. The Identifier is
// allocated from the plant's counter; FormSnapshot, when present, is the
// frozen copy of the routine's active form version at generation time.
type WorkOrder struct {
	ID         types.ID `json:"id" gorm:"primary_key"`
	Identifier string   `json:"identifier" gorm:"unique_index:work_order_identifier_unique"`

	PlantID types.ID `json:"plantId"`
	AssetID types.ID `json:"assetId" gorm:"index:idx_order_asset"`
	TypeID  types.ID `json:"typeId"`

	Title       string `json:"title"`
	Description string `json:"description"`

	SourceKind string   `json:"sourceKind"`
	SourceID   types.ID `json:"sourceId" gorm:"index:idx_order_source"`

	Discipline string `json:"discipline"`
	Category   string `json:"category"`
	Priority   string `json:"priority"`

	FormSnapshot form.FormSnapshot `json:"formSnapshot" sql:"type:TEXT"`

	StateName      string          `json:"stateName"`
	StateCategory  state.Category  `json:"stateCategory"`
	StateBeginTime types.Timestamp `json:"stateBeginTime" sql:"type:DATETIME(6)"`

	CreateTime types.Timestamp `json:"createTime" sql:"type:DATETIME(6) NOT NULL"`
	Creator    types.ID        `json:"creator"`

	ApproveTime types.Timestamp `json:"approveTime" sql:"type:DATETIME(6)"`
	ApproverID  types.ID        `json:"approverId"`

	ExecutionBeginTime types.Timestamp `json:"executionBeginTime" sql:"type:DATETIME(6)"`
	ExecutorID         types.ID        `json:"executorId"`

	EndTime types.Timestamp `json:"endTime" sql:"type:DATETIME(6)"`
}

// WorkOrderProcessStep records how long a work order stayed in each state.
type WorkOrderProcessStep struct {
	ID          types.ID `json:"id" gorm:"primary_key"`
	WorkOrderID types.ID `json:"workOrderId" gorm:"index:idx_step_order"`

	StateName     string         `json:"stateName"`
	StateCategory state.Category `json:"stateCategory"`

	BeginTime types.Timestamp `json:"beginTime" sql:"type:DATETIME(6) NOT NULL"`
	EndTime   types.Timestamp `json:"endTime" sql:"type:DATETIME(6)"`

	NextStateName     string         `json:"nextStateName"`
	NextStateCategory state.Category `json:"nextStateCategory"`

	CreatorID   types.ID `json:"creatorId"`
	CreatorName string   `json:"creatorName"`
}

type WorkOrderCreation struct {
	PlantID types.ID `json:"plantId" binding:"required"`
	AssetID types.ID `json:"assetId" binding:"required"`
	TypeID  types.ID `json:"typeId"`

	Title       string `json:"title" binding:"required,lte=200"`
	Description string `json:"description"`

	SourceKind string   `json:"sourceKind" binding:"omitempty,oneof=routine manual"`
	SourceID   types.ID `json:"sourceId"`

	Discipline string `json:"discipline" binding:"omitempty,oneof=maintenance quality safety"`
	Category   string `json:"category" binding:"omitempty,lte=30"`
	Priority   string `json:"priority" binding:"omitempty,oneof=low medium high critical"`

	FormSnapshot form.FormSnapshot `json:"formSnapshot"`

	AutoApprove bool `json:"autoApprove"`
}

type WorkOrderQuery struct {
	PlantID   types.ID `form:"plantId"`
	AssetID   types.ID `form:"assetId"`
	StateName string   `form:"stateName"`
}

type WorkOrderDetail struct {
	WorkOrder

	ProcessSteps []WorkOrderProcessStep `json:"processSteps" gorm:"-"`
}

func CreateWorkOrder(c *WorkOrderCreation, s *session.Session) (*WorkOrder, error) {
	if !s.Perms.HasRoleSuffix("_" + c.PlantID.String()) {
		return nil, bizerror.ErrForbidden
	}

	var record *WorkOrder
	var ev *event.EventRecord
	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		var err error
		record, ev, err = CreateWorkOrderInTx(tx, c, s)
		return err
	})
	if err != nil {
		return nil, err
	}

	if event.InvokeHandlersFunc != nil {
		event.InvokeHandlersFunc(ev)
	}
	return record, nil
}

// CreateWorkOrderInTx is the creation primitive shared by manual requests and
// the generation engine, which wants the order inside its own transaction.
func CreateWorkOrderInTx(tx *gorm.DB, c *WorkOrderCreation, s *session.Session) (*WorkOrder, *event.EventRecord, error) {
	discipline, category, priority := c.Discipline, c.Category, c.Priority
	if c.TypeID != 0 {
		var t WorkOrderType
		if err := tx.Where(&WorkOrderType{ID: c.TypeID}).First(&t).Error; err != nil {
			return nil, nil, err
		}
		if discipline == "" {
			discipline = t.Discipline
		}
		if category == "" {
			category = t.Category
		}
	}
	if discipline == "" {
		discipline = DisciplineMaintenance
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if err := ValidateCategory(discipline, category); err != nil {
		return nil, nil, err
	}

	identifier, err := plant.NextWorkOrderIdentifier(c.PlantID, tx)
	if err != nil {
		return nil, nil, err
	}

	sourceKind := c.SourceKind
	if sourceKind == "" {
		sourceKind = SourceKindManual
	}
	sourceId := c.SourceID
	if sourceKind == SourceKindManual && sourceId == 0 {
		sourceId = s.Identity.ID
	}

	now := types.CurrentTimestamp()
	initState := StateRequested
	w := WorkOrder{
		ID: common.NextId(workOrderIdWorker), Identifier: identifier,
		PlantID: c.PlantID, AssetID: c.AssetID, TypeID: c.TypeID,
		Title: c.Title, Description: c.Description,
		SourceKind: sourceKind, SourceID: sourceId,
		Discipline: discipline, Category: category, Priority: priority,
		FormSnapshot: c.FormSnapshot,
		StateName:    initState.Name, StateCategory: initState.Category, StateBeginTime: now,
		CreateTime: now, Creator: s.Identity.ID,
	}
	if c.AutoApprove {
		w.StateName = StateApproved.Name
		w.StateCategory = StateApproved.Category
		w.ApproveTime = now
		w.ApproverID = s.Identity.ID
	}
	if err := tx.Create(&w).Error; err != nil {
		return nil, nil, err
	}

	firstStep := WorkOrderProcessStep{ID: common.NextId(stepIdWorker), WorkOrderID: w.ID,
		StateName: w.StateName, StateCategory: w.StateCategory, BeginTime: now,
		CreatorID: s.Identity.ID, CreatorName: s.Identity.Nickname}
	if err := tx.Create(&firstStep).Error; err != nil {
		return nil, nil, err
	}

	ev, err := event.CreateEvent(event.SourceTypeWorkOrder, w.ID, w.Identifier, event.EventCategoryCreated,
		nil, nil, &s.Identity, now, tx)
	if err != nil {
		return nil, nil, err
	}
	return &w, ev, nil
}

// FindOpenOrderOfRoutine returns the first non-terminal work order generated
// from the routine, or nil when none exists.
func FindOpenOrderOfRoutine(db *gorm.DB, routineId types.ID) (*WorkOrder, error) {
	var w WorkOrder
	err := db.Where(&WorkOrder{SourceKind: SourceKindRoutine, SourceID: routineId}).
		Where("state_category in (?)", []state.Category{state.InRequest, state.InProcess}).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func QueryWorkOrders(query *WorkOrderQuery, s *session.Session) (*[]WorkOrder, error) {
	var orders []WorkOrder
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)

	q := db.Model(&WorkOrder{})
	if query.PlantID != 0 {
		q = q.Where(&WorkOrder{PlantID: query.PlantID})
	}
	if query.AssetID != 0 {
		q = q.Where(&WorkOrder{AssetID: query.AssetID})
	}
	if query.StateName != "" {
		q = q.Where(&WorkOrder{StateName: query.StateName})
	}
	visiblePlants := s.VisiblePlants()
	if len(visiblePlants) == 0 {
		return &[]WorkOrder{}, nil
	}
	q = q.Where("plant_id in (?)", visiblePlants).Order("create_time DESC")
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return &orders, nil
}

// LoadWorkOrders pages through all work orders without permission filtering,
// for the index synchronizer.
func LoadWorkOrders(page int, size int) ([]WorkOrder, error) {
	var orders []WorkOrder
	db := persistence.ActiveDataSourceManager.GormDB(nil)
	if err := db.Model(&WorkOrder{}).Order("id ASC").
		Offset((page - 1) * size).Limit(size).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func DetailWorkOrder(id types.ID, s *session.Session) (*WorkOrderDetail, error) {
	detail := WorkOrderDetail{}
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	if err := db.Where(&WorkOrder{ID: id}).First(&detail.WorkOrder).Error; err != nil {
		return nil, err
	}
	if !s.Perms.HasPlantViewPerm(detail.PlantID) {
		return nil, bizerror.ErrForbidden
	}
	if err := db.Where(&WorkOrderProcessStep{WorkOrderID: id}).Order("begin_time ASC").
		Find(&detail.ProcessSteps).Error; err != nil {
		return nil, err
	}
	return &detail, nil
}
