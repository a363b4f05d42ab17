package workorder

import (
	"maintos/bizerror"
	"maintos/common"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/sony/sonyflake"
)

var (
	typeIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	CreateWorkOrderTypeFunc = CreateWorkOrderType
	QueryWorkOrderTypesFunc = QueryWorkOrderTypes
)

const (
	DisciplineMaintenance = "maintenance"
	DisciplineQuality     = "quality"
	DisciplineSafety      = "safety"
)

// categoriesOfDiscipline is the fixed compatibility table between the two
// classification axes. Checked at work order creation, not on transitions.
var categoriesOfDiscipline = map[string][]string{
	DisciplineMaintenance: {"preventive", "corrective", "predictive"},
	DisciplineQuality:     {"calibration", "audit"},
	DisciplineSafety:      {"inspection", "incident"},
}

func ValidateCategory(discipline string, category string) error {
	for _, c := range categoriesOfDiscipline[discipline] {
		if c == category {
			return nil
		}
	}
	return bizerror.ErrCategoryDisciplineMismatch
}

// WorkOrderType is a reusable template naming a discipline/category pair.
type WorkOrderType struct {
	ID   types.ID `json:"id" gorm:"primary_key"`
	Name string   `json:"name" gorm:"unique_index:type_name_unique"`

	Discipline string `json:"discipline"`
	Category   string `json:"category"`

	CreateTime types.Timestamp `json:"createTime" sql:"type:DATETIME(6) NOT NULL"`
	Creator    types.ID        `json:"creator"`
}

type WorkOrderTypeCreation struct {
	Name       string `json:"name" binding:"required,lte=60"`
	Discipline string `json:"discipline" binding:"required,oneof=maintenance quality safety"`
	Category   string `json:"category" binding:"required,lte=30"`
}

func CreateWorkOrderType(c *WorkOrderTypeCreation, s *session.Session) (*WorkOrderType, error) {
	if err := ValidateCategory(c.Discipline, c.Category); err != nil {
		return nil, err
	}

	t := WorkOrderType{
		ID: common.NextId(typeIdWorker), Name: c.Name,
		Discipline: c.Discipline, Category: c.Category,
		CreateTime: types.CurrentTimestamp(), Creator: s.Identity.ID,
	}
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	if err := db.Create(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func QueryWorkOrderTypes(s *session.Session) (*[]WorkOrderType, error) {
	var records []WorkOrderType
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	if err := db.Order("name ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return &records, nil
}
