package domain

import (
	"time"

	"github.com/fundwit/go-commons/types"
)

// Plant is the top level of the asset hierarchy and the scope unit of
// permissions: roles are granted per plant.
type Plant struct {
	ID types.ID `json:"id" gorm:"primary_key"`

	Identifier string `json:"identifier" gorm:"unique_index:identifier_unique"`
	Name       string `json:"name" gorm:"unique_index:name_idx"`

	NextWorkOrderId int `json:"nextWorkOrderId" sql:"type:BIGINT UNSIGNED NOT NULL"`

	CreateTime time.Time `json:"createTime" sql:"type:DATETIME(3) NOT NULL"`
	Creator    types.ID  `json:"creator"`
}

type PlantCreating struct {
	Name       string `json:"name" binding:"required,lte=60"`
	Identifier string `json:"identifier" binding:"required,lte=6,uppercase"`
}

type PlantUpdating struct {
	Name string `json:"name" binding:"required,lte=60"`
}

const PlantRoleManager = "manager"
const PlantRoleTechnician = "technician"
const PlantRoleViewer = "viewer"

type PlantMember struct {
	PlantId  types.ID `json:"plantId" gorm:"primary_key" sql:"type:BIGINT UNSIGNED NOT NULL"`
	MemberId types.ID `json:"memberId" gorm:"primary_key" sql:"type:BIGINT UNSIGNED NOT NULL"`

	Role       string    `json:"role"`
	CreateTime time.Time `json:"createTime" sql:"type:DATETIME(3) NOT NULL"`
}

type PlantMemberCreation struct {
	PlantID  types.ID `json:"plantId"`
	MemberId types.ID `json:"memberId"`
	Role     string   `json:"role"`
}

type PlantMemberQuery struct {
	PlantID  *types.ID `form:"plantId"`
	MemberID *types.ID `form:"memberId"`
}

type PlantRole struct {
	PlantID types.ID `json:"plantId"`
	Role    string   `json:"role"`
}
