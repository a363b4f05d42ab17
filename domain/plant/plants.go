package plant

import (
	"errors"
	"fmt"
	"time"

	"maintos/account"
	"maintos/bizerror"
	"maintos/common"
	"maintos/domain"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sony/sonyflake"
)

var (
	idWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	QueryPlantsFunc       = QueryPlants
	CreatePlantFunc       = CreatePlant
	UpdatePlantFunc       = UpdatePlant
	CreatePlantMemberFunc = CreatePlantMember
	QueryPlantMembersFunc = QueryPlantMembers
	DeletePlantMemberFunc = DeletePlantMember
)

func QueryPlants(s *session.Session) (*[]domain.Plant, error) {
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)

	var plants []domain.Plant
	if s.Perms.HasRole(account.SystemAdminPermission.ID) {
		if err := db.Find(&plants).Error; err != nil {
			return nil, err
		}
		return &plants, nil
	}

	visiblePlants := s.VisiblePlants()
	if len(visiblePlants) == 0 {
		return &[]domain.Plant{}, nil
	}
	if err := db.Where("id in (?)", visiblePlants).Find(&plants).Error; err != nil {
		return nil, err
	}
	return &plants, nil
}

func CreatePlant(c *domain.PlantCreating, s *session.Session) (*domain.Plant, error) {
	if !s.Perms.HasRole(account.SystemAdminPermission.ID) {
		return nil, bizerror.ErrForbidden
	}

	now := time.Now()
	p := domain.Plant{ID: common.NextId(idWorker), Name: c.Name, Identifier: c.Identifier,
		NextWorkOrderId: 1, CreateTime: now, Creator: s.Identity.ID}
	m := domain.PlantMember{PlantId: p.ID, MemberId: s.Identity.ID, Role: domain.PlantRoleManager, CreateTime: now}
	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func UpdatePlant(id types.ID, d *domain.PlantUpdating, s *session.Session) error {
	if !s.Perms.HasRole(account.SystemAdminPermission.ID) {
		return bizerror.ErrForbidden
	}

	return persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		var p domain.Plant
		if err := tx.Where(domain.Plant{ID: id}).First(&p).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Plant{ID: id}).Where(domain.Plant{ID: id}).
			Update(domain.Plant{Name: d.Name}).Error
	})
}

func CreatePlantMember(c *domain.PlantMemberCreation, s *session.Session) error {
	if !s.Perms.HasRole(account.SystemAdminPermission.ID) &&
		!s.Perms.HasRole(domain.PlantRoleManager+"_"+c.PlantID.String()) {
		return bizerror.ErrForbidden
	}

	return persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		record := domain.PlantMember{PlantId: c.PlantID, MemberId: c.MemberId}
		err := tx.Where(&record).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record.Role = c.Role
			record.CreateTime = time.Now()
			return tx.Create(&record).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&domain.PlantMember{}).Where(&domain.PlantMember{PlantId: c.PlantID, MemberId: c.MemberId}).
			Update("role", c.Role).Error
	})
}

func QueryPlantMembers(q *domain.PlantMemberQuery, s *session.Session) (*[]domain.PlantMember, error) {
	db := persistence.ActiveDataSourceManager.GormDB(s.Context).Model(&domain.PlantMember{})
	if q.PlantID != nil {
		if !s.Perms.HasRole(account.SystemAdminPermission.ID) && !s.Perms.HasPlantViewPerm(*q.PlantID) {
			return nil, bizerror.ErrForbidden
		}
		db = db.Where(&domain.PlantMember{PlantId: *q.PlantID})
	} else if !s.Perms.HasRole(account.SystemAdminPermission.ID) {
		return nil, bizerror.ErrForbidden
	}
	if q.MemberID != nil {
		db = db.Where(&domain.PlantMember{MemberId: *q.MemberID})
	}

	var members []domain.PlantMember
	if err := db.Find(&members).Error; err != nil {
		return nil, err
	}
	return &members, nil
}

func DeletePlantMember(plantId types.ID, memberId types.ID, s *session.Session) error {
	if !s.Perms.HasRole(account.SystemAdminPermission.ID) &&
		!s.Perms.HasRole(domain.PlantRoleManager+"_"+plantId.String()) {
		return bizerror.ErrForbidden
	}
	return persistence.ActiveDataSourceManager.GormDB(s.Context).
		Delete(&domain.PlantMember{}, "plant_id = ? AND member_id = ?", plantId, memberId).Error
}

// NextWorkOrderIdentifier consumes the plant's work order counter inside the
// caller's transaction. RowsAffected guards against concurrent consumers.
func NextWorkOrderIdentifier(plantId types.ID, tx *gorm.DB) (string, error) {
	p := domain.Plant{}
	if err := tx.Where(&domain.Plant{ID: plantId}).First(&p).Error; err != nil {
		return "", err
	}

	identifier := fmt.Sprintf("%s-%d", p.Identifier, p.NextWorkOrderId)
	db := tx.Model(&domain.Plant{}).Where(&domain.Plant{ID: plantId, NextWorkOrderId: p.NextWorkOrderId}).
		Update("next_work_order_id", p.NextWorkOrderId+1)
	if db.Error != nil {
		return "", db.Error
	}
	if db.RowsAffected != 1 {
		return "", errors.New("concurrent modification")
	}
	return identifier, nil
}

func QueryPlantNames(ids []types.ID) (map[types.ID]string, error) {
	if len(ids) == 0 {
		return map[types.ID]string{}, nil
	}
	db := persistence.ActiveDataSourceManager.GormDB(nil)
	var records []domain.Plant
	if err := db.Model(&domain.Plant{}).Where("id IN (?)", ids).Find(&records).Error; err != nil {
		return nil, err
	}
	result := map[types.ID]string{}
	for _, r := range records {
		result[r.ID] = r.Name
	}
	return result, nil
}
