package asset

import (
	"errors"
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
	assetIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	CreateAssetFunc = CreateAsset
	QueryAssetsFunc = QueryAssets
	DetailAssetFunc = DetailAsset
	UpdateAssetFunc = UpdateAsset
)

// Asset is a maintainable piece of equipment placed in the plant hierarchy.
type Asset struct {
	ID  types.ID `json:"id" gorm:"primary_key"`
	Tag string   `json:"tag" gorm:"unique_index:asset_tag_unique"`

	Name    string   `json:"name"`
	PlantID types.ID `json:"plantId"`
	Area    string   `json:"area"`
	Sector  string   `json:"sector"`

	CreateTime types.Timestamp `json:"createTime" sql:"type:DATETIME(6) NOT NULL"`
	Creator    types.ID        `json:"creator"`
}

type AssetCreation struct {
	Tag     string   `json:"tag" binding:"required,lte=32"`
	Name    string   `json:"name" binding:"required,lte=120"`
	PlantID types.ID `json:"plantId" binding:"required"`
	Area    string   `json:"area" binding:"omitempty,lte=60"`
	Sector  string   `json:"sector" binding:"omitempty,lte=60"`
}

type AssetUpdating struct {
	Name   string `json:"name" binding:"required,lte=120"`
	Area   string `json:"area" binding:"omitempty,lte=60"`
	Sector string `json:"sector" binding:"omitempty,lte=60"`
}

type AssetQuery struct {
	PlantID types.ID `form:"plantId"`
	Name    string   `form:"name"`
}

func CreateAsset(c *AssetCreation, s *session.Session) (*Asset, error) {
	if !s.Perms.HasRoleSuffix("_" + c.PlantID.String()) {
		return nil, bizerror.ErrForbidden
	}

	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	var record *Asset
	var ev *event.EventRecord

	err := db.Transaction(func(tx *gorm.DB) error {
		now := types.CurrentTimestamp()
		a := Asset{
			ID: common.NextId(assetIdWorker), Tag: c.Tag, Name: c.Name,
			PlantID: c.PlantID, Area: c.Area, Sector: c.Sector,
			CreateTime: now, Creator: s.Identity.ID,
		}
		if err := tx.Create(&a).Error; err != nil {
			return err
		}
		record = &a

		var err error
		ev, err = event.CreateEvent(event.SourceTypeAsset, a.ID, a.Tag, event.EventCategoryCreated,
			nil, nil, &s.Identity, now, tx)
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

func QueryAssets(query *AssetQuery, s *session.Session) (*[]Asset, error) {
	var assets []Asset
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)

	q := db.Model(&Asset{})
	if query.PlantID != 0 {
		q = q.Where(&Asset{PlantID: query.PlantID})
	}
	if query.Name != "" {
		q = q.Where("name like ?", "%"+query.Name+"%")
	}

	visiblePlants := s.VisiblePlants()
	if len(visiblePlants) == 0 {
		return &[]Asset{}, nil
	}
	q = q.Where("plant_id in (?)", visiblePlants).Order("tag ASC")
	if err := q.Find(&assets).Error; err != nil {
		return nil, err
	}
	return &assets, nil
}

func DetailAsset(id types.ID, s *session.Session) (*Asset, error) {
	a := Asset{}
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	if err := db.Where(&Asset{ID: id}).First(&a).Error; err != nil {
		return nil, err
	}
	if !s.Perms.HasPlantViewPerm(a.PlantID) {
		return nil, bizerror.ErrForbidden
	}
	return &a, nil
}

func UpdateAsset(id types.ID, u *AssetUpdating, s *session.Session) (*Asset, error) {
	var updated Asset
	var ev *event.EventRecord
	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		origin, err := findAssetAndCheckPerms(tx, id, s)
		if err != nil {
			return err
		}

		db := tx.Model(&Asset{}).Where(&Asset{ID: id}).Update(u)
		if err := db.Error; err != nil {
			return err
		}
		if db.RowsAffected != 1 {
			return errors.New("expected affected row is 1, but actual is " + strconv.FormatInt(db.RowsAffected, 10))
		}

		ev, err = event.CreateEvent(event.SourceTypeAsset, origin.ID, origin.Tag, event.EventCategoryPropertyUpdated,
			[]event.UpdatedProperty{{
				PropertyName: "Name", PropertyDesc: "Name",
				OldValue: origin.Name, OldValueDesc: origin.Name,
				NewValue: u.Name, NewValueDesc: u.Name,
			}},
			nil, &s.Identity, types.CurrentTimestamp(), tx)
		if err != nil {
			return err
		}

		return tx.Where(&Asset{ID: id}).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}

	if event.InvokeHandlersFunc != nil {
		event.InvokeHandlersFunc(ev)
	}
	return &updated, nil
}

func findAssetAndCheckPerms(db *gorm.DB, id types.ID, s *session.Session) (*Asset, error) {
	var a Asset
	if err := db.Where(&Asset{ID: id}).First(&a).Error; err != nil {
		return nil, err
	}
	if s == nil || !s.Perms.HasRoleSuffix("_"+a.PlantID.String()) {
		return nil, bizerror.ErrForbidden
	}
	return &a, nil
}
