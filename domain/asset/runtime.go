package asset

import (
	"errors"

	"maintos/bizerror"
	"maintos/common"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"
	"github.com/sony/sonyflake"
)

var (
	measurementIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	RecordMeasurementFunc = RecordMeasurement
	CurrentRuntimeFunc    = CurrentRuntime
	ListMeasurementsFunc  = ListMeasurements
)

const (
	MeasurementSourceManual    = "manual"
	MeasurementSourceTelemetry = "telemetry"
)

// RuntimeMeasurement is an immutable record of accumulated running hours of an
// asset at a point in time. Reported hours are non-decreasing by convention,
// not enforced.
type RuntimeMeasurement struct {
	ID      types.ID `json:"id" gorm:"primary_key"`
	AssetID types.ID `json:"assetId" gorm:"index:idx_measurement_asset"`

	Hours      float64         `json:"hours"`
	MeasuredAt types.Timestamp `json:"measuredAt" sql:"type:DATETIME(6) NOT NULL"`
	Source     string          `json:"source"`

	ReporterID   types.ID `json:"reporterId"`
	ReporterName string   `json:"reporterName"`

	CreateTime types.Timestamp `json:"createTime" sql:"type:DATETIME(6) NOT NULL"`
}

type MeasurementCreation struct {
	AssetID    types.ID         `json:"assetId" binding:"required"`
	Hours      float64          `json:"hours"`
	MeasuredAt *types.Timestamp `json:"measuredAt"`
	Source     string           `json:"source" binding:"omitempty,oneof=manual telemetry"`
}

func RecordMeasurement(c *MeasurementCreation, s *session.Session) (*RuntimeMeasurement, error) {
	if c.Hours < 0 {
		return nil, bizerror.ErrNegativeRuntimeHours
	}

	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	var record *RuntimeMeasurement
	var ev *event.EventRecord

	err := db.Transaction(func(tx *gorm.DB) error {
		a, err := findAssetAndCheckPerms(tx, c.AssetID, s)
		if err != nil {
			return err
		}

		now := types.CurrentTimestamp()
		measuredAt := now
		if c.MeasuredAt != nil && !c.MeasuredAt.IsZero() {
			measuredAt = *c.MeasuredAt
		}
		source := c.Source
		if source == "" {
			source = MeasurementSourceManual
		}

		m := RuntimeMeasurement{
			ID: common.NextId(measurementIdWorker), AssetID: a.ID,
			Hours: c.Hours, MeasuredAt: measuredAt, Source: source,
			ReporterID: s.Identity.ID, ReporterName: s.Identity.Nickname,
			CreateTime: now,
		}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		record = &m

		last, err := currentRuntime(tx, a.ID)
		if err != nil {
			return err
		}
		if last != nil && last.ID != m.ID && c.Hours < last.Hours {
			logrus.Warnf("asset %d runtime measurement %.2f is below previous %.2f", a.ID, c.Hours, last.Hours)
		}

		ev, err = event.CreateEvent(event.SourceTypeAsset, a.ID, a.Tag, event.EventCategoryExtensionUpdated,
			[]event.UpdatedProperty{{
				PropertyName: "RuntimeHours", PropertyDesc: "RuntimeHours",
				NewValue: measuredAt.String(), NewValueDesc: source,
			}}, nil, &s.Identity, now, tx)
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

// CurrentRuntime returns the measurement with the latest measurement time, or
// nil when the asset has no measurement yet.
func CurrentRuntime(assetId types.ID, s *session.Session) (*RuntimeMeasurement, error) {
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	return currentRuntime(db, assetId)
}

// CurrentRuntimeInTx is the permission-free variant for engines running
// inside their own transaction.
func CurrentRuntimeInTx(db *gorm.DB, assetId types.ID) (*RuntimeMeasurement, error) {
	return currentRuntime(db, assetId)
}

func currentRuntime(db *gorm.DB, assetId types.ID) (*RuntimeMeasurement, error) {
	var m RuntimeMeasurement
	err := db.Where(&RuntimeMeasurement{AssetID: assetId}).
		Order("measured_at DESC").Limit(1).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RuntimeDelta computes the accumulated hours between the latest measurement
// and the latest measurement at or before the given time.
func RuntimeDelta(assetId types.ID, since types.Timestamp, s *session.Session) (float64, error) {
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)

	current, err := currentRuntime(db, assetId)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return 0, nil
	}

	var baseline RuntimeMeasurement
	err = db.Where(&RuntimeMeasurement{AssetID: assetId}).
		Where("measured_at <= ?", since).
		Order("measured_at DESC").Limit(1).First(&baseline).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return current.Hours, nil
	}
	if err != nil {
		return 0, err
	}
	return current.Hours - baseline.Hours, nil
}

func ListMeasurements(assetId types.ID, s *session.Session) ([]RuntimeMeasurement, error) {
	var r []RuntimeMeasurement
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	if _, err := findAssetAndCheckView(db, assetId, s); err != nil {
		return nil, err
	}
	if err := db.Where(&RuntimeMeasurement{AssetID: assetId}).Order("measured_at DESC").Find(&r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

func findAssetAndCheckView(db *gorm.DB, id types.ID, s *session.Session) (*Asset, error) {
	var a Asset
	if err := db.Where(&Asset{ID: id}).First(&a).Error; err != nil {
		return nil, err
	}
	if s == nil || !s.Perms.HasPlantViewPerm(a.PlantID) {
		return nil, bizerror.ErrForbidden
	}
	return &a, nil
}
