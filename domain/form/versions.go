package form

import (
	"strings"

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
	versionIdWorker = sonyflake.NewSonyflake(sonyflake.Settings{})

	PublishFormFunc           = PublishForm
	DeactivateFormVersionFunc = DeactivateFormVersion
	ListFormVersionsFunc      = ListFormVersions
	DetailFormVersionFunc     = DetailFormVersion

	// PropagateActiveVersionFunc is invoked inside the publish transaction so
	// that referencing records can follow the new active version. Wired up
	// elsewhere to avoid an import cycle.
	PropagateActiveVersionFunc func(tx *gorm.DB, formId types.ID, versionId types.ID) error

	// VersionReferencedCheckFunc reports whether any live record still points at
	// the given version. Wired up elsewhere to avoid an import cycle.
	VersionReferencedCheckFunc func(db *gorm.DB, versionId types.ID) (bool, error)
)

// FormVersion is an immutable published revision of a form. The Snapshot
// column is the single source of truth for its tasks.
type FormVersion struct {
	ID     types.ID `json:"id" gorm:"primary_key"`
	FormID types.ID `json:"formId" gorm:"index:idx_version_form"`
	Number int      `json:"number"`

	Snapshot FormSnapshot `json:"snapshot" sql:"type:TEXT"`
	Active   bool         `json:"active"`

	PublishedAt types.Timestamp `json:"publishedAt" sql:"type:DATETIME(6) NOT NULL"`
	PublisherID types.ID        `json:"publisherId"`
}

// PublishForm freezes the form's current draft tasks into a new active
// version. Draft tasks stay in place for further editing.
func PublishForm(formId types.ID, s *session.Session) (*FormVersion, error) {
	var record *FormVersion
	var ev *event.EventRecord

	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		f, err := findFormAndCheckPerms(tx, formId, s)
		if err != nil {
			return err
		}

		var drafts []FormTask
		if err := tx.Where(&FormTask{FormID: f.ID}).Order("position ASC").Find(&drafts).Error; err != nil {
			return err
		}
		if len(drafts) == 0 {
			return bizerror.ErrFormHasNoDraftTasks
		}
		for _, d := range drafts {
			if strings.TrimSpace(d.Description) == "" {
				return bizerror.ErrFormTaskDescriptionEmpty
			}
		}

		now := types.CurrentTimestamp()
		v := FormVersion{
			ID: common.NextId(versionIdWorker), FormID: f.ID, Number: f.CurrentVersionNumber + 1,
			Active: true, PublishedAt: now, PublisherID: s.Identity.ID,
		}
		snapshot, err := buildSnapshot(tx, f, &v, drafts)
		if err != nil {
			return err
		}
		v.Snapshot = snapshot
		if err := tx.Create(&v).Error; err != nil {
			return err
		}

		db := tx.Model(&Form{}).Where(&Form{ID: f.ID}).
			Updates(map[string]interface{}{"current_version_id": v.ID, "current_version_number": v.Number})
		if err := db.Error; err != nil {
			return err
		}

		if PropagateActiveVersionFunc != nil {
			if err := PropagateActiveVersionFunc(tx, f.ID, v.ID); err != nil {
				return err
			}
		}

		ev, err = event.CreateEvent(event.SourceTypeForm, f.ID, f.Name, event.EventCategoryPropertyUpdated,
			[]event.UpdatedProperty{{
				PropertyName: "CurrentVersionID", PropertyDesc: "CurrentVersionID",
				OldValue: f.CurrentVersionID.String(), OldValueDesc: f.CurrentVersionID.String(),
				NewValue: v.ID.String(), NewValueDesc: v.ID.String(),
			}}, nil, &s.Identity, now, tx)
		if err != nil {
			return err
		}
		record = &v
		return nil
	})
	if err != nil {
		return nil, err
	}

	if event.InvokeHandlersFunc != nil {
		event.InvokeHandlersFunc(ev)
	}
	return record, nil
}

func buildSnapshot(tx *gorm.DB, f *Form, v *FormVersion, drafts []FormTask) (FormSnapshot, error) {
	snapshot := FormSnapshot{
		FormID: f.ID, VersionID: v.ID, VersionNumber: v.Number, FormName: f.Name,
	}
	for _, d := range drafts {
		t := TaskSnapshot{
			TaskID: d.ID, Kind: d.Kind, Description: d.Description,
			Required: d.Required, Position: d.Position, Config: copyConfig(d.Config),
		}
		var instructions []Instruction
		if err := tx.Where(&Instruction{TaskID: d.ID}).Order("position ASC").Find(&instructions).Error; err != nil {
			return FormSnapshot{}, err
		}
		for _, i := range instructions {
			t.Instructions = append(t.Instructions, InstructionSnapshot{
				Position: i.Position, Content: i.Content, MediaPath: i.MediaPath,
			})
		}
		snapshot.Tasks = append(snapshot.Tasks, t)
	}
	return snapshot, nil
}

func copyConfig(c TaskConfig) TaskConfig {
	copied := TaskConfig{MeasurementUnit: c.MeasurementUnit}
	if c.MeasurementMin != nil {
		min := *c.MeasurementMin
		copied.MeasurementMin = &min
	}
	if c.MeasurementMax != nil {
		max := *c.MeasurementMax
		copied.MeasurementMax = &max
	}
	if c.MeasurementTarget != nil {
		target := *c.MeasurementTarget
		copied.MeasurementTarget = &target
	}
	if c.Options != nil {
		copied.Options = append([]string{}, c.Options...)
	}
	return copied
}

// DeactivateFormVersion retires a historical version. The current version and
// versions still referenced by live records are protected.
func DeactivateFormVersion(versionId types.ID, s *session.Session) error {
	return persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		var v FormVersion
		if err := tx.Where(&FormVersion{ID: versionId}).First(&v).Error; err != nil {
			return err
		}
		f, err := findFormAndCheckPerms(tx, v.FormID, s)
		if err != nil {
			return err
		}
		if f.CurrentVersionID == v.ID {
			return bizerror.ErrFormVersionIsCurrent
		}
		if VersionReferencedCheckFunc != nil {
			referenced, err := VersionReferencedCheckFunc(tx, v.ID)
			if err != nil {
				return err
			}
			if referenced {
				return bizerror.ErrFormVersionIsReferenced
			}
		}
		return tx.Model(&FormVersion{}).Where(&FormVersion{ID: v.ID}).Update("active", false).Error
	})
}

func ListFormVersions(formId types.ID, s *session.Session) ([]FormVersion, error) {
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	var f Form
	if err := db.Where(&Form{ID: formId}).First(&f).Error; err != nil {
		return nil, err
	}
	if !s.Perms.HasPlantViewPerm(f.PlantID) {
		return nil, bizerror.ErrForbidden
	}
	var versions []FormVersion
	if err := db.Where(&FormVersion{FormID: formId}).Order("number DESC").Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

// DetailFormVersion loads one published version with its frozen snapshot.
func DetailFormVersion(versionId types.ID, s *session.Session) (*FormVersion, error) {
	db := persistence.ActiveDataSourceManager.GormDB(s.Context)
	var v FormVersion
	if err := db.Where(&FormVersion{ID: versionId}).First(&v).Error; err != nil {
		return nil, err
	}
	var f Form
	if err := db.Where(&Form{ID: v.FormID}).First(&f).Error; err != nil {
		return nil, err
	}
	if !s.Perms.HasPlantViewPerm(f.PlantID) {
		return nil, bizerror.ErrForbidden
	}
	return &v, nil
}
