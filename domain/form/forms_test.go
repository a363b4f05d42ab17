package form_test

import (
	"context"
	"testing"

	"maintos/bizerror"
	"maintos/domain/form"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"
	"maintos/testinfra"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	. "github.com/onsi/gomega"
)

func formTestSetup(t *testing.T, testDatabase **testinfra.TestDatabase) *session.Session {
	db := testinfra.StartSqliteTestDatabase("maintos")
	*testDatabase = db
	Expect(db.DS.GormDB(context.Background()).AutoMigrate(
		&form.Form{}, &form.FormTask{}, &form.Instruction{}, &form.FormVersion{}).Error).To(BeNil())

	persistence.ActiveDataSourceManager = db.DS

	form.PropagateActiveVersionFunc = nil
	form.VersionReferencedCheckFunc = nil
	event.EventPersistCreateFunc = func(record *event.EventRecord, db *gorm.DB) error {
		return nil
	}
	event.InvokeHandlersFunc = func(record *event.EventRecord) []event.EventHandleResult {
		return nil
	}

	return testinfra.BuildSession(200, "manager_1")
}

func formTestTeardown(t *testing.T, testDatabase *testinfra.TestDatabase) {
	if testDatabase != nil {
		testinfra.StopSqliteTestDatabase(testDatabase)
	}
}

func buildPublishedForm(s *session.Session) (*form.Form, *form.FormVersion, error) {
	f, err := form.CreateForm(&form.FormCreation{Name: "pump inspection", PlantID: 1}, s)
	if err != nil {
		return nil, nil, err
	}
	if _, err := form.CreateTask(&form.TaskCreation{
		FormID: f.ID, Kind: form.TaskKindQuestion, Description: "check oil level", Required: true}, s); err != nil {
		return nil, nil, err
	}
	v, err := form.PublishForm(f.ID, s)
	return f, v, err
}

func TestPublishForm(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("should refuse to publish a form without draft tasks", func(t *testing.T) {
		defer formTestTeardown(t, testDatabase)
		s := formTestSetup(t, &testDatabase)

		f, err := form.CreateForm(&form.FormCreation{Name: "empty form", PlantID: 1}, s)
		Expect(err).To(BeNil())

		_, err = form.PublishForm(f.ID, s)
		Expect(err).To(Equal(bizerror.ErrFormHasNoDraftTasks))

		versions, err := form.ListFormVersions(f.ID, s)
		Expect(err).To(BeNil())
		Expect(versions).To(BeEmpty())
	})

	t.Run("should refuse to publish when a draft task has a blank description", func(t *testing.T) {
		defer formTestTeardown(t, testDatabase)
		s := formTestSetup(t, &testDatabase)

		f, err := form.CreateForm(&form.FormCreation{Name: "half done", PlantID: 1}, s)
		Expect(err).To(BeNil())
		_, err = form.CreateTask(&form.TaskCreation{FormID: f.ID, Kind: form.TaskKindQuestion, Description: "  "}, s)
		Expect(err).To(BeNil())

		_, err = form.PublishForm(f.ID, s)
		Expect(err).To(Equal(bizerror.ErrFormTaskDescriptionEmpty))
	})

	t.Run("should freeze the drafts into a snapshot and move the form pointer", func(t *testing.T) {
		defer formTestTeardown(t, testDatabase)
		s := formTestSetup(t, &testDatabase)

		f, v1, err := buildPublishedForm(s)
		Expect(err).To(BeNil())
		Expect(v1.Number).To(Equal(1))
		Expect(v1.Active).To(BeTrue())
		Expect(len(v1.Snapshot.Tasks)).To(Equal(1))
		Expect(v1.Snapshot.Tasks[0].Description).To(Equal("check oil level"))

		detail, err := form.DetailForm(f.ID, s)
		Expect(err).To(BeNil())
		Expect(detail.CurrentVersionID).To(Equal(v1.ID))
		Expect(detail.CurrentVersionNumber).To(Equal(1))
		// drafts stay editable after publish
		Expect(len(detail.DraftTasks)).To(Equal(1))
	})

	t.Run("later edits must not leak into an already published snapshot", func(t *testing.T) {
		defer formTestTeardown(t, testDatabase)
		s := formTestSetup(t, &testDatabase)

		f, v1, err := buildPublishedForm(s)
		Expect(err).To(BeNil())

		detail, err := form.DetailForm(f.ID, s)
		Expect(err).To(BeNil())
		_, err = form.UpdateTask(detail.DraftTasks[0].ID, &form.TaskUpdating{Description: "check oil and filter", Required: false}, s)
		Expect(err).To(BeNil())
		_, err = form.CreateTask(&form.TaskCreation{FormID: f.ID, Kind: form.TaskKindPhoto, Description: "photo of gauge"}, s)
		Expect(err).To(BeNil())

		v2, err := form.PublishForm(f.ID, s)
		Expect(err).To(BeNil())
		Expect(v2.Number).To(Equal(2))
		Expect(len(v2.Snapshot.Tasks)).To(Equal(2))

		frozen, err := form.DetailFormVersion(v1.ID, s)
		Expect(err).To(BeNil())
		Expect(len(frozen.Snapshot.Tasks)).To(Equal(1))
		Expect(frozen.Snapshot.Tasks[0].Description).To(Equal("check oil level"))
		Expect(frozen.Snapshot.Tasks[0].Required).To(BeTrue())

		detail, err = form.DetailForm(f.ID, s)
		Expect(err).To(BeNil())
		Expect(detail.CurrentVersionID).To(Equal(v2.ID))
	})

	t.Run("publish rolls back entirely when the snapshot can not be built", func(t *testing.T) {
		defer formTestTeardown(t, testDatabase)
		s := formTestSetup(t, &testDatabase)

		f, err := form.CreateForm(&form.FormCreation{Name: "torn form", PlantID: 1}, s)
		Expect(err).To(BeNil())
		_, err = form.CreateTask(&form.TaskCreation{
			FormID: f.ID, Kind: form.TaskKindQuestion, Description: "check oil level", Required: true}, s)
		Expect(err).To(BeNil())

		db := persistence.ActiveDataSourceManager.GormDB(context.Background())
		Expect(db.DropTable(&form.Instruction{}).Error).To(BeNil())

		_, err = form.PublishForm(f.ID, s)
		Expect(err).To(HaveOccurred())

		versions, err := form.ListFormVersions(f.ID, s)
		Expect(err).To(BeNil())
		Expect(versions).To(BeEmpty())

		detail, err := form.DetailForm(f.ID, s)
		Expect(err).To(BeNil())
		Expect(detail.CurrentVersionID).To(BeZero())
		Expect(detail.CurrentVersionNumber).To(BeZero())
	})

	t.Run("should propagate the new active version inside the transaction", func(t *testing.T) {
		defer formTestTeardown(t, testDatabase)
		s := formTestSetup(t, &testDatabase)

		propagated := map[types.ID]types.ID{}
		form.PropagateActiveVersionFunc = func(tx *gorm.DB, formId types.ID, versionId types.ID) error {
			propagated[formId] = versionId
			return nil
		}

		f, v1, err := buildPublishedForm(s)
		Expect(err).To(BeNil())
		Expect(propagated[f.ID]).To(Equal(v1.ID))
	})
}

func TestDeactivateFormVersion(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("current version can not be deactivated", func(t *testing.T) {
		defer formTestTeardown(t, testDatabase)
		s := formTestSetup(t, &testDatabase)

		_, v1, err := buildPublishedForm(s)
		Expect(err).To(BeNil())

		Expect(form.DeactivateFormVersion(v1.ID, s)).To(Equal(bizerror.ErrFormVersionIsCurrent))
	})

	t.Run("referenced version can not be deactivated", func(t *testing.T) {
		defer formTestTeardown(t, testDatabase)
		s := formTestSetup(t, &testDatabase)

		f, v1, err := buildPublishedForm(s)
		Expect(err).To(BeNil())
		_, err = form.PublishForm(f.ID, s)
		Expect(err).To(BeNil())

		form.VersionReferencedCheckFunc = func(db *gorm.DB, versionId types.ID) (bool, error) {
			return true, nil
		}
		Expect(form.DeactivateFormVersion(v1.ID, s)).To(Equal(bizerror.ErrFormVersionIsReferenced))
	})

	t.Run("historical unreferenced version is deactivated", func(t *testing.T) {
		defer formTestTeardown(t, testDatabase)
		s := formTestSetup(t, &testDatabase)

		f, v1, err := buildPublishedForm(s)
		Expect(err).To(BeNil())
		_, err = form.PublishForm(f.ID, s)
		Expect(err).To(BeNil())

		form.VersionReferencedCheckFunc = func(db *gorm.DB, versionId types.ID) (bool, error) {
			return false, nil
		}
		Expect(form.DeactivateFormVersion(v1.ID, s)).To(BeNil())

		frozen, err := form.DetailFormVersion(v1.ID, s)
		Expect(err).To(BeNil())
		Expect(frozen.Active).To(BeFalse())
	})
}
