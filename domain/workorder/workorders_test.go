package workorder_test

import (
	"context"
	"testing"

	"maintos/account"
	"maintos/bizerror"
	"maintos/domain"
	"maintos/domain/plant"
	"maintos/domain/state"
	"maintos/domain/workorder"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"
	"maintos/testinfra"

	"github.com/jinzhu/gorm"
	. "github.com/onsi/gomega"
)

func workOrdersTestSetup(t *testing.T, testDatabase **testinfra.TestDatabase) (*domain.Plant, *session.Session, *[]event.EventRecord) {
	db := testinfra.StartSqliteTestDatabase("maintos")
	*testDatabase = db
	Expect(db.DS.GormDB(context.Background()).AutoMigrate(&domain.Plant{}, &domain.PlantMember{},
		&workorder.WorkOrder{}, &workorder.WorkOrderType{}, &workorder.WorkOrderProcessStep{}).Error).To(BeNil())

	persistence.ActiveDataSourceManager = db.DS

	p, err := plant.CreatePlant(&domain.PlantCreating{Name: "plant one", Identifier: "PLA"},
		testinfra.BuildSession(100, account.SystemAdminPermission.ID))
	Expect(err).To(BeNil())

	s := testinfra.BuildSession(200, domain.PlantRoleManager+"_"+p.ID.String())

	persistedEvents := []event.EventRecord{}
	event.EventPersistCreateFunc = func(record *event.EventRecord, db *gorm.DB) error {
		persistedEvents = append(persistedEvents, *record)
		return nil
	}
	event.InvokeHandlersFunc = func(record *event.EventRecord) []event.EventHandleResult {
		return nil
	}

	return p, s, &persistedEvents
}

func workOrdersTestTeardown(t *testing.T, testDatabase *testinfra.TestDatabase) {
	if testDatabase != nil {
		testinfra.StopSqliteTestDatabase(testDatabase)
	}
}

func TestCreateWorkOrder(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("should reject a category outside the discipline", func(t *testing.T) {
		defer workOrdersTestTeardown(t, testDatabase)
		p, s, _ := workOrdersTestSetup(t, &testDatabase)

		_, err := workorder.CreateWorkOrder(&workorder.WorkOrderCreation{
			PlantID: p.ID, AssetID: 1, Title: "grease bearings",
			Discipline: workorder.DisciplineMaintenance, Category: "calibration",
		}, s)
		Expect(err).To(Equal(bizerror.ErrCategoryDisciplineMismatch))

		_, err = workorder.CreateWorkOrder(&workorder.WorkOrderCreation{
			PlantID: p.ID, AssetID: 1, Title: "calibrate gauge",
			Discipline: workorder.DisciplineQuality, Category: "calibration",
		}, s)
		Expect(err).To(BeNil())
	})

	t.Run("should allocate sequential identifiers from the plant", func(t *testing.T) {
		defer workOrdersTestTeardown(t, testDatabase)
		p, s, _ := workOrdersTestSetup(t, &testDatabase)

		w1, err := workorder.CreateWorkOrder(&workorder.WorkOrderCreation{
			PlantID: p.ID, AssetID: 1, Title: "first", Category: "preventive"}, s)
		Expect(err).To(BeNil())
		Expect(w1.Identifier).To(Equal("PLA-1"))
		Expect(w1.StateName).To(Equal(workorder.StateRequested.Name))
		Expect(w1.SourceKind).To(Equal(workorder.SourceKindManual))
		Expect(w1.SourceID).To(Equal(s.Identity.ID))

		w2, err := workorder.CreateWorkOrder(&workorder.WorkOrderCreation{
			PlantID: p.ID, AssetID: 1, Title: "second", Category: "corrective"}, s)
		Expect(err).To(BeNil())
		Expect(w2.Identifier).To(Equal("PLA-2"))
	})

	t.Run("should auto approve when requested", func(t *testing.T) {
		defer workOrdersTestTeardown(t, testDatabase)
		p, s, _ := workOrdersTestSetup(t, &testDatabase)

		w, err := workorder.CreateWorkOrder(&workorder.WorkOrderCreation{
			PlantID: p.ID, AssetID: 1, Title: "auto approved", Category: "preventive", AutoApprove: true}, s)
		Expect(err).To(BeNil())
		Expect(w.StateName).To(Equal(workorder.StateApproved.Name))
		Expect(w.ApproveTime.IsZero()).To(BeFalse())
		Expect(w.ApproverID).To(Equal(s.Identity.ID))
	})

	t.Run("should take discipline and category from the work order type", func(t *testing.T) {
		defer workOrdersTestTeardown(t, testDatabase)
		p, s, _ := workOrdersTestSetup(t, &testDatabase)

		wt, err := workorder.CreateWorkOrderType(&workorder.WorkOrderTypeCreation{
			Name: "monthly preventive", Discipline: workorder.DisciplineMaintenance, Category: "preventive"}, s)
		Expect(err).To(BeNil())

		w, err := workorder.CreateWorkOrder(&workorder.WorkOrderCreation{
			PlantID: p.ID, AssetID: 1, Title: "typed", TypeID: wt.ID}, s)
		Expect(err).To(BeNil())
		Expect(w.Discipline).To(Equal(workorder.DisciplineMaintenance))
		Expect(w.Category).To(Equal("preventive"))
	})
}

func TestTransitionWorkOrder(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("illegal edge is rejected without mutation", func(t *testing.T) {
		defer workOrdersTestTeardown(t, testDatabase)
		p, s, _ := workOrdersTestSetup(t, &testDatabase)

		w, err := workorder.CreateWorkOrder(&workorder.WorkOrderCreation{
			PlantID: p.ID, AssetID: 1, Title: "stuck", Category: "preventive", AutoApprove: true}, s)
		Expect(err).To(BeNil())
		Expect(w.StateName).To(Equal(workorder.StateApproved.Name))

		err = workorder.TransitionWorkOrder(&workorder.WorkOrderTransition{
			WorkOrderID: w.ID, FromState: workorder.StateApproved.Name, ToState: workorder.StateClosed.Name}, s)
		Expect(err).To(Equal(bizerror.ErrStateTransitionInvalid))

		detail, err := workorder.DetailWorkOrder(w.ID, s)
		Expect(err).To(BeNil())
		Expect(detail.StateName).To(Equal(workorder.StateApproved.Name))
		Expect(detail.EndTime.IsZero()).To(BeTrue())
	})

	t.Run("full lifecycle walks the fixed table", func(t *testing.T) {
		defer workOrdersTestTeardown(t, testDatabase)
		p, s, _ := workOrdersTestSetup(t, &testDatabase)

		w, err := workorder.CreateWorkOrder(&workorder.WorkOrderCreation{
			PlantID: p.ID, AssetID: 1, Title: "lifecycle", Category: "preventive"}, s)
		Expect(err).To(BeNil())

		steps := []struct{ from, to string }{
			{workorder.StateRequested.Name, workorder.StateApproved.Name},
			{workorder.StateApproved.Name, workorder.StateExecuting.Name},
			{workorder.StateExecuting.Name, workorder.StateCompleted.Name},
			{workorder.StateCompleted.Name, workorder.StateClosed.Name},
		}
		for _, step := range steps {
			Expect(workorder.TransitionWorkOrder(&workorder.WorkOrderTransition{
				WorkOrderID: w.ID, FromState: step.from, ToState: step.to}, s)).To(BeNil())
		}

		detail, err := workorder.DetailWorkOrder(w.ID, s)
		Expect(err).To(BeNil())
		Expect(detail.StateName).To(Equal(workorder.StateClosed.Name))
		Expect(detail.StateCategory).To(Equal(state.Done))
		Expect(detail.ApproveTime.IsZero()).To(BeFalse())
		Expect(detail.ExecutionBeginTime.IsZero()).To(BeFalse())
		Expect(detail.EndTime.IsZero()).To(BeFalse())
		Expect(len(detail.ProcessSteps)).To(Equal(5))
	})

	t.Run("stale from state is rejected", func(t *testing.T) {
		defer workOrdersTestTeardown(t, testDatabase)
		p, s, _ := workOrdersTestSetup(t, &testDatabase)

		w, err := workorder.CreateWorkOrder(&workorder.WorkOrderCreation{
			PlantID: p.ID, AssetID: 1, Title: "stale", Category: "preventive", AutoApprove: true}, s)
		Expect(err).To(BeNil())

		err = workorder.TransitionWorkOrder(&workorder.WorkOrderTransition{
			WorkOrderID: w.ID, FromState: workorder.StateRequested.Name, ToState: workorder.StateApproved.Name}, s)
		Expect(err).To(Equal(bizerror.ErrStateTransitionInvalid))
	})
}
