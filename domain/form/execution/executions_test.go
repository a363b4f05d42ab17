package execution_test

import (
	"context"
	"testing"

	"maintos/bizerror"
	"maintos/domain/form"
	"maintos/domain/form/execution"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"
	"maintos/testinfra"

	"github.com/jinzhu/gorm"
	. "github.com/onsi/gomega"
)

func executionTestSetup(t *testing.T, testDatabase **testinfra.TestDatabase) *session.Session {
	db := testinfra.StartSqliteTestDatabase("maintos")
	*testDatabase = db
	Expect(db.DS.GormDB(context.Background()).AutoMigrate(
		&form.Form{}, &form.FormTask{}, &form.Instruction{}, &form.FormVersion{},
		&execution.FormExecution{}, &execution.TaskResponse{}).Error).To(BeNil())

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

func executionTestTeardown(t *testing.T, testDatabase *testinfra.TestDatabase) {
	if testDatabase != nil {
		testinfra.StopSqliteTestDatabase(testDatabase)
	}
}

func float64Ptr(v float64) *float64 {
	return &v
}

// buildRunningExecution publishes a three task form (required question,
// optional question, required measurement in range [3, 5]) and starts a run.
func buildRunningExecution(s *session.Session) (*execution.FormExecution, form.FormSnapshot) {
	f, err := form.CreateForm(&form.FormCreation{Name: "pump checks", PlantID: 1}, s)
	Expect(err).To(BeNil())
	_, err = form.CreateTask(&form.TaskCreation{
		FormID: f.ID, Kind: form.TaskKindQuestion, Description: "oil level ok", Required: true}, s)
	Expect(err).To(BeNil())
	_, err = form.CreateTask(&form.TaskCreation{
		FormID: f.ID, Kind: form.TaskKindQuestion, Description: "remarks", Required: false}, s)
	Expect(err).To(BeNil())
	_, err = form.CreateTask(&form.TaskCreation{
		FormID: f.ID, Kind: form.TaskKindMeasurement, Description: "bearing temperature", Required: true,
		Config: form.TaskConfig{MeasurementMin: float64Ptr(3), MeasurementMax: float64Ptr(5), MeasurementUnit: "bar"}}, s)
	Expect(err).To(BeNil())

	v, err := form.PublishForm(f.ID, s)
	Expect(err).To(BeNil())

	e, err := execution.CreateExecution(&execution.ExecutionCreation{VersionID: v.ID}, s)
	Expect(err).To(BeNil())
	Expect(e.StateName).To(Equal(execution.StatePending))
	Expect(execution.StartExecution(e.ID, s)).To(BeNil())

	return e, v.Snapshot
}

func TestCreateExecution(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("creation needs a work order or a version reference", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)

		_, err := execution.CreateExecution(&execution.ExecutionCreation{}, s)
		badParam, ok := err.(*bizerror.ErrBadParam)
		Expect(ok).To(BeTrue())
		Expect(badParam.Error()).To(ContainSubstring("workOrderId or versionId"))

		executions, err := execution.QueryExecutions(&execution.ExecutionQuery{PlantID: 1}, s)
		Expect(err).To(BeNil())
		Expect(*executions).To(BeEmpty())
	})
}

func TestCompleteExecution(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("completion requires every required task, optional tasks may stay open", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, snapshot := buildRunningExecution(s)

		// only the optional task answered
		_, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[1].TaskID, Text: "nothing unusual"}, s)
		Expect(err).To(BeNil())

		err = execution.CompleteExecution(e.ID, s)
		incomplete, ok := err.(*bizerror.ErrRequiredTasksIncomplete)
		Expect(ok).To(BeTrue())
		missing, ok := incomplete.MissingTasks.([]form.TaskSnapshot)
		Expect(ok).To(BeTrue())
		Expect(len(missing)).To(Equal(2))
		Expect(missing[0].TaskID).To(Equal(snapshot.Tasks[0].TaskID))
		Expect(missing[1].TaskID).To(Equal(snapshot.Tasks[2].TaskID))

		_, err = execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[0].TaskID, Text: "yes"}, s)
		Expect(err).To(BeNil())
		_, err = execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[2].TaskID, MeasurementValue: float64Ptr(4.2)}, s)
		Expect(err).To(BeNil())

		detail, err := execution.DetailExecution(e.ID, s)
		Expect(err).To(BeNil())
		Expect(detail.StateName).To(Equal(execution.StateCompleted))
		Expect(detail.EndTime.IsZero()).To(BeFalse())
	})

	t.Run("explicit completion succeeds once required tasks are done", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, snapshot := buildRunningExecution(s)

		_, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[0].TaskID, Text: "yes"}, s)
		Expect(err).To(BeNil())
		_, err = execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[2].TaskID, MeasurementValue: float64Ptr(3.5)}, s)
		Expect(err).To(BeNil())

		// optional task unanswered, no auto-completion yet
		detail, err := execution.DetailExecution(e.ID, s)
		Expect(err).To(BeNil())
		Expect(detail.StateName).To(Equal(execution.StateInProgress))

		Expect(execution.CompleteExecution(e.ID, s)).To(BeNil())

		detail, err = execution.DetailExecution(e.ID, s)
		Expect(err).To(BeNil())
		Expect(detail.StateName).To(Equal(execution.StateCompleted))
	})

	t.Run("completion requires a running execution", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, _ := buildRunningExecution(s)

		Expect(execution.CancelExecution(e.ID, s)).To(BeNil())
		Expect(execution.CompleteExecution(e.ID, s)).To(Equal(bizerror.ErrExecutionStateInvalid))
	})
}

func TestRecordResponse(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("out of range measurement is stored and flagged, not rejected", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, snapshot := buildRunningExecution(s)

		r, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[2].TaskID, MeasurementValue: float64Ptr(6)}, s)
		Expect(err).To(BeNil())
		Expect(r.OutsideRange).To(BeTrue())
		Expect(r.Completed).To(BeTrue())
		Expect(*r.MeasurementValue).To(Equal(float64(6)))
	})

	t.Run("re-submission updates the existing row in place", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, snapshot := buildRunningExecution(s)

		first, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[0].TaskID, Text: "maybe"}, s)
		Expect(err).To(BeNil())

		second, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[0].TaskID, Text: "yes"}, s)
		Expect(err).To(BeNil())
		Expect(second.ID).To(Equal(first.ID))
		Expect(second.Text).To(Equal("yes"))

		detail, err := execution.DetailExecution(e.ID, s)
		Expect(err).To(BeNil())
		Expect(len(detail.Responses)).To(Equal(1))
	})

	t.Run("response against an unknown snapshot task is rejected", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, _ := buildRunningExecution(s)

		_, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: 987654, Text: "lost"}, s)
		Expect(err).To(Equal(bizerror.ErrUnknownFormTask))
	})

	t.Run("response on a finished execution is rejected", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, snapshot := buildRunningExecution(s)
		Expect(execution.CancelExecution(e.ID, s)).To(BeNil())

		_, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[0].TaskID, Text: "yes"}, s)
		Expect(err).To(Equal(bizerror.ErrExecutionStateInvalid))
	})
}

func TestRecordChoiceResponses(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	buildChoiceExecution := func(s *session.Session) (*execution.FormExecution, form.FormSnapshot) {
		f, err := form.CreateForm(&form.FormCreation{Name: "valve states", PlantID: 1}, s)
		Expect(err).To(BeNil())
		_, err = form.CreateTask(&form.TaskCreation{
			FormID: f.ID, Kind: form.TaskKindMultipleChoice, Description: "valve position", Required: true,
			Config: form.TaskConfig{Options: []string{"open", "closed"}}}, s)
		Expect(err).To(BeNil())
		_, err = form.CreateTask(&form.TaskCreation{
			FormID: f.ID, Kind: form.TaskKindMultipleSelect, Description: "observed issues",
			Config: form.TaskConfig{Options: []string{"leak", "noise", "vibration"}}}, s)
		Expect(err).To(BeNil())

		v, err := form.PublishForm(f.ID, s)
		Expect(err).To(BeNil())
		e, err := execution.CreateExecution(&execution.ExecutionCreation{VersionID: v.ID}, s)
		Expect(err).To(BeNil())
		Expect(execution.StartExecution(e.ID, s)).To(BeNil())
		return e, v.Snapshot
	}

	t.Run("options outside the snapshot config are rejected", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, snapshot := buildChoiceExecution(s)

		_, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[0].TaskID, SelectedOptions: []string{"ajar"}}, s)
		Expect(err).To(Equal(bizerror.ErrOptionNotAllowed))

		_, err = execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[1].TaskID, SelectedOptions: []string{"leak", "smoke"}}, s)
		Expect(err).To(Equal(bizerror.ErrOptionNotAllowed))
	})

	t.Run("multiple choice accepts a single option only", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, snapshot := buildChoiceExecution(s)

		_, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[0].TaskID, SelectedOptions: []string{"open", "closed"}}, s)
		Expect(err).To(HaveOccurred())

		r, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[0].TaskID, SelectedOptions: []string{"open"}}, s)
		Expect(err).To(BeNil())
		Expect(r.Completed).To(BeTrue())
	})

	t.Run("answering the last open task auto-completes the execution", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		s := executionTestSetup(t, &testDatabase)
		e, snapshot := buildChoiceExecution(s)

		_, err := execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[0].TaskID, SelectedOptions: []string{"closed"}}, s)
		Expect(err).To(BeNil())
		_, err = execution.RecordResponse(&execution.ResponseCreation{
			ExecutionID: e.ID, TaskID: snapshot.Tasks[1].TaskID, SelectedOptions: []string{"noise", "vibration"}}, s)
		Expect(err).To(BeNil())

		detail, err := execution.DetailExecution(e.ID, s)
		Expect(err).To(BeNil())
		Expect(detail.StateName).To(Equal(execution.StateCompleted))
	})
}
