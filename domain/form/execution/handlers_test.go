package execution_test

import (
	"context"
	"testing"

	"maintos/domain/form/execution"
	"maintos/domain/workorder"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"
	"maintos/testinfra"

	"github.com/fundwit/go-commons/types"
	. "github.com/onsi/gomega"
)

func handlersTestSetup(t *testing.T, testDatabase **testinfra.TestDatabase) {
	db := testinfra.StartSqliteTestDatabase("maintos")
	*testDatabase = db
	Expect(db.DS.GormDB(context.Background()).AutoMigrate(
		&execution.FormExecution{}, &workorder.WorkOrder{}).Error).To(BeNil())
	persistence.ActiveDataSourceManager = db.DS
}

func executionCompletedEvent(executionId types.ID) *event.EventRecord {
	return &event.EventRecord{Event: event.Event{
		SourceId: executionId, SourceType: event.SourceTypeFormExecution,
		EventCategory: event.EventCategoryPropertyUpdated,
		UpdatedProperties: event.UpdatedProperties{{
			PropertyName: "StateName", NewValue: execution.StateCompleted,
		}},
	}}
}

func TestHandleExecutionCompleted(t *testing.T) {
	RegisterTestingT(t)
	var testDatabase *testinfra.TestDatabase

	t.Run("completed execution pushes its executing work order to completed", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		handlersTestSetup(t, &testDatabase)
		db := testDatabase.DS.GormDB(context.Background())

		Expect(db.Create(&workorder.WorkOrder{ID: 301, PlantID: 1, Identifier: "PLA-1",
			StateName: workorder.StateExecuting.Name}).Error).To(BeNil())
		Expect(db.Create(&execution.FormExecution{ID: 401, PlantID: 1, WorkOrderID: 301,
			StateName: execution.StateCompleted}).Error).To(BeNil())

		var captured *workorder.WorkOrderTransition
		var robotPerms []string
		workorder.TransitionWorkOrderFunc = func(t *workorder.WorkOrderTransition, s *session.Session) error {
			captured = t
			robotPerms = s.Perms
			return nil
		}
		defer func() {
			workorder.TransitionWorkOrderFunc = workorder.TransitionWorkOrder
		}()

		result := execution.HandleExecutionCompleted(executionCompletedEvent(401))
		Expect(result).ToNot(BeNil())
		Expect(result.Success).To(BeTrue())
		Expect(result.HandlerIdentifier).To(Equal(execution.ExecutionCompletionHandlerName))

		Expect(captured).ToNot(BeNil())
		Expect(captured.WorkOrderID).To(Equal(types.ID(301)))
		Expect(captured.FromState).To(Equal(workorder.StateExecuting.Name))
		Expect(captured.ToState).To(Equal(workorder.StateCompleted.Name))
		Expect(robotPerms).To(ContainElement("manager_1"))
	})

	t.Run("work order not in executing is left alone", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		handlersTestSetup(t, &testDatabase)
		db := testDatabase.DS.GormDB(context.Background())

		Expect(db.Create(&workorder.WorkOrder{ID: 302, PlantID: 1, Identifier: "PLA-2",
			StateName: workorder.StateApproved.Name}).Error).To(BeNil())
		Expect(db.Create(&execution.FormExecution{ID: 402, PlantID: 1, WorkOrderID: 302,
			StateName: execution.StateCompleted}).Error).To(BeNil())

		transitioned := false
		workorder.TransitionWorkOrderFunc = func(t *workorder.WorkOrderTransition, s *session.Session) error {
			transitioned = true
			return nil
		}
		defer func() {
			workorder.TransitionWorkOrderFunc = workorder.TransitionWorkOrder
		}()

		Expect(execution.HandleExecutionCompleted(executionCompletedEvent(402))).To(BeNil())
		Expect(transitioned).To(BeFalse())
	})

	t.Run("standalone execution without a work order is ignored", func(t *testing.T) {
		defer executionTestTeardown(t, testDatabase)
		handlersTestSetup(t, &testDatabase)
		db := testDatabase.DS.GormDB(context.Background())

		Expect(db.Create(&execution.FormExecution{ID: 403, PlantID: 1,
			StateName: execution.StateCompleted}).Error).To(BeNil())

		Expect(execution.HandleExecutionCompleted(executionCompletedEvent(403))).To(BeNil())
	})

	t.Run("unrelated events are ignored", func(t *testing.T) {
		ev := &event.EventRecord{Event: event.Event{
			SourceId: 1, SourceType: event.SourceTypeWorkOrder,
			EventCategory: event.EventCategoryPropertyUpdated,
		}}
		Expect(execution.HandleExecutionCompleted(ev)).To(BeNil())
	})
}
