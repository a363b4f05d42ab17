package indices

import (
	"fmt"
	"sync"

	"maintos/account"
	"maintos/bizerror"
	"maintos/domain/workorder"
	"maintos/es"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/sirupsen/logrus"
)

var (
	WorkOrderIndexEventHandlerName = "workOrderIndexer"

	lock    sync.Mutex
	running bool

	IndicesFullSyncFunc    = IndicesFullSync
	ScheduleNewSyncRunFunc = ScheduleNewSyncRun
)

func ScheduleNewSyncRun(s *session.Session) (bool, error) {
	if !s.Perms.HasRole(account.SystemAdminPermission.ID) {
		return false, bizerror.ErrForbidden
	}

	lock.Lock()
	if running {
		lock.Unlock()
		return false, nil
	}
	running = true
	lock.Unlock()

	waitRunning := sync.WaitGroup{}
	waitRunning.Add(1)
	go func() {
		waitRunning.Done()
		defer func() {
			lock.Lock()
			running = false
			lock.Unlock()
		}()
		IndicesFullSyncFunc()
	}()
	waitRunning.Wait()
	return true, nil
}

var (
	SyncBatchSize = 500
)

func IndicesFullSync() (err error) {
	defer func() {
		if ret := recover(); ret != nil {
			e, ok := ret.(error)
			if ok {
				err = e
			} else {
				err = fmt.Errorf("error on indices full sync: %v", ret)
			}
		}
	}()

	page := 1
	for {
		orders, err := workorder.LoadWorkOrdersFunc(page, SyncBatchSize)
		if err != nil {
			logrus.Warnf("indices fully sync: error on retrive work orders(page = %d, pageSize = %d): %v", page, SyncBatchSize, err)
			page++
			continue
		}

		if len(orders) == 0 {
			logrus.Infof("indices fully sync: there are no more work orders to index")
			return nil // loop exit
		}

		if err := IndexWorkOrders(orders); err != nil {
			logrus.Warnf("indices fully sync: error on index work orders(page = %d, pageSize = %d): %v", page, SyncBatchSize, err)
		}
		page++
	}
}

// WorkOrderIndexEventHandle keeps the search index in step with work order
// events. Registered as an event handler at startup.
func WorkOrderIndexEventHandle(e *event.EventRecord) *event.EventHandleResult {
	if e.SourceType != event.SourceTypeWorkOrder {
		return nil
	}

	if e.EventCategory == event.EventCategoryDeleted {
		err := es.DeleteDocumentByIdFunc(WorkOrderIndexName, e.Event.SourceId)
		if err != nil {
			return &event.EventHandleResult{
				Message:           fmt.Sprintf("delete work order index %d, %v", e.Event.SourceId, err),
				HandlerIdentifier: WorkOrderIndexEventHandlerName,
			}
		}
		return &event.EventHandleResult{Success: true, HandlerIdentifier: WorkOrderIndexEventHandlerName}
	}

	var w workorder.WorkOrder
	db := persistence.ActiveDataSourceManager.GormDB(nil)
	if err := db.Where(&workorder.WorkOrder{ID: e.Event.SourceId}).First(&w).Error; err != nil {
		return &event.EventHandleResult{
			Message:           fmt.Sprintf("load work order when index %d, %v", e.Event.SourceId, err),
			HandlerIdentifier: WorkOrderIndexEventHandlerName,
		}
	}
	if err := IndexWorkOrders([]workorder.WorkOrder{w}); err != nil {
		return &event.EventHandleResult{
			Message:           fmt.Sprintf("index work order %d, %v", e.Event.SourceId, err),
			HandlerIdentifier: WorkOrderIndexEventHandlerName,
		}
	}
	return &event.EventHandleResult{Success: true, HandlerIdentifier: WorkOrderIndexEventHandlerName}
}
