package routine

import (
	"sync"
	"time"

	"maintos/account"
	"maintos/authority"
	"maintos/bizerror"
	"maintos/domain/asset"
	"maintos/domain/form"
	"maintos/domain/workorder"
	"maintos/event"
	"maintos/persistence"
	"maintos/session"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	cron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	GenerateWorkOrderFunc        = GenerateWorkOrder
	GenerateDueWorkOrdersFunc    = GenerateDueWorkOrders
	ScheduleNewGenerationRunFunc = ScheduleNewGenerationRun

	generationRobot = &session.Session{
		Identity: session.Identity{ID: 20, Name: "generation-robot", Nickname: "generation-robot"},
		Perms:    authority.Permissions{account.SystemAdminPermission.ID},
	}

	lock    sync.Mutex
	running bool
)

// GenerateWorkOrder creates one work order from the routine, attaching the
// active form version snapshot when present. When an open generated order
// already exists it is returned instead of creating a duplicate.
func GenerateWorkOrder(routineId types.ID, s *session.Session) (*workorder.WorkOrder, error) {
	var record *workorder.WorkOrder
	var ev *event.EventRecord

	err := persistence.ActiveDataSourceManager.GormDB(s.Context).Transaction(func(tx *gorm.DB) error {
		r := Routine{}
		if err := tx.Where(&Routine{ID: routineId}).First(&r).Error; err != nil {
			return err
		}
		if !s.Perms.HasRole(account.SystemAdminPermission.ID) &&
			!s.Perms.HasRoleSuffix("_"+r.PlantID.String()) {
			return bizerror.ErrForbidden
		}

		open, err := workorder.FindOpenOrderOfRoutine(tx, r.ID)
		if err != nil {
			return err
		}
		if open != nil {
			logrus.Infof("routine %d already has open work order %s, skip generation", r.ID, open.Identifier)
			record = open
			return nil
		}

		record, ev, err = generateWorkOrderInTx(tx, &r, s)
		return err
	})
	if err != nil {
		return nil, err
	}

	if ev != nil && event.InvokeHandlersFunc != nil {
		event.InvokeHandlersFunc(ev)
	}
	return record, nil
}

func generateWorkOrderInTx(tx *gorm.DB, r *Routine, s *session.Session) (*workorder.WorkOrder, *event.EventRecord, error) {
	creation := workorder.WorkOrderCreation{
		PlantID: r.PlantID, AssetID: r.AssetID, TypeID: r.TypeID,
		Title:      r.Name,
		SourceKind: workorder.SourceKindRoutine, SourceID: r.ID,
		Discipline: r.DefaultDiscipline, Category: r.DefaultCategory, Priority: r.DefaultPriority,
		AutoApprove: r.AutoApproveOrders,
	}
	if r.ActiveFormVersionID != 0 {
		var v form.FormVersion
		if err := tx.Where(&form.FormVersion{ID: r.ActiveFormVersionID}).First(&v).Error; err != nil {
			return nil, nil, err
		}
		creation.FormSnapshot = v.Snapshot
	}

	w, ev, err := workorder.CreateWorkOrderInTx(tx, &creation, s)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Model(&Routine{}).Where(&Routine{ID: r.ID}).
		Update("last_generation_time", types.CurrentTimestamp()).Error; err != nil {
		return nil, nil, err
	}
	return w, ev, nil
}

// GenerateDueWorkOrders scans active automatic routines and generates work
// orders for those within their advance window. Routines already covered by
// an open generated order are skipped, so repeated invocation is idempotent.
func GenerateDueWorkOrders() ([]workorder.WorkOrder, error) {
	db := persistence.ActiveDataSourceManager.GormDB(nil)

	var routines []Routine
	if err := db.Where(&Routine{Active: true, ExecutionMode: ExecutionModeAutomatic}).
		Find(&routines).Error; err != nil {
		return nil, err
	}

	created := []workorder.WorkOrder{}
	now := time.Now()
	for i := range routines {
		r := routines[i]

		var currentHours *float64
		current, err := asset.CurrentRuntimeInTx(db, r.AssetID)
		if err != nil {
			logrus.Warnf("generation scan: routine %d: load current runtime: %v", r.ID, err)
			continue
		}
		if current != nil {
			currentHours = &current.Hours
		}
		if !r.ShouldGenerateWorkOrder(currentHours, now) {
			continue
		}

		var record *workorder.WorkOrder
		var ev *event.EventRecord
		err = db.Transaction(func(tx *gorm.DB) error {
			open, err := workorder.FindOpenOrderOfRoutine(tx, r.ID)
			if err != nil {
				return err
			}
			if open != nil {
				logrus.Infof("routine %d already has open work order %s, skip generation", r.ID, open.Identifier)
				return nil
			}
			record, ev, err = generateWorkOrderInTx(tx, &r, generationRobot)
			return err
		})
		if err != nil {
			logrus.Warnf("generation scan: routine %d: %v", r.ID, err)
			continue
		}
		if record == nil {
			continue
		}
		if ev != nil && event.InvokeHandlersFunc != nil {
			event.InvokeHandlersFunc(ev)
		}
		created = append(created, *record)
	}
	return created, nil
}

// ScheduleNewGenerationRun starts one generation scan in the background,
// refusing to overlap a scan already in flight.
func ScheduleNewGenerationRun(s *session.Session) (bool, error) {
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
		if _, err := GenerateDueWorkOrdersFunc(); err != nil {
			logrus.Errorf("scheduled generation run failed: %v", err)
		}
	}()
	waitRunning.Wait()
	return true, nil
}

func StartGenerationCron() {
	crontab := cron.New(cron.WithSeconds())
	crontab.AddFunc("0 0 * * * ?", func() {
		lock.Lock()
		if running {
			lock.Unlock()
			logrus.Info("generation scan already running, skip this tick")
			return
		}
		running = true
		lock.Unlock()
		defer func() {
			lock.Lock()
			running = false
			lock.Unlock()
		}()

		if _, err := GenerateDueWorkOrdersFunc(); err != nil {
			logrus.Errorf("hourly generation scan failed: %v", err)
		}
	})
	crontab.Start()
}
