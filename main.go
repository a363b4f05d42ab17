package main

import (
	"log"
	"net/http"

	"maintos/account"
	"maintos/bizerror"
	"maintos/client/s3"
	"maintos/common"
	"maintos/domain"
	"maintos/domain/asset"
	"maintos/domain/form"
	"maintos/domain/form/execution"
	"maintos/domain/plant"
	"maintos/domain/routine"
	"maintos/domain/workorder"
	"maintos/es"
	"maintos/event"
	"maintos/indices"
	"maintos/infra/tracing"
	"maintos/persistence"
	"maintos/servehttp"
	"maintos/session"
	"maintos/sessions"

	"github.com/gin-gonic/gin"
)

func main() {
	log.Println("service start")

	closer, err := tracing.Bootstrap(common.GetServiceName())
	if err != nil {
		log.Fatalf("tracing bootstrap failed %v\n", err)
	}
	defer closer.Close()

	dbConfig, err := persistence.ParseDatabaseConfigFromEnv()
	if err != nil {
		log.Fatalf("parse database config failed %v\n", err)
	}

	// create database (no conflict)
	if dbConfig.DriverType == "mysql" {
		if err := persistence.PrepareMysqlDatabase(dbConfig.DriverArgs); err != nil {
			log.Fatalf("failed to prepare database %v\n", err)
		}
	}

	// connect database
	ds := &persistence.DataSourceManager{DatabaseConfig: dbConfig}
	if err := ds.Start(); err != nil {
		log.Fatalf("database conneciton failed %v\n", err)
	}
	defer ds.Stop()
	persistence.ActiveDataSourceManager = ds

	// database migration (race condition)
	err = ds.GormDB(nil).AutoMigrate(
		&domain.Plant{}, &domain.PlantMember{},
		&account.User{}, &account.Role{}, &account.Permission{},
		&account.UserRoleBinding{}, &account.RolePermissionBinding{},
		&event.EventRecord{},
		&asset.Asset{}, &asset.RuntimeMeasurement{},
		&routine.Routine{},
		&workorder.WorkOrder{}, &workorder.WorkOrderType{}, &workorder.WorkOrderProcessStep{},
		&form.Form{}, &form.FormTask{}, &form.Instruction{}, &form.FormVersion{},
		&execution.FormExecution{}, &execution.TaskResponse{}, &execution.ResponseAttachment{},
	).Error
	if err != nil {
		log.Fatalf("database migration failed %v\n", err)
	}

	if err := account.DefaultSecurityConfiguration(); err != nil {
		log.Fatalf("security bootstrap failed %v\n", err)
	}

	es.Bootstrap()
	s3.Bootstrap()

	// cross-package hooks
	form.PropagateActiveVersionFunc = routine.PropagateActiveVersion
	form.VersionReferencedCheckFunc = execution.VersionReferencedCheck
	event.EventHandlers = append(event.EventHandlers,
		indices.WorkOrderIndexEventHandle,
		routine.HandleWorkOrderCompleted,
		execution.HandleExecutionCompleted,
	)

	engine := gin.New()
	engine.Use(gin.Logger(), tracing.TracingIngress(), bizerror.ErrorHandling())
	engine.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "maintos")
	})

	sessions.RegisterSessionsHandler(engine)
	account.RegisterUsersHandler(engine, session.SimpleAuthFilter())
	plant.RegisterPlantsRestAPI(engine, session.SimpleAuthFilter())
	asset.RegisterAssetsRestAPI(engine, session.SimpleAuthFilter())
	routine.RegisterRoutinesRestAPI(engine, session.SimpleAuthFilter())
	workorder.RegisterWorkOrdersRestAPI(engine, session.SimpleAuthFilter())
	form.RegisterFormsRestAPI(engine, session.SimpleAuthFilter())
	execution.RegisterExecutionsRestAPI(engine, session.SimpleAuthFilter())
	indices.RegisterIndicesRestAPI(engine, session.SimpleAuthFilter())

	routine.StartGenerationCron()
	indices.StartCron()

	servehttp.StartHTTPServer(engine)
}
