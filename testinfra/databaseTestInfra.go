package testinfra

import (
	"log"

	"maintos/persistence"

	"github.com/google/uuid"
)

type TestDatabase struct {
	TestDatabaseName string
	DS               *persistence.DataSourceManager
}

// StartSqliteTestDatabase opens a private in-memory database so service tests
// run hermetically. The uuid keeps parallel test packages apart.
func StartSqliteTestDatabase(baseName string) *TestDatabase {
	databaseName := baseName + "_test_" + uuid.New().String()
	dbConfig := &persistence.DatabaseConfig{
		DriverType: "sqlite3",
		DriverArgs: "file:" + databaseName + "?mode=memory&cache=shared",
	}

	ds := &persistence.DataSourceManager{DatabaseConfig: dbConfig}
	if err := ds.Start(); err != nil {
		defer ds.Stop()
		log.Fatalf("database conneciton failed %v\n", err)
	}

	return &TestDatabase{TestDatabaseName: databaseName, DS: ds}
}

func StopSqliteTestDatabase(testDatabase *TestDatabase) {
	if testDatabase != nil && testDatabase.DS != nil {
		testDatabase.DS.Stop()
	}
}
