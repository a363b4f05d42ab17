package persistence

import (
	"database/sql"
	"errors"
	"os"
	"strings"
)

type DatabaseConfig struct {
	DriverType string
	DriverArgs string
}

// ParseDatabaseConfigFromEnv DATABASE_DRIVER, DATABASE_URL
// mysql: user:pass@(host:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local
func ParseDatabaseConfigFromEnv() (*DatabaseConfig, error) {
	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = "mysql"
	}
	args := os.ExpandEnv(os.Getenv("DATABASE_URL"))
	if args == "" {
		return nil, errors.New("environment variable DATABASE_URL is required")
	}
	return &DatabaseConfig{DriverType: driver, DriverArgs: args}, nil
}

// PrepareMysqlDatabase creates the database named in the connection string if
// it does not exist yet.
func PrepareMysqlDatabase(driverArgs string) error {
	idx := strings.LastIndex(driverArgs, "/")
	if idx < 0 {
		return errors.New("invalid mysql connection string: " + driverArgs)
	}
	serverArgs := driverArgs[0:idx+1] + "?charset=utf8mb4"
	dbFullName := driverArgs[idx+1:]
	dbName := dbFullName
	if paramIdx := strings.Index(dbFullName, "?"); paramIdx >= 0 {
		dbName = dbFullName[0:paramIdx]
	}

	db, err := sql.Open("mysql", serverArgs)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec("CREATE DATABASE IF NOT EXISTS `" + dbName + "` DEFAULT CHARACTER SET utf8mb4")
	return err
}
