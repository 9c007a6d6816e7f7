package main

import (
	"os"
	"strings"

	"github.com/nimasrn/engagement-reseller/internal/config"
	"github.com/nimasrn/engagement-reseller/pkg/logger"
	"github.com/nimasrn/engagement-reseller/pkg/pg"
)

func main() {
	defer logger.Sync()

	err := config.LoadDatabaseOnly(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	// main.go --dir=./migrations
	err = pg.Migrate(config.Get().PostgresWrite(), getMigrationPath())
	if err != nil {
		logger.Error("migration: error running migrations", "error", err)
	}
}

func getEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	if _, err := os.Open(".env"); err != nil {
		logger.Error("failed to open the passed env file, got error" + err.Error())
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--dir=") {
			s := strings.Split(v, "=")
			if _, err := os.Stat(s[1]); err != nil {
				logger.Error("failed to open the migrations dir, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	if _, err := os.Stat("./migrations"); err != nil {
		logger.Error("failed to open the migrations dir, got error" + err.Error())
		return ""
	}
	return "./migrations"
}
