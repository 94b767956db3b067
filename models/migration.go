package models

import (
	"log"

	"github.com/coverwell/crm_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Organization{}, &Profile{},
		&Member{}, &Advisor{}, &BillGroup{},
		&ImportJob{}, &ImportRowError{}, &ImportSnapshot{},
		&AuditLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
