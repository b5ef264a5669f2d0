package postgres

import (
	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open dials dsn and returns a ready *gorm.DB, silencing gorm's own
// logger in favor of the zap logging the repositories do themselves.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, es.NewError("postgres.Open", es.KindStorage, "failed to open database", err)
	}
	return db, nil
}
