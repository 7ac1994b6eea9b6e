// Package history keeps a local journal of finished sessions. The journal is
// best-effort bookkeeping; it records outcomes and is never consulted to
// resume a transfer.
package history

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type Record struct {
	ID         string `gorm:"primaryKey"`
	Role       string
	Peer       string
	Items      int
	Bytes      int64
	Status     string
	Error      string
	StartedAt  int64
	FinishedAt int64
}

type Journal struct {
	db *gorm.DB
}

func Open(path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Add(rec *Record) error {
	return j.db.Create(rec).Error
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	var records []Record
	err := j.db.Order("finished_at desc").Limit(limit).Find(&records).Error
	return records, err
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
