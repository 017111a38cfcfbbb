package database

import (
	"time"

	"docvec-go/internal/model"
	"docvec-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接并自动迁移元数据表。
func InitMySQL(dsn string) {
	var err error
	// TranslateError 把驱动层的唯一键冲突翻译为 gorm.ErrDuplicatedKey
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)           // 空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(100)          // 打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 连接可复用的最大时间

	// 元数据存储共四张表：collections / documents / chunks / sync_jobs
	if err := DB.AutoMigrate(
		&model.Collection{},
		&model.Document{},
		&model.Chunk{},
		&model.SyncJob{},
	); err != nil {
		log.Fatal("failed to migrate metadata tables", err)
	}

	log.Info("MySQL database connected successfully")
}
