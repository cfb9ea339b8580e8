// file: database/connect.go
package database

import (
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/models"
)

var DB *gorm.DB

func Connect() {
	var err error
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:123456@tcp(localhost:3306)/letushack_db?charset=utf8mb4&parseTime=True&loc=Local"
	}
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("Failed to get underlying sql.DB:", err)
	}

	// 连接池配置：MaxLifetime 设为 1 小时以规避 MySQL wait_timeout 断连
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("Database connection successfully established and connection pool configured.")
}

// MigrateTables 建表/补列。生产环境如不希望 GORM 修改表结构可以跳过。
func MigrateTables() {
	err := DB.AutoMigrate(
		&models.User{},
		&models.ActiveLab{},
		&models.ActiveOSContainer{},
		&models.LabScore{},
		&models.SystemSetting{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	log.Println("Database migration completed.")
}
