// file: models/system_setting.go
package models

// SystemSetting 对应 system_settings 表，简单的 key/value 配置存储。
// 目前使用的 key: lab_timeout_minutes / os_timeout_minutes。
type SystemSetting struct {
	Key   string `gorm:"column:key;size:100;primarykey"`
	Value string `gorm:"column:value;size:255;not null"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
