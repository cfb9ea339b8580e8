// file: models/active_lab.go
package models

import (
	"time"
)

type LabStatus string

const (
	LabStatusPending LabStatus = "pending"
	LabStatusRunning LabStatus = "running"
	LabStatusStopped LabStatus = "stopped"
	LabStatusError   LabStatus = "error"
)

// ActiveLab 对应 active_k8s_labs 表，每个正在运行的实验 Pod 一行。
// pod_name 既是主键，也是所有编排操作使用的标识。
type ActiveLab struct {
	PodName   string    `gorm:"column:pod_name;size:255;primarykey"`
	Namespace string    `gorm:"size:255;not null;index:idx_k8s_labs_namespace"`
	UserID    string    `gorm:"column:user_id;size:255;not null;index:idx_k8s_labs_user_id"`
	LabType   string    `gorm:"column:lab_type;size:50;not null"`
	Status    LabStatus `gorm:"size:50;default:'running'"`
	URL       string    `gorm:"column:url;type:text"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

func (ActiveLab) TableName() string {
	return "active_k8s_labs"
}
