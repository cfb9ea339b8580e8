// file: models/active_os.go
package models

import (
	"time"
)

// ActiveOSContainer 对应 active_k8s_os_containers 表，记录用户的桌面 (pwnbox) Pod。
// 与 ActiveLab 形状一致，每个用户同一时刻至多一个 OS Pod（不区分 os_type）。
type ActiveOSContainer struct {
	PodName   string    `gorm:"column:pod_name;size:255;primarykey"`
	Namespace string    `gorm:"size:255;not null;index:idx_k8s_os_namespace"`
	UserID    string    `gorm:"column:user_id;size:255;not null;index:idx_k8s_os_user_id"`
	OSType    string    `gorm:"column:os_type;size:50;not null"`
	Status    LabStatus `gorm:"size:50;default:'running'"`
	URL       string    `gorm:"column:url;type:text"`
	VNCURL    string    `gorm:"column:vnc_url;type:text"`
	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

func (ActiveOSContainer) TableName() string {
	return "active_k8s_os_containers"
}
