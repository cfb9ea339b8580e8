// file: dto/admin_dto.go
package dto

// UpdateTimeoutRequest 更新实验/OS 容器超时配置（分钟）
type UpdateTimeoutRequest struct {
	LabTimeoutMinutes int `json:"labTimeoutMinutes"`
	OSTimeoutMinutes  int `json:"osTimeoutMinutes"`
}

// TimeoutSettingsResponse 当前超时配置
type TimeoutSettingsResponse struct {
	LabTimeoutMinutes int `json:"labTimeoutMinutes"`
	OSTimeoutMinutes  int `json:"osTimeoutMinutes"`
}
