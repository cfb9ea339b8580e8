// file: dto/lab_dto.go
package dto

// StartLabRequest 启动实验
type StartLabRequest struct {
	LabType string `json:"labType" binding:"required"`
}

// StopLabRequest 停止实验
type StopLabRequest struct {
	PodName string `json:"podName" binding:"required"`
}

// StartOSRequest 启动桌面容器
type StartOSRequest struct {
	OSType string `json:"osType" binding:"required"`
}

// StopOSRequest 停止桌面容器，podName 为空表示停止该用户全部 OS 容器
type StopOSRequest struct {
	PodName string `json:"podName"`
}

// RestartOSRequest 重启桌面容器。重启即"全量驱逐 + 重新启动"，
// 不需要指定旧 Pod。
type RestartOSRequest struct {
	OSType string `json:"osType" binding:"required"`
}
