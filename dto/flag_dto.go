// file: dto/flag_dto.go
package dto

// ValidateFlagRequest 提交 flag
type ValidateFlagRequest struct {
	LabID      int    `json:"labId" binding:"required"`
	Difficulty string `json:"difficulty" binding:"required,oneof=easy medium hard"`
	Flag       string `json:"flag" binding:"required"`
	PodName    string `json:"podName" binding:"required"`
}
