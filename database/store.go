// file: database/store.go
package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/models"
)

// ErrRecordNotFound 供上层判断"记录不存在"而不必直接依赖 gorm。
var ErrRecordNotFound = gorm.ErrRecordNotFound

// Store 是活跃实验/OS 容器、计分、用户和系统配置的唯一事实来源。
// 生命周期管理层只通过这里写记录，编排适配层从不落库。
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ---------- active_k8s_labs ----------

// UpsertLab 按 pod_name 冲突更新，保持与原有 ON CONFLICT 行为一致。
func (s *Store) UpsertLab(lab *models.ActiveLab) error {
	lab.UpdatedAt = time.Now()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pod_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "url", "updated_at"}),
	}).Create(lab).Error
}

func (s *Store) GetLab(podName string) (*models.ActiveLab, error) {
	var lab models.ActiveLab
	if err := s.db.First(&lab, "pod_name = ?", podName).Error; err != nil {
		return nil, err
	}
	return &lab, nil
}

func (s *Store) DeleteLab(podName string) error {
	return s.db.Delete(&models.ActiveLab{}, "pod_name = ?", podName).Error
}

func (s *Store) LabsByUser(userID string) ([]models.ActiveLab, error) {
	var labs []models.ActiveLab
	err := s.db.Where("user_id = ?", userID).Find(&labs).Error
	return labs, err
}

func (s *Store) LabsByUserAndType(userID, labType string) ([]models.ActiveLab, error) {
	var labs []models.ActiveLab
	err := s.db.Where("user_id = ? AND lab_type = ?", userID, labType).Find(&labs).Error
	return labs, err
}

func (s *Store) AllLabs() ([]models.ActiveLab, error) {
	var labs []models.ActiveLab
	err := s.db.Find(&labs).Error
	return labs, err
}

// ---------- active_k8s_os_containers ----------

func (s *Store) UpsertOS(c *models.ActiveOSContainer) error {
	c.UpdatedAt = time.Now()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pod_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "url", "vnc_url", "updated_at"}),
	}).Create(c).Error
}

func (s *Store) GetOS(podName string) (*models.ActiveOSContainer, error) {
	var c models.ActiveOSContainer
	if err := s.db.First(&c, "pod_name = ?", podName).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteOS(podName string) error {
	return s.db.Delete(&models.ActiveOSContainer{}, "pod_name = ?", podName).Error
}

func (s *Store) OSByUser(userID string) ([]models.ActiveOSContainer, error) {
	var cs []models.ActiveOSContainer
	err := s.db.Where("user_id = ?", userID).Find(&cs).Error
	return cs, err
}

func (s *Store) AllOS() ([]models.ActiveOSContainer, error) {
	var cs []models.ActiveOSContainer
	err := s.db.Find(&cs).Error
	return cs, err
}

// ---------- lab_scores ----------

func (s *Store) GetScore(userID string, labID, level int) (*models.LabScore, error) {
	var score models.LabScore
	err := s.db.Where("user_id = ? AND lab_id = ? AND level = ?", userID, labID, level).
		First(&score).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// UpsertScore 写入/更新一条计分记录，(user_id, lab_id, level) 唯一。
func (s *Store) UpsertScore(score *models.LabScore) error {
	score.SubmittedAt = time.Now()
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "lab_id"}, {Name: "level"}},
		DoUpdates: clause.AssignmentColumns([]string{"score", "solved", "submitted_at"}),
	}).Create(score).Error
}

// ScoreTotals 返回某用户在某实验上已解出的总分和数量。
func (s *Store) ScoreTotals(userID string, labID int) (total int, solvedCount int, err error) {
	type agg struct {
		TotalScore  int
		SolvedCount int
	}
	var a agg
	err = s.db.Model(&models.LabScore{}).
		Select("COALESCE(SUM(score),0) as total_score, COUNT(*) as solved_count").
		Where("user_id = ? AND lab_id = ? AND solved = ?", userID, labID, true).
		Scan(&a).Error
	return a.TotalScore, a.SolvedCount, err
}

// ---------- users ----------

func (s *Store) GetUserByID(userID string) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(user *models.User) error {
	return s.db.Create(user).Error
}

func (s *Store) TouchUserActivity(userID, ip string) error {
	now := time.Now()
	return s.db.Model(&models.User{}).Where("user_id = ?", userID).
		Updates(map[string]interface{}{"ip_address": ip, "last_activity": &now}).Error
}

// ---------- system_settings ----------

func (s *Store) GetSetting(key, defaultValue string) string {
	var setting models.SystemSetting
	if err := s.db.First(&setting, "`key` = ?", key).Error; err != nil {
		return defaultValue
	}
	return setting.Value
}

func (s *Store) SetSetting(key, value string) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&models.SystemSetting{Key: key, Value: value}).Error
}
