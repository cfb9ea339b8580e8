// file: services/lab_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/database"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/models"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/utils"
)

const (
	labReadyTimeout    = 60 * time.Second
	routeReadyTimeout  = 90 * time.Second
	routeDeleteTimeout = 60 * time.Second
)

// validLabTypes 是可启动的实验类型全集，来路不明的类型直接拒绝。
var validLabTypes = map[string]bool{
	"xss":  true,
	"csrf": true,
	"nmap": true,
}

const osTypeDebian = "debian"

// LabStore 是生命周期管理层需要的记录读写口，*database.Store 满足该接口。
type LabStore interface {
	UpsertLab(lab *models.ActiveLab) error
	GetLab(podName string) (*models.ActiveLab, error)
	DeleteLab(podName string) error
	LabsByUserAndType(userID, labType string) ([]models.ActiveLab, error)
	LabsByUser(userID string) ([]models.ActiveLab, error)

	UpsertOS(c *models.ActiveOSContainer) error
	GetOS(podName string) (*models.ActiveOSContainer, error)
	DeleteOS(podName string) error
	OSByUser(userID string) ([]models.ActiveOSContainer, error)
}

// LabInfo 是一次启动/查询返回给控制器层的视图。
type LabInfo struct {
	PodName   string    `json:"podName"`
	Namespace string    `json:"namespace"`
	LabType   string    `json:"labType"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type OSInfo struct {
	PodName   string    `json:"podName"`
	Namespace string    `json:"namespace"`
	OSType    string    `json:"osType"`
	URL       string    `json:"url"`
	VNCURL    string    `json:"vncUrl"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LabService 实现实验与桌面容器的生命周期编排。
// 全部不变式在这里维护：
//   - 每用户每实验类型至多一个活跃实例（启动新实例先驱逐同类旧实例）；
//   - 每用户至多一个 OS 容器，不区分 os_type；
//   - 先等旧路由彻底消失，再部署新一代，避免两代路由并存。
type LabService struct {
	orch     Orchestrator
	store    LabStore
	settings *SettingsService
}

func NewLabService(orch Orchestrator, store LabStore, settings *SettingsService) *LabService {
	return &LabService{orch: orch, store: store, settings: settings}
}

func (s *LabService) settle(ctx context.Context) {
	delay := s.orch.SettleDelay()
	if delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// evictLabKind 驱逐用户命名空间内某一实验类型的全部旧实例：
// 记录里的和集群里实际存在的（孤儿）都删，并等待路由删除完成。
func (s *LabService) evictLabKind(ctx context.Context, userID, namespace, labType string) error {
	kind := LabKind(labType)

	records, err := s.store.LabsByUserAndType(userID, labType)
	if err != nil {
		return fmt.Errorf("list lab records: %w", err)
	}
	seen := map[string]bool{}
	for _, rec := range records {
		seen[rec.PodName] = true
		if err := s.orch.DeleteWorkload(ctx, namespace, rec.PodName); err != nil {
			return err
		}
	}
	// 记录丢失但集群里还在跑的旧 Deployment 一并清掉
	orphans, err := s.orch.ListWorkloadsByKind(ctx, namespace, kind)
	if err != nil {
		return err
	}
	for _, name := range orphans {
		if seen[name] {
			continue
		}
		log.Printf("Evicting orphan %s deployment: %s", labType, name)
		if err := s.orch.DeleteWorkload(ctx, namespace, name); err != nil {
			return err
		}
	}

	if err := s.orch.DeleteExposuresByKind(ctx, namespace, kind); err != nil {
		return err
	}
	if err := s.orch.DeleteRoutesByKind(ctx, namespace, kind); err != nil {
		return err
	}
	if err := s.orch.WaitRoutesDeleted(ctx, namespace, kind, routeDeleteTimeout); err != nil {
		return err
	}

	for _, rec := range records {
		if err := s.store.DeleteLab(rec.PodName); err != nil {
			return fmt.Errorf("delete lab record %s: %w", rec.PodName, err)
		}
	}
	return nil
}

// StartLab 为用户启动一个实验实例。同类旧实例先被完整驱逐，
// 新实例全部就绪后才写记录，失败路径不会留下指向死 Pod 的记录。
func (s *LabService) StartLab(ctx context.Context, userID, labType string) (*LabInfo, error) {
	if !validLabTypes[labType] {
		return nil, &ValidationError{Msg: "invalid lab type: " + labType}
	}

	namespace, err := s.orch.EnsureNamespace(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.evictLabKind(ctx, userID, namespace, labType); err != nil {
		return nil, err
	}

	spec := LabDeploySpec{
		UserID:      userID,
		LabType:     labType,
		Namespace:   namespace,
		PodName:     utils.LabPodName(labType, userID),
		ServiceName: utils.LabServiceName(labType),
		UserSlug:    utils.Slugify(userID),
	}

	url, err := s.deployLab(ctx, spec)
	if err != nil {
		// 半成品对象尽力清掉，清理失败只记日志
		s.cleanupPartial(ctx, namespace, spec.PodName, LabKind(labType))
		return nil, err
	}

	lab := &models.ActiveLab{
		PodName:   spec.PodName,
		Namespace: namespace,
		UserID:    userID,
		LabType:   labType,
		Status:    models.LabStatusRunning,
		URL:       url,
		CreatedAt: time.Now(),
	}
	if err := s.store.UpsertLab(lab); err != nil {
		return nil, fmt.Errorf("persist lab record: %w", err)
	}

	log.Printf("Lab started: user=%s type=%s pod=%s", userID, labType, spec.PodName)
	return s.labInfo(lab), nil
}

func (s *LabService) deployLab(ctx context.Context, spec LabDeploySpec) (string, error) {
	if err := s.orch.DeployLabWorkload(ctx, spec); err != nil {
		return "", err
	}
	if err := s.orch.WaitReady(ctx, spec.Namespace, spec.PodName, labReadyTimeout); err != nil {
		return "", err
	}
	if err := s.orch.CreateLabExposure(ctx, spec); err != nil {
		return "", err
	}
	if err := s.orch.ApplyLabAllowRules(ctx, spec.Namespace, spec.LabType); err != nil {
		return "", err
	}
	url, err := s.orch.CreateLabRoute(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := s.orch.WaitReady(ctx, spec.Namespace, spec.PodName, routeReadyTimeout); err != nil {
		return "", err
	}
	s.settle(ctx)
	return url, nil
}

// cleanupPartial 启动失败后的兜底清理，全部幂等删除。
func (s *LabService) cleanupPartial(ctx context.Context, namespace, podName string, kind Kind) {
	if err := s.orch.DeleteWorkload(ctx, namespace, podName); err != nil {
		log.Printf("Cleanup after failed start: delete workload %s: %v", podName, err)
	}
	if err := s.orch.DeleteExposuresByKind(ctx, namespace, kind); err != nil {
		log.Printf("Cleanup after failed start: delete services for %s: %v", kind.Value, err)
	}
	if err := s.orch.DeleteRoutesByKind(ctx, namespace, kind); err != nil {
		log.Printf("Cleanup after failed start: delete ingresses for %s: %v", kind.Value, err)
	}
}

// StopLab 停止用户自己的实验实例。记录不存在或不属于该用户返回 ErrNotFound。
// 编排层删除是幂等的，Pod 已消失照样把记录清掉。
func (s *LabService) StopLab(ctx context.Context, userID, podName string) error {
	lab, err := s.store.GetLab(podName)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load lab record: %w", err)
	}
	if lab.UserID != userID {
		return ErrNotFound
	}

	kind := LabKind(lab.LabType)
	if err := s.orch.DeleteWorkload(ctx, lab.Namespace, lab.PodName); err != nil {
		return err
	}
	if err := s.orch.DeleteExposuresByKind(ctx, lab.Namespace, kind); err != nil {
		return err
	}
	if err := s.orch.DeleteRoutesByKind(ctx, lab.Namespace, kind); err != nil {
		return err
	}
	if err := s.store.DeleteLab(lab.PodName); err != nil {
		return fmt.Errorf("delete lab record: %w", err)
	}
	log.Printf("Lab stopped: user=%s pod=%s", userID, podName)
	return nil
}

// ActiveLabs 返回用户当前的实验记录视图。
func (s *LabService) ActiveLabs(userID string) ([]LabInfo, error) {
	labs, err := s.store.LabsByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list lab records: %w", err)
	}
	infos := make([]LabInfo, 0, len(labs))
	for i := range labs {
		infos = append(infos, *s.labInfo(&labs[i]))
	}
	return infos, nil
}

func (s *LabService) labInfo(lab *models.ActiveLab) *LabInfo {
	timeout := time.Duration(s.settings.LabTimeoutMinutes()) * time.Minute
	return &LabInfo{
		PodName:   lab.PodName,
		Namespace: lab.Namespace,
		LabType:   lab.LabType,
		URL:       lab.URL,
		Status:    string(lab.Status),
		CreatedAt: lab.CreatedAt,
		ExpiresAt: lab.CreatedAt.Add(timeout),
	}
}

// evictAllOS 驱逐用户的全部 OS 容器（不区分 os_type）。
func (s *LabService) evictAllOS(ctx context.Context, userID, namespace string) error {
	kind := OSComponentKind()

	records, err := s.store.OSByUser(userID)
	if err != nil {
		return fmt.Errorf("list os records: %w", err)
	}
	seen := map[string]bool{}
	for _, rec := range records {
		seen[rec.PodName] = true
		if err := s.orch.DeleteWorkload(ctx, namespace, rec.PodName); err != nil {
			return err
		}
	}
	orphans, err := s.orch.ListWorkloadsByKind(ctx, namespace, kind)
	if err != nil {
		return err
	}
	for _, name := range orphans {
		if seen[name] {
			continue
		}
		log.Printf("Evicting orphan os deployment: %s", name)
		if err := s.orch.DeleteWorkload(ctx, namespace, name); err != nil {
			return err
		}
	}

	if err := s.orch.DeleteExposuresByKind(ctx, namespace, kind); err != nil {
		return err
	}
	if err := s.orch.DeleteRoutesByKind(ctx, namespace, kind); err != nil {
		return err
	}
	if err := s.orch.WaitRoutesDeleted(ctx, namespace, kind, routeDeleteTimeout); err != nil {
		return err
	}

	for _, rec := range records {
		if err := s.store.DeleteOS(rec.PodName); err != nil {
			return fmt.Errorf("delete os record %s: %w", rec.PodName, err)
		}
	}
	return nil
}

// StartOS 启动用户的桌面容器。无论 os_type 是什么，
// 用户现存的全部 OS 容器先被驱逐（单桌面不变式）。
func (s *LabService) StartOS(ctx context.Context, userID, osType string) (*OSInfo, error) {
	if osType != osTypeDebian {
		return nil, &ValidationError{Msg: "invalid os type: " + osType}
	}

	namespace, err := s.orch.EnsureNamespace(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.evictAllOS(ctx, userID, namespace); err != nil {
		return nil, err
	}

	podName := utils.OSPodName(osType)
	spec := OSDeploySpec{
		UserID:      userID,
		OSType:      osType,
		Namespace:   namespace,
		PodName:     podName,
		ServiceName: utils.OSServiceName(podName),
		UserSlug:    utils.Slugify(userID),
	}

	baseURL, err := s.deployOS(ctx, spec)
	if err != nil {
		s.cleanupPartial(ctx, namespace, spec.PodName, OSComponentKind())
		return nil, err
	}

	// 两条 URL 指向同一个 noVNC 入口，仅连接参数不同
	url := baseURL + "vnc.html?autoconnect=true&resize=scale&password=debian&path=websockify"
	vncURL := baseURL + "vnc.html?autoconnect=true&password=debian"

	osRecord := &models.ActiveOSContainer{
		PodName:   spec.PodName,
		Namespace: namespace,
		UserID:    userID,
		OSType:    osType,
		Status:    models.LabStatusRunning,
		URL:       url,
		VNCURL:    vncURL,
		CreatedAt: time.Now(),
	}
	if err := s.store.UpsertOS(osRecord); err != nil {
		return nil, fmt.Errorf("persist os record: %w", err)
	}

	log.Printf("OS container started: user=%s type=%s pod=%s", userID, osType, spec.PodName)
	return s.osInfo(osRecord), nil
}

func (s *LabService) deployOS(ctx context.Context, spec OSDeploySpec) (string, error) {
	if err := s.orch.DeployOSWorkload(ctx, spec); err != nil {
		return "", err
	}
	if err := s.orch.WaitReady(ctx, spec.Namespace, spec.PodName, labReadyTimeout); err != nil {
		return "", err
	}
	if err := s.orch.CreateOSExposure(ctx, spec); err != nil {
		return "", err
	}
	if err := s.orch.ApplyOSAllowRules(ctx, spec.Namespace, spec.OSType); err != nil {
		return "", err
	}
	baseURL, err := s.orch.CreateOSRoute(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := s.orch.WaitReady(ctx, spec.Namespace, spec.PodName, routeReadyTimeout); err != nil {
		return "", err
	}
	s.settle(ctx)
	return baseURL, nil
}

// StopOS 停止用户的 OS 容器。podName 为空时停止该用户的全部 OS 容器。
func (s *LabService) StopOS(ctx context.Context, userID, podName string) error {
	if podName == "" {
		records, err := s.store.OSByUser(userID)
		if err != nil {
			return fmt.Errorf("list os records: %w", err)
		}
		if len(records) == 0 {
			return ErrNotFound
		}
		return s.evictAllOS(ctx, userID, records[0].Namespace)
	}

	rec, err := s.store.GetOS(podName)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load os record: %w", err)
	}
	if rec.UserID != userID {
		return ErrNotFound
	}

	kind := OSKind(rec.OSType)
	if err := s.orch.DeleteWorkload(ctx, rec.Namespace, rec.PodName); err != nil {
		return err
	}
	if err := s.orch.DeleteExposuresByKind(ctx, rec.Namespace, kind); err != nil {
		return err
	}
	if err := s.orch.DeleteRoutesByKind(ctx, rec.Namespace, kind); err != nil {
		return err
	}
	if err := s.store.DeleteOS(rec.PodName); err != nil {
		return fmt.Errorf("delete os record: %w", err)
	}
	log.Printf("OS container stopped: user=%s pod=%s", userID, podName)
	return nil
}

// RestartOS 等价于"全量驱逐 + 重新启动"，返回新一代容器信息。
func (s *LabService) RestartOS(ctx context.Context, userID, osType string) (*OSInfo, error) {
	if osType != osTypeDebian {
		return nil, &ValidationError{Msg: "invalid os type: " + osType}
	}
	return s.StartOS(ctx, userID, osType)
}

// ActiveOS 返回用户当前的 OS 容器视图。
func (s *LabService) ActiveOS(userID string) ([]OSInfo, error) {
	records, err := s.store.OSByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list os records: %w", err)
	}
	infos := make([]OSInfo, 0, len(records))
	for i := range records {
		infos = append(infos, *s.osInfo(&records[i]))
	}
	return infos, nil
}

func (s *LabService) osInfo(rec *models.ActiveOSContainer) *OSInfo {
	timeout := time.Duration(s.settings.OSTimeoutMinutes()) * time.Minute
	return &OSInfo{
		PodName:   rec.PodName,
		Namespace: rec.Namespace,
		OSType:    rec.OSType,
		URL:       rec.URL,
		VNCURL:    rec.VNCURL,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.CreatedAt.Add(timeout),
	}
}
