// file: services/orchestrator.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound 表示 Record Store 中不存在对应记录（区别于编排层的 404）。
var ErrNotFound = errors.New("record not found")

// ValidationError 参数校验失败，尚未触达编排层。
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// OrchestratorError 包装来自集群控制面的失败。
// Transient=true 表示就绪/删除等待超时这类可重试情况，
// 否则视为终态失败（镜像缺失、Pod 进入 Failed 等）。
type OrchestratorError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OrchestratorError) Unwrap() error {
	return e.Err
}

func transientErr(op string, err error) error {
	return &OrchestratorError{Op: op, Transient: true, Err: err}
}

func permanentErr(op string, err error) error {
	return &OrchestratorError{Op: op, Transient: false, Err: err}
}

// ExecError 表示无法在容器内读取权威 flag。
// 调用方必须把它当作硬失败，绝不能静默按"答案错误"处理。
type ExecError struct {
	Err error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("exec in pod failed: %v", e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Kind 描述一类工作负载的标签选择，用于按类清理 Service/Ingress/Deployment。
// 实验类按 lab-type 标签匹配，OS 容器按 component / os-type 标签匹配。
type Kind struct {
	Label string
	Value string
}

func LabKind(labType string) Kind {
	return Kind{Label: LabelLabType, Value: labType}
}

// OSComponentKind 匹配用户的全部 OS 容器（不区分 os_type），
// 用于"同一时刻只允许一个桌面"的全量驱逐。
func OSComponentKind() Kind {
	return Kind{Label: LabelComponent, Value: ComponentOSContainer}
}

func OSKind(osType string) Kind {
	return Kind{Label: LabelOSType, Value: osType}
}

// LabDeploySpec / OSDeploySpec 携带一次部署所需的全部命名信息，
// 由生命周期管理层生成，适配层不做任何命名决策。
type LabDeploySpec struct {
	UserID      string
	LabType     string
	Namespace   string
	PodName     string
	ServiceName string
	UserSlug    string
}

type OSDeploySpec struct {
	UserID      string
	OSType      string
	Namespace   string
	PodName     string
	ServiceName string
	UserSlug    string
}

// Orchestrator 是生命周期管理层对集群控制面的全部依赖。
// 单一具体实现为 KubernetesService；如需第二后端，应实现本接口
// 而不是另开一条并行代码路径。
type Orchestrator interface {
	// EnsureNamespace 幂等创建用户隔离命名空间（"已存在"视为成功），
	// 并附带默认 deny-all 网络策略。
	EnsureNamespace(ctx context.Context, userID string) (string, error)
	ApplyIsolationPolicy(ctx context.Context, namespace, userID string) error
	ApplyLabAllowRules(ctx context.Context, namespace, labType string) error
	ApplyOSAllowRules(ctx context.Context, namespace, osType string) error

	// ListWorkloadsByKind 返回命名空间内匹配 kind 的 Deployment 名称。
	ListWorkloadsByKind(ctx context.Context, namespace string, kind Kind) ([]string, error)
	DeployLabWorkload(ctx context.Context, spec LabDeploySpec) error
	DeployOSWorkload(ctx context.Context, spec OSDeploySpec) error
	CreateLabExposure(ctx context.Context, spec LabDeploySpec) error
	CreateOSExposure(ctx context.Context, spec OSDeploySpec) error
	CreateLabRoute(ctx context.Context, spec LabDeploySpec) (string, error)
	CreateOSRoute(ctx context.Context, spec OSDeploySpec) (string, error)

	// WaitReady 每 2 秒轮询一次，直到 Pod Running 且所有容器 Ready；
	// Failed/Unknown 立即终止，"尚未出现"继续等待。
	WaitReady(ctx context.Context, namespace, podName string, timeout time.Duration) error
	// WaitRoutesDeleted 轮询直到该 kind 的 Ingress 全部消失
	//（命名空间不存在同样视为已删除），防止新旧两代路由并存。
	WaitRoutesDeleted(ctx context.Context, namespace string, kind Kind, timeout time.Duration) error

	// 删除操作把 404 一律当成功（幂等删除）。
	DeleteWorkload(ctx context.Context, namespace, podName string) error
	DeleteExposuresByKind(ctx context.Context, namespace string, kind Kind) error
	DeleteRoutesByKind(ctx context.Context, namespace string, kind Kind) error

	ExecInPod(ctx context.Context, namespace, podName string, command []string) (string, error)
	// WorkloadRunning 供 Reconciler 查询存活状态；Pod 不存在返回 (false, nil)。
	WorkloadRunning(ctx context.Context, namespace, podName string) (bool, error)

	// SettleDelay 是路由传播的固定等待，仅补偿外部系统的最终一致性，
	// 不承担正确性职责；测试中可配置为 0。
	SettleDelay() time.Duration
}
