// file: services/reconciler_service.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/models"
)

// ReconcilerStore 是对账需要的记录读写口，*database.Store 满足该接口。
type ReconcilerStore interface {
	LabsByUser(userID string) ([]models.ActiveLab, error)
	AllLabs() ([]models.ActiveLab, error)
	DeleteLab(podName string) error

	OSByUser(userID string) ([]models.ActiveOSContainer, error)
	AllOS() ([]models.ActiveOSContainer, error)
	DeleteOS(podName string) error
}

// Reconciler 把记录表对齐到集群真实状态：Pod 已不在跑的记录被删除。
// 只收敛"记录有、集群无"这个方向；孤儿工作负载由启动时的同类驱逐兜底。
// 单条失败只记日志不中断，留到下一轮再收敛。
type Reconciler struct {
	orch  Orchestrator
	store ReconcilerStore
}

func NewReconciler(orch Orchestrator, store ReconcilerStore) *Reconciler {
	return &Reconciler{orch: orch, store: store}
}

func (r *Reconciler) pruneLabs(ctx context.Context, labs []models.ActiveLab) int {
	pruned := 0
	for _, lab := range labs {
		running, err := r.orch.WorkloadRunning(ctx, lab.Namespace, lab.PodName)
		if err != nil {
			log.Printf("Reconciler: check lab %s failed: %v", lab.PodName, err)
			continue
		}
		if running {
			continue
		}
		if err := r.store.DeleteLab(lab.PodName); err != nil {
			log.Printf("Reconciler: delete stale lab record %s failed: %v", lab.PodName, err)
			continue
		}
		log.Printf("Reconciler: pruned stale lab record %s", lab.PodName)
		pruned++
	}
	return pruned
}

func (r *Reconciler) pruneOS(ctx context.Context, records []models.ActiveOSContainer) int {
	pruned := 0
	for _, rec := range records {
		running, err := r.orch.WorkloadRunning(ctx, rec.Namespace, rec.PodName)
		if err != nil {
			log.Printf("Reconciler: check os %s failed: %v", rec.PodName, err)
			continue
		}
		if running {
			continue
		}
		if err := r.store.DeleteOS(rec.PodName); err != nil {
			log.Printf("Reconciler: delete stale os record %s failed: %v", rec.PodName, err)
			continue
		}
		log.Printf("Reconciler: pruned stale os record %s", rec.PodName)
		pruned++
	}
	return pruned
}

// PruneUserLabs 在用户查询活跃实验前调用，保证返回的记录都对应真实 Pod。
func (r *Reconciler) PruneUserLabs(ctx context.Context, userID string) {
	labs, err := r.store.LabsByUser(userID)
	if err != nil {
		log.Printf("Reconciler: list labs for %s failed: %v", userID, err)
		return
	}
	r.pruneLabs(ctx, labs)
}

func (r *Reconciler) PruneUserOS(ctx context.Context, userID string) {
	records, err := r.store.OSByUser(userID)
	if err != nil {
		log.Printf("Reconciler: list os containers for %s failed: %v", userID, err)
		return
	}
	r.pruneOS(ctx, records)
}

// PruneAll 由后台定时器周期调用，全表对账。
func (r *Reconciler) PruneAll(ctx context.Context) {
	labs, err := r.store.AllLabs()
	if err != nil {
		log.Printf("Reconciler: list all labs failed: %v", err)
	} else if n := r.pruneLabs(ctx, labs); n > 0 {
		log.Printf("Reconciler: pruned %d stale lab record(s)", n)
	}

	records, err := r.store.AllOS()
	if err != nil {
		log.Printf("Reconciler: list all os containers failed: %v", err)
	} else if n := r.pruneOS(ctx, records); n > 0 {
		log.Printf("Reconciler: pruned %d stale os record(s)", n)
	}
}

// Run 启动后台对账循环，ctx 取消后退出。
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.PruneAll(ctx)
			}
		}
	}()
}
