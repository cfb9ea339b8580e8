// file: services/lab_service_test.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/database"
	"github.com/Abhinav21110/LetUsHack-MicroK8s/models"
)

// fakeOrchestrator 记录调用顺序，用于验证驱逐与部署的先后关系。
type fakeOrchestrator struct {
	mu        sync.Mutex
	calls     []string
	workloads map[string][]string // kind value -> deployment names
	failOn    string
	execOut   string
	execErr   error
	running   map[string]bool
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		workloads: map[string][]string{},
		running:   map[string]bool{},
	}
}

func (f *fakeOrchestrator) record(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.failOn != "" && call == f.failOn {
		return permanentErr(call, errors.New("injected failure"))
	}
	return nil
}

func (f *fakeOrchestrator) EnsureNamespace(_ context.Context, userID string) (string, error) {
	if err := f.record("EnsureNamespace"); err != nil {
		return "", err
	}
	return "letushack-" + userID, nil
}

func (f *fakeOrchestrator) ApplyIsolationPolicy(_ context.Context, _, _ string) error {
	return f.record("ApplyIsolationPolicy")
}

func (f *fakeOrchestrator) ApplyLabAllowRules(_ context.Context, _, _ string) error {
	return f.record("ApplyLabAllowRules")
}

func (f *fakeOrchestrator) ApplyOSAllowRules(_ context.Context, _, _ string) error {
	return f.record("ApplyOSAllowRules")
}

func (f *fakeOrchestrator) ListWorkloadsByKind(_ context.Context, _ string, kind Kind) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "ListWorkloadsByKind:"+kind.Value)
	f.mu.Unlock()
	return f.workloads[kind.Value], nil
}

func (f *fakeOrchestrator) DeployLabWorkload(_ context.Context, spec LabDeploySpec) error {
	return f.record("DeployLabWorkload:" + spec.LabType)
}

func (f *fakeOrchestrator) DeployOSWorkload(_ context.Context, spec OSDeploySpec) error {
	return f.record("DeployOSWorkload:" + spec.OSType)
}

func (f *fakeOrchestrator) CreateLabExposure(_ context.Context, _ LabDeploySpec) error {
	return f.record("CreateLabExposure")
}

func (f *fakeOrchestrator) CreateOSExposure(_ context.Context, _ OSDeploySpec) error {
	return f.record("CreateOSExposure")
}

func (f *fakeOrchestrator) CreateLabRoute(_ context.Context, spec LabDeploySpec) (string, error) {
	if err := f.record("CreateLabRoute"); err != nil {
		return "", err
	}
	return fmt.Sprintf("http://localhost:8100/%s/%s/", spec.UserSlug, spec.LabType), nil
}

func (f *fakeOrchestrator) CreateOSRoute(_ context.Context, spec OSDeploySpec) (string, error) {
	if err := f.record("CreateOSRoute"); err != nil {
		return "", err
	}
	return fmt.Sprintf("http://localhost:8100/%s/os/%s/", spec.UserSlug, spec.OSType), nil
}

func (f *fakeOrchestrator) WaitReady(_ context.Context, _, podName string, _ time.Duration) error {
	return f.record("WaitReady:" + podName)
}

func (f *fakeOrchestrator) WaitRoutesDeleted(_ context.Context, _ string, kind Kind, _ time.Duration) error {
	return f.record("WaitRoutesDeleted:" + kind.Value)
}

func (f *fakeOrchestrator) DeleteWorkload(_ context.Context, _, podName string) error {
	return f.record("DeleteWorkload:" + podName)
}

func (f *fakeOrchestrator) DeleteExposuresByKind(_ context.Context, _ string, kind Kind) error {
	return f.record("DeleteExposuresByKind:" + kind.Value)
}

func (f *fakeOrchestrator) DeleteRoutesByKind(_ context.Context, _ string, kind Kind) error {
	return f.record("DeleteRoutesByKind:" + kind.Value)
}

func (f *fakeOrchestrator) ExecInPod(_ context.Context, _, _ string, _ []string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "ExecInPod")
	f.mu.Unlock()
	if f.execErr != nil {
		return "", f.execErr
	}
	return f.execOut, nil
}

func (f *fakeOrchestrator) WorkloadRunning(_ context.Context, _, podName string) (bool, error) {
	return f.running[podName], nil
}

func (f *fakeOrchestrator) SettleDelay() time.Duration { return 0 }

// memStore 内存版记录表，同时满足 LabStore 和 ReconcilerStore。
type memStore struct {
	labs map[string]models.ActiveLab
	os   map[string]models.ActiveOSContainer
}

func newMemStore() *memStore {
	return &memStore{
		labs: map[string]models.ActiveLab{},
		os:   map[string]models.ActiveOSContainer{},
	}
}

func (m *memStore) UpsertLab(lab *models.ActiveLab) error {
	m.labs[lab.PodName] = *lab
	return nil
}

func (m *memStore) GetLab(podName string) (*models.ActiveLab, error) {
	lab, ok := m.labs[podName]
	if !ok {
		return nil, database.ErrRecordNotFound
	}
	return &lab, nil
}

func (m *memStore) DeleteLab(podName string) error {
	delete(m.labs, podName)
	return nil
}

func (m *memStore) LabsByUser(userID string) ([]models.ActiveLab, error) {
	var out []models.ActiveLab
	for _, lab := range m.labs {
		if lab.UserID == userID {
			out = append(out, lab)
		}
	}
	return out, nil
}

func (m *memStore) LabsByUserAndType(userID, labType string) ([]models.ActiveLab, error) {
	var out []models.ActiveLab
	for _, lab := range m.labs {
		if lab.UserID == userID && lab.LabType == labType {
			out = append(out, lab)
		}
	}
	return out, nil
}

func (m *memStore) AllLabs() ([]models.ActiveLab, error) {
	var out []models.ActiveLab
	for _, lab := range m.labs {
		out = append(out, lab)
	}
	return out, nil
}

func (m *memStore) UpsertOS(c *models.ActiveOSContainer) error {
	m.os[c.PodName] = *c
	return nil
}

func (m *memStore) GetOS(podName string) (*models.ActiveOSContainer, error) {
	c, ok := m.os[podName]
	if !ok {
		return nil, database.ErrRecordNotFound
	}
	return &c, nil
}

func (m *memStore) DeleteOS(podName string) error {
	delete(m.os, podName)
	return nil
}

func (m *memStore) OSByUser(userID string) ([]models.ActiveOSContainer, error) {
	var out []models.ActiveOSContainer
	for _, c := range m.os {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) AllOS() ([]models.ActiveOSContainer, error) {
	var out []models.ActiveOSContainer
	for _, c := range m.os {
		out = append(out, c)
	}
	return out, nil
}

type memSettings map[string]string

func (m memSettings) GetSetting(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func (m memSettings) SetSetting(key, value string) error {
	m[key] = value
	return nil
}

func newTestLabService(orch Orchestrator, store LabStore) *LabService {
	return NewLabService(orch, store, NewSettingsService(memSettings{}))
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func TestStartLabRejectsUnknownType(t *testing.T) {
	svc := newTestLabService(newFakeOrchestrator(), newMemStore())

	_, err := svc.StartLab(context.Background(), "alice", "sqli")

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStartLabPersistsSingleRecord(t *testing.T) {
	orch := newFakeOrchestrator()
	store := newMemStore()
	svc := newTestLabService(orch, store)

	info, err := svc.StartLab(context.Background(), "alice", "xss")
	require.NoError(t, err)

	assert.Equal(t, "xss", info.LabType)
	assert.Equal(t, "letushack-alice", info.Namespace)
	assert.Contains(t, info.URL, "/alice/xss/")
	assert.True(t, info.ExpiresAt.After(info.CreatedAt))

	labs, _ := store.LabsByUser("alice")
	require.Len(t, labs, 1)
	assert.Equal(t, models.LabStatusRunning, labs[0].Status)
}

func TestStartLabEvictsSameKindBeforeDeploy(t *testing.T) {
	orch := newFakeOrchestrator()
	store := newMemStore()
	require.NoError(t, store.UpsertLab(&models.ActiveLab{
		PodName:   "xss-alice-1",
		Namespace: "letushack-alice",
		UserID:    "alice",
		LabType:   "xss",
		Status:    models.LabStatusRunning,
	}))
	svc := newTestLabService(orch, store)

	_, err := svc.StartLab(context.Background(), "alice", "xss")
	require.NoError(t, err)

	// 旧实例必须先删干净、等路由消失，才能部署新实例
	del := indexOf(orch.calls, "DeleteWorkload:xss-alice-1")
	wait := indexOf(orch.calls, "WaitRoutesDeleted:xss")
	deploy := indexOf(orch.calls, "DeployLabWorkload:xss")
	require.GreaterOrEqual(t, del, 0)
	require.GreaterOrEqual(t, wait, 0)
	require.GreaterOrEqual(t, deploy, 0)
	assert.Less(t, del, wait)
	assert.Less(t, wait, deploy)

	// 同类最多一个活跃实例
	labs, _ := store.LabsByUserAndType("alice", "xss")
	require.Len(t, labs, 1)
	assert.NotEqual(t, "xss-alice-1", labs[0].PodName)
}

func TestStartLabEvictsOrphanWorkloads(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.workloads["xss"] = []string{"xss-alice-orphan"}
	store := newMemStore()
	svc := newTestLabService(orch, store)

	_, err := svc.StartLab(context.Background(), "alice", "xss")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, indexOf(orch.calls, "DeleteWorkload:xss-alice-orphan"), 0)
}

func TestStartLabKeepsOtherKindRunning(t *testing.T) {
	orch := newFakeOrchestrator()
	store := newMemStore()
	require.NoError(t, store.UpsertLab(&models.ActiveLab{
		PodName: "csrf-alice-1", Namespace: "letushack-alice",
		UserID: "alice", LabType: "csrf", Status: models.LabStatusRunning,
	}))
	svc := newTestLabService(orch, store)

	_, err := svc.StartLab(context.Background(), "alice", "xss")
	require.NoError(t, err)

	// 启动 xss 不影响 csrf
	assert.Equal(t, -1, indexOf(orch.calls, "DeleteWorkload:csrf-alice-1"))
	labs, _ := store.LabsByUser("alice")
	assert.Len(t, labs, 2)
}

func TestStartLabDoesNotPersistOnFailure(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.failOn = "CreateLabRoute"
	store := newMemStore()
	svc := newTestLabService(orch, store)

	_, err := svc.StartLab(context.Background(), "alice", "xss")
	require.Error(t, err)

	labs, _ := store.LabsByUser("alice")
	assert.Empty(t, labs)
}

func TestStopLabNotFound(t *testing.T) {
	svc := newTestLabService(newFakeOrchestrator(), newMemStore())

	err := svc.StopLab(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStopLabRejectsForeignPod(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.UpsertLab(&models.ActiveLab{
		PodName: "xss-bob-1", Namespace: "letushack-bob",
		UserID: "bob", LabType: "xss",
	}))
	svc := newTestLabService(newFakeOrchestrator(), store)

	err := svc.StopLab(context.Background(), "alice", "xss-bob-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// 记录不能被别人删掉
	_, err = store.GetLab("xss-bob-1")
	assert.NoError(t, err)
}

func TestStopLabDeletesRecordAndWorkload(t *testing.T) {
	orch := newFakeOrchestrator()
	store := newMemStore()
	require.NoError(t, store.UpsertLab(&models.ActiveLab{
		PodName: "xss-alice-1", Namespace: "letushack-alice",
		UserID: "alice", LabType: "xss",
	}))
	svc := newTestLabService(orch, store)

	require.NoError(t, svc.StopLab(context.Background(), "alice", "xss-alice-1"))

	assert.GreaterOrEqual(t, indexOf(orch.calls, "DeleteWorkload:xss-alice-1"), 0)
	assert.GreaterOrEqual(t, indexOf(orch.calls, "DeleteRoutesByKind:xss"), 0)
	_, err := store.GetLab("xss-alice-1")
	assert.ErrorIs(t, err, database.ErrRecordNotFound)
}

func TestStopLabRepeatedStopIsIdempotent(t *testing.T) {
	orch := newFakeOrchestrator()
	store := newMemStore()
	require.NoError(t, store.UpsertLab(&models.ActiveLab{
		PodName: "xss-alice-1", Namespace: "letushack-alice",
		UserID: "alice", LabType: "xss",
	}))
	svc := newTestLabService(orch, store)
	ctx := context.Background()

	require.NoError(t, svc.StopLab(ctx, "alice", "xss-alice-1"))
	// 第二次停止：记录已删，干净地报不存在，而不是半路失败
	assert.ErrorIs(t, svc.StopLab(ctx, "alice", "xss-alice-1"), ErrNotFound)

	deletes := 0
	for _, call := range orch.calls {
		if call == "DeleteWorkload:xss-alice-1" {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes)
}

// lockedStore 给 memStore 加锁，供并发停止场景使用。
type lockedStore struct {
	mu sync.Mutex
	*memStore
}

func (l *lockedStore) GetLab(podName string) (*models.ActiveLab, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memStore.GetLab(podName)
}

func (l *lockedStore) DeleteLab(podName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memStore.DeleteLab(podName)
}

func TestStopLabConcurrentStopsResolveCleanly(t *testing.T) {
	orch := newFakeOrchestrator()
	store := &lockedStore{memStore: newMemStore()}
	require.NoError(t, store.memStore.UpsertLab(&models.ActiveLab{
		PodName: "xss-alice-1", Namespace: "letushack-alice",
		UserID: "alice", LabType: "xss",
	}))
	svc := newTestLabService(orch, store)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.StopLab(context.Background(), "alice", "xss-alice-1")
		}(i)
	}
	wg.Wait()

	// 每次调用要么成功，要么干净地报不存在，绝不返回别的错误
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrNotFound)
		}
	}
	_, err := store.GetLab("xss-alice-1")
	assert.ErrorIs(t, err, database.ErrRecordNotFound)
}

func TestStartOSEvictsAllExistingOS(t *testing.T) {
	orch := newFakeOrchestrator()
	store := newMemStore()
	require.NoError(t, store.UpsertOS(&models.ActiveOSContainer{
		PodName: "os-debian-1", Namespace: "letushack-alice",
		UserID: "alice", OSType: "debian",
	}))
	svc := newTestLabService(orch, store)

	info, err := svc.StartOS(context.Background(), "alice", "debian")
	require.NoError(t, err)

	del := indexOf(orch.calls, "DeleteWorkload:os-debian-1")
	wait := indexOf(orch.calls, "WaitRoutesDeleted:os-container")
	deploy := indexOf(orch.calls, "DeployOSWorkload:debian")
	require.GreaterOrEqual(t, del, 0)
	require.GreaterOrEqual(t, wait, 0)
	assert.Less(t, del, wait)
	assert.Less(t, wait, deploy)

	// 单桌面不变式：只剩新一代
	records, _ := store.OSByUser("alice")
	require.Len(t, records, 1)
	assert.Equal(t, info.PodName, records[0].PodName)
	assert.Contains(t, info.URL, "path=websockify")
	assert.Contains(t, info.VNCURL, "vnc.html?autoconnect=true&password=debian")
}

func TestStartOSRejectsUnknownType(t *testing.T) {
	svc := newTestLabService(newFakeOrchestrator(), newMemStore())

	_, err := svc.StartOS(context.Background(), "alice", "arch")

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestStopOSAllWhenPodNameEmpty(t *testing.T) {
	orch := newFakeOrchestrator()
	store := newMemStore()
	require.NoError(t, store.UpsertOS(&models.ActiveOSContainer{
		PodName: "os-debian-1", Namespace: "letushack-alice", UserID: "alice", OSType: "debian",
	}))
	require.NoError(t, store.UpsertOS(&models.ActiveOSContainer{
		PodName: "os-debian-2", Namespace: "letushack-alice", UserID: "alice", OSType: "debian",
	}))
	svc := newTestLabService(orch, store)

	require.NoError(t, svc.StopOS(context.Background(), "alice", ""))

	records, _ := store.OSByUser("alice")
	assert.Empty(t, records)
}

func TestStopOSNotFoundWhenNothingRunning(t *testing.T) {
	svc := newTestLabService(newFakeOrchestrator(), newMemStore())

	err := svc.StopOS(context.Background(), "alice", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestartOSReplacesContainer(t *testing.T) {
	orch := newFakeOrchestrator()
	store := newMemStore()
	require.NoError(t, store.UpsertOS(&models.ActiveOSContainer{
		PodName: "os-debian-1", Namespace: "letushack-alice", UserID: "alice", OSType: "debian",
	}))
	svc := newTestLabService(orch, store)

	info, err := svc.RestartOS(context.Background(), "alice", "debian")
	require.NoError(t, err)

	assert.NotEqual(t, "os-debian-1", info.PodName)
	records, _ := store.OSByUser("alice")
	require.Len(t, records, 1)
}
