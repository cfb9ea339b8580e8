// file: services/k8s_service_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func testConfig() K8sConfig {
	return K8sConfig{
		NamespacePrefix:        "letushack",
		IngressDomain:          "lab.example.com",
		IngressPort:            "443",
		Production:             true,
		NetworkPolicyEnabled:   true,
		HostURL:                "https://lab.example.com",
		RoutePropagationSettle: 0,
		ReadyPollInterval:      time.Millisecond,
		DeletePollInterval:     time.Millisecond,
	}
}

func TestEnsureNamespaceIsIdempotent(t *testing.T) {
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: testConfig()}
	ctx := context.Background()

	ns1, err := svc.EnsureNamespace(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "letushack-alice-example-com", ns1)

	// 第二次创建撞 409，一样成功
	ns2, err := svc.EnsureNamespace(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, ns1, ns2)

	policies, err := svc.clientset.NetworkingV1().NetworkPolicies(ns1).List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, policies.Items, 1)
	assert.Equal(t, "default-deny-all", policies.Items[0].Name)
}

func TestApplyLabAllowRulesSkippedWithoutNetworkPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.NetworkPolicyEnabled = false
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: cfg}
	ctx := context.Background()

	require.NoError(t, svc.ApplyLabAllowRules(ctx, "letushack-alice", "xss"))

	policies, err := svc.clientset.NetworkingV1().NetworkPolicies("letushack-alice").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, policies.Items)
}

func readyPod(namespace, name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
			ContainerStatuses: []corev1.ContainerStatus{{Ready: true}},
		},
	}
}

func TestWaitReadySucceedsOnPrefixMatch(t *testing.T) {
	// Deployment 名是前缀，实际 Pod 名带 ReplicaSet 后缀
	clientset := fake.NewSimpleClientset(readyPod("ns", "xss-alice-1700-6b7f9-x2k4j"))
	svc := &KubernetesService{clientset: clientset, cfg: testConfig()}

	err := svc.WaitReady(context.Background(), "ns", "xss-alice-1700", 100*time.Millisecond)
	assert.NoError(t, err)
}

func TestWaitReadyFailsOnTerminalPhase(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "xss-alice-1700-abc", Namespace: "ns"},
		Status:     corev1.PodStatus{Phase: corev1.PodFailed},
	}
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(pod), cfg: testConfig()}

	err := svc.WaitReady(context.Background(), "ns", "xss-alice-1700", time.Second)

	var oe *OrchestratorError
	require.ErrorAs(t, err, &oe)
	assert.False(t, oe.Transient)
}

func TestWaitReadyTimesOutWhenPodAbsent(t *testing.T) {
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: testConfig()}

	err := svc.WaitReady(context.Background(), "ns", "xss-alice-1700", 10*time.Millisecond)

	var oe *OrchestratorError
	require.ErrorAs(t, err, &oe)
	assert.True(t, oe.Transient)
}

func TestWaitReadyIgnoresNotReadyContainers(t *testing.T) {
	pod := readyPod("ns", "xss-alice-1700-abc")
	pod.Status.ContainerStatuses = []corev1.ContainerStatus{{Ready: false}}
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(pod), cfg: testConfig()}

	err := svc.WaitReady(context.Background(), "ns", "xss-alice-1700", 10*time.Millisecond)

	var oe *OrchestratorError
	require.ErrorAs(t, err, &oe)
	assert.True(t, oe.Transient)
}

func labIngress(namespace, name, labType string) *networkingv1.Ingress {
	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{LabelLabType: labType},
		},
	}
}

func TestWaitRoutesDeletedReturnsWhenNoneLeft(t *testing.T) {
	clientset := fake.NewSimpleClientset(labIngress("ns", "csrf-ingress-1", "csrf"))
	svc := &KubernetesService{clientset: clientset, cfg: testConfig()}

	// 只剩别的 kind 的 Ingress，xss 的等待立即返回
	err := svc.WaitRoutesDeleted(context.Background(), "ns", LabKind("xss"), 100*time.Millisecond)
	assert.NoError(t, err)
}

func TestWaitRoutesDeletedTimesOutWhileIngressPresent(t *testing.T) {
	clientset := fake.NewSimpleClientset(labIngress("ns", "xss-ingress-1", "xss"))
	svc := &KubernetesService{clientset: clientset, cfg: testConfig()}

	err := svc.WaitRoutesDeleted(context.Background(), "ns", LabKind("xss"), 10*time.Millisecond)

	var oe *OrchestratorError
	require.ErrorAs(t, err, &oe)
	assert.True(t, oe.Transient)
}

func TestDeleteWorkloadSwallowsNotFound(t *testing.T) {
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: testConfig()}

	assert.NoError(t, svc.DeleteWorkload(context.Background(), "ns", "gone"))
}

func TestDeleteRoutesByKindDeletesAllMatching(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		labIngress("ns", "xss-ingress-1", "xss"),
		labIngress("ns", "xss-ingress-2", "xss"),
		labIngress("ns", "csrf-ingress-1", "csrf"),
	)
	svc := &KubernetesService{clientset: clientset, cfg: testConfig()}
	ctx := context.Background()

	require.NoError(t, svc.DeleteRoutesByKind(ctx, "ns", LabKind("xss")))

	remaining, err := clientset.NetworkingV1().Ingresses("ns").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	require.Len(t, remaining.Items, 1)
	assert.Equal(t, "csrf-ingress-1", remaining.Items[0].Name)
}

func TestListWorkloadsByKind(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{
			Name: "xss-alice-1", Namespace: "ns",
			Labels: map[string]string{LabelLabType: "xss"},
		}},
		&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{
			Name: "os-debian-1", Namespace: "ns",
			Labels: map[string]string{LabelComponent: ComponentOSContainer},
		}},
	)
	svc := &KubernetesService{clientset: clientset, cfg: testConfig()}

	names, err := svc.ListWorkloadsByKind(context.Background(), "ns", LabKind("xss"))
	require.NoError(t, err)
	assert.Equal(t, []string{"xss-alice-1"}, names)

	names, err = svc.ListWorkloadsByKind(context.Background(), "ns", OSComponentKind())
	require.NoError(t, err)
	assert.Equal(t, []string{"os-debian-1"}, names)
}

func TestCreateLabRouteBuildsExternalURL(t *testing.T) {
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: testConfig()}

	url, err := svc.CreateLabRoute(context.Background(), LabDeploySpec{
		UserID: "alice", LabType: "xss", Namespace: "ns",
		PodName: "xss-alice-1", ServiceName: "xss-svc-1", UserSlug: "alice",
	})
	require.NoError(t, err)
	// https + 443 不带端口后缀
	assert.Equal(t, "https://lab.example.com/alice/xss/", url)
}

func TestCreateLabRouteDevPortSuffix(t *testing.T) {
	cfg := testConfig()
	cfg.Production = false
	cfg.IngressDomain = ""
	cfg.IngressPort = "8100"
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: cfg}

	url, err := svc.CreateLabRoute(context.Background(), LabDeploySpec{
		UserID: "alice", LabType: "nmap", Namespace: "ns",
		PodName: "nmap-alice-1", ServiceName: "nmap-svc-1", UserSlug: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8100/alice/nmap/", url)
}

func TestCreateLabRouteRejectsLocalhostInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.IngressDomain = "localhost"
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: cfg}

	_, err := svc.CreateLabRoute(context.Background(), LabDeploySpec{
		UserID: "alice", LabType: "xss", Namespace: "ns",
		PodName: "xss-alice-1", ServiceName: "xss-svc-1", UserSlug: "alice",
	})
	require.Error(t, err)

	cfg.IngressDomain = ""
	svc = &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: cfg}
	_, err = svc.CreateLabRoute(context.Background(), LabDeploySpec{
		UserID: "alice", LabType: "xss", Namespace: "ns",
		PodName: "xss-alice-1", ServiceName: "xss-svc-1", UserSlug: "alice",
	})
	require.Error(t, err)
}

func TestCreateOSRouteURL(t *testing.T) {
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: testConfig()}

	url, err := svc.CreateOSRoute(context.Background(), OSDeploySpec{
		UserID: "alice", OSType: "debian", Namespace: "ns",
		PodName: "os-debian-1", ServiceName: "os-debian-1-service", UserSlug: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://lab.example.com/alice/os/debian/", url)
}

func TestWorkloadRunning(t *testing.T) {
	clientset := fake.NewSimpleClientset(readyPod("ns", "xss-alice-1700-abc"))
	svc := &KubernetesService{clientset: clientset, cfg: testConfig()}
	ctx := context.Background()

	running, err := svc.WorkloadRunning(ctx, "ns", "xss-alice-1700")
	require.NoError(t, err)
	assert.True(t, running)

	running, err = svc.WorkloadRunning(ctx, "ns", "csrf-alice-1700")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestExecInPodRequiresRestConfig(t *testing.T) {
	svc := &KubernetesService{clientset: fake.NewSimpleClientset(), cfg: testConfig()}

	_, err := svc.ExecInPod(context.Background(), "ns", "pod", []string{"cat", "/flag"})

	var ee *ExecError
	require.ErrorAs(t, err, &ee)
}
