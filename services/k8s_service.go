// file: services/k8s_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/utils"
)

// KubernetesService 是 Orchestrator 的唯一具体实现，包装集群控制 API。
// 进程启动时构造一次，通过构造函数注入到生命周期管理层和 Reconciler，
// 不使用包级单例。
type KubernetesService struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	cfg        K8sConfig
}

// NewKubernetesService 依次尝试集群内配置和默认 kubeconfig。
func NewKubernetesService(cfg K8sConfig) (*KubernetesService, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("load kubeconfig: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	log.Println("Kubernetes client initialized.")
	return &KubernetesService{clientset: clientset, restConfig: restCfg, cfg: cfg}, nil
}

func (s *KubernetesService) SettleDelay() time.Duration {
	return s.cfg.RoutePropagationSettle
}

// EnsureNamespace 幂等创建 {prefix}-{sanitizedUserId} 命名空间，
// 409 视为成功，随后立即下发 deny-all 基线策略。
func (s *KubernetesService) EnsureNamespace(ctx context.Context, userID string) (string, error) {
	namespace := fmt.Sprintf("%s-%s", s.cfg.NamespacePrefix, utils.SanitizeUserID(userID))

	_, err := s.clientset.CoreV1().Namespaces().Create(ctx, buildNamespace(namespace, userID), metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return "", permanentErr("create namespace "+namespace, err)
	}
	if err == nil {
		log.Printf("Created namespace: %s", namespace)
	}

	if err := s.ApplyIsolationPolicy(ctx, namespace, userID); err != nil {
		return "", err
	}
	return namespace, nil
}

func (s *KubernetesService) ApplyIsolationPolicy(ctx context.Context, namespace, userID string) error {
	_, err := s.clientset.NetworkingV1().NetworkPolicies(namespace).
		Create(ctx, buildDenyAllPolicy(namespace), metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return permanentErr("apply default-deny policy in "+namespace, err)
	}
	return nil
}

func (s *KubernetesService) applyPolicies(ctx context.Context, namespace string, policies []*networkingv1.NetworkPolicy) error {
	for _, policy := range policies {
		_, err := s.clientset.NetworkingV1().NetworkPolicies(namespace).
			Create(ctx, policy, metav1.CreateOptions{})
		if err != nil && !apierrors.IsAlreadyExists(err) {
			return permanentErr("apply network policy "+policy.Name, err)
		}
	}
	return nil
}

// 放行策略仅在启用了 Calico 等网络策略实现时下发，
// 否则 deny-all 本身也不会生效，下发只会造成噪音。
func (s *KubernetesService) ApplyLabAllowRules(ctx context.Context, namespace, labType string) error {
	if !s.cfg.NetworkPolicyEnabled {
		return nil
	}
	return s.applyPolicies(ctx, namespace, buildLabAllowPolicies(namespace, labType))
}

func (s *KubernetesService) ApplyOSAllowRules(ctx context.Context, namespace, osType string) error {
	if !s.cfg.NetworkPolicyEnabled {
		return nil
	}
	return s.applyPolicies(ctx, namespace, buildOSAllowPolicies(namespace, osType))
}

func (s *KubernetesService) ListWorkloadsByKind(ctx context.Context, namespace string, kind Kind) ([]string, error) {
	deployments, err := s.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: kind.Label + "=" + kind.Value,
	})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, transientErr("list deployments in "+namespace, err)
	}
	names := make([]string, 0, len(deployments.Items))
	for _, d := range deployments.Items {
		names = append(names, d.Name)
	}
	return names, nil
}

func (s *KubernetesService) DeployLabWorkload(ctx context.Context, spec LabDeploySpec) error {
	// 每次部署生成新的三档 flag，通过环境变量注入容器
	flags := map[string]string{
		"easy":   utils.GenerateFlag(),
		"medium": utils.GenerateFlag(),
		"hard":   utils.GenerateFlag(),
	}
	deployment := buildLabDeployment(spec, s.cfg.HostURL, flags)
	_, err := s.clientset.AppsV1().Deployments(spec.Namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if err != nil {
		return permanentErr("create lab deployment "+spec.PodName, err)
	}
	return nil
}

func (s *KubernetesService) DeployOSWorkload(ctx context.Context, spec OSDeploySpec) error {
	_, err := s.clientset.AppsV1().Deployments(spec.Namespace).Create(ctx, buildOSDeployment(spec), metav1.CreateOptions{})
	if err != nil {
		return permanentErr("create os deployment "+spec.PodName, err)
	}
	log.Printf("Created OS deployment: %s", spec.PodName)
	return nil
}

func (s *KubernetesService) CreateLabExposure(ctx context.Context, spec LabDeploySpec) error {
	_, err := s.clientset.CoreV1().Services(spec.Namespace).Create(ctx, buildLabService(spec), metav1.CreateOptions{})
	if err != nil {
		return permanentErr("create lab service "+spec.ServiceName, err)
	}
	return nil
}

func (s *KubernetesService) CreateOSExposure(ctx context.Context, spec OSDeploySpec) error {
	_, err := s.clientset.CoreV1().Services(spec.Namespace).Create(ctx, buildOSService(spec), metav1.CreateOptions{})
	if err != nil {
		return permanentErr("create os service "+spec.ServiceName, err)
	}
	return nil
}

// routeBaseDomain 校验对外域名配置：生产环境必须配置真实域名。
func (s *KubernetesService) routeBaseDomain() (string, error) {
	domain := strings.TrimSpace(s.cfg.IngressDomain)
	if domain == "" {
		if s.cfg.Production {
			return "", permanentErr("route domain", fmt.Errorf("K8S_INGRESS_DOMAIN must be set in production"))
		}
		log.Println("Warning: K8S_INGRESS_DOMAIN not set, using localhost (DEV ONLY)")
		return "localhost", nil
	}
	if s.cfg.Production && (domain == "localhost" || strings.Contains(domain, "127.0.0.1")) {
		return "", permanentErr("route domain", fmt.Errorf("K8S_INGRESS_DOMAIN cannot be localhost in production"))
	}
	return domain, nil
}

func (s *KubernetesService) externalURL(domain, path string) string {
	protocol := "http"
	if s.cfg.Production {
		protocol = "https"
	}
	portSuffix := ":" + s.cfg.IngressPort
	if (protocol == "https" && s.cfg.IngressPort == "443") ||
		(protocol == "http" && s.cfg.IngressPort == "80") {
		portSuffix = ""
	}
	return fmt.Sprintf("%s://%s%s%s", protocol, domain, portSuffix, path)
}

func (s *KubernetesService) CreateLabRoute(ctx context.Context, spec LabDeploySpec) (string, error) {
	domain, err := s.routeBaseDomain()
	if err != nil {
		return "", err
	}
	_, err = s.clientset.NetworkingV1().Ingresses(spec.Namespace).
		Create(ctx, buildLabIngress(spec, domain, s.cfg.Production), metav1.CreateOptions{})
	if err != nil {
		return "", permanentErr("create lab ingress for "+spec.PodName, err)
	}
	return s.externalURL(domain, fmt.Sprintf("/%s/%s/", spec.UserSlug, spec.LabType)), nil
}

func (s *KubernetesService) CreateOSRoute(ctx context.Context, spec OSDeploySpec) (string, error) {
	domain, err := s.routeBaseDomain()
	if err != nil {
		return "", err
	}
	_, err = s.clientset.NetworkingV1().Ingresses(spec.Namespace).
		Create(ctx, buildOSIngress(spec, domain), metav1.CreateOptions{})
	if err != nil {
		return "", permanentErr("create os ingress for "+spec.PodName, err)
	}
	return s.externalURL(domain, fmt.Sprintf("/%s/os/%s/", spec.UserSlug, spec.OSType)), nil
}

// WaitReady 轮询 Pod（按 Deployment 名称前缀匹配），直到
// phase=Running 且 Ready 条件为 True 且所有容器就绪。
// Failed/Unknown 视为终态立即失败；Pod 尚未出现继续轮询。
func (s *KubernetesService) WaitReady(ctx context.Context, namespace, podName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pods, err := s.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return transientErr("list pods in "+namespace, err)
		}

		var pod *corev1.Pod
		if err == nil {
			for i := range pods.Items {
				if strings.HasPrefix(pods.Items[i].Name, podName) {
					pod = &pods.Items[i]
					break
				}
			}
		}

		if pod != nil {
			switch pod.Status.Phase {
			case corev1.PodFailed, corev1.PodUnknown:
				return permanentErr("wait for pod "+podName,
					fmt.Errorf("pod %s is in %s state", pod.Name, pod.Status.Phase))
			case corev1.PodRunning:
				if podReady(pod) {
					return nil
				}
			}
		}

		if time.Now().After(deadline) {
			return transientErr("wait for pod "+podName,
				fmt.Errorf("pod did not become ready within %s", timeout))
		}
		select {
		case <-ctx.Done():
			return transientErr("wait for pod "+podName, ctx.Err())
		case <-time.After(s.cfg.ReadyPollInterval):
		}
	}
}

func podReady(pod *corev1.Pod) bool {
	ready := false
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			ready = true
			break
		}
	}
	if !ready || len(pod.Status.ContainerStatuses) == 0 {
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}

// WaitRoutesDeleted 轮询直到该 kind 的 Ingress 全部消失，
// 避免新旧两代路由规则短暂并存、间歇性打到旧 Pod。
func (s *KubernetesService) WaitRoutesDeleted(ctx context.Context, namespace string, kind Kind, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ingresses, err := s.clientset.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{
			LabelSelector: kind.Label + "=" + kind.Value,
		})
		if apierrors.IsNotFound(err) {
			// 命名空间已不存在，路由必然已删除
			return nil
		}
		if err != nil {
			return transientErr("list ingresses in "+namespace, err)
		}
		if len(ingresses.Items) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return transientErr("wait for ingress deletion",
				fmt.Errorf("%d %s ingress(es) still present after %s", len(ingresses.Items), kind.Value, timeout))
		}
		select {
		case <-ctx.Done():
			return transientErr("wait for ingress deletion", ctx.Err())
		case <-time.After(s.cfg.DeletePollInterval):
		}
	}
}

func (s *KubernetesService) DeleteWorkload(ctx context.Context, namespace, podName string) error {
	err := s.clientset.AppsV1().Deployments(namespace).Delete(ctx, podName, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return transientErr("delete deployment "+podName, err)
	}
	return nil
}

// DeleteExposuresByKind 删除命名空间内全部同类 Service，而不是按名精确删除：
// 上一次删除失败可能留下多代对象。404 视为成功。
func (s *KubernetesService) DeleteExposuresByKind(ctx context.Context, namespace string, kind Kind) error {
	services, err := s.clientset.CoreV1().Services(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: kind.Label + "=" + kind.Value,
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return transientErr("list services in "+namespace, err)
	}
	for _, svc := range services.Items {
		err := s.clientset.CoreV1().Services(namespace).Delete(ctx, svc.Name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return transientErr("delete service "+svc.Name, err)
		}
	}
	return nil
}

func (s *KubernetesService) DeleteRoutesByKind(ctx context.Context, namespace string, kind Kind) error {
	ingresses, err := s.clientset.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: kind.Label + "=" + kind.Value,
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return transientErr("list ingresses in "+namespace, err)
	}
	for _, ing := range ingresses.Items {
		err := s.clientset.NetworkingV1().Ingresses(namespace).Delete(ctx, ing.Name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return transientErr("delete ingress "+ing.Name, err)
		}
	}
	return nil
}

// ExecInPod 在运行中的容器里执行一次性命令并返回 stdout，
// 仅供 Flag 校验使用。
func (s *KubernetesService) ExecInPod(ctx context.Context, namespace, podName string, command []string) (string, error) {
	if s.restConfig == nil {
		return "", &ExecError{Err: fmt.Errorf("exec is not available without a rest config")}
	}

	req := s.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: command,
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(s.restConfig, "POST", req.URL())
	if err != nil {
		return "", &ExecError{Err: err}
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return "", &ExecError{Err: fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr.String()))}
	}
	return stdout.String(), nil
}

// WorkloadRunning 供 Reconciler 查询：Pod 不存在返回 (false, nil)。
func (s *KubernetesService) WorkloadRunning(ctx context.Context, namespace, podName string) (bool, error) {
	pods, err := s.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, transientErr("list pods in "+namespace, err)
	}
	for i := range pods.Items {
		if strings.HasPrefix(pods.Items[i].Name, podName) {
			return pods.Items[i].Status.Phase == corev1.PodRunning, nil
		}
	}
	return false, nil
}
