// file: services/k8s_resources.go
package services

import (
	"fmt"
	"os"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	"github.com/Abhinav21110/LetUsHack-MicroK8s/utils"
)

// 平台统一的标签键。所有按类清理都依赖这些标签而不是对象名。
const (
	LabelUserID     = "app.letushack.com/user-id"
	LabelTenant     = "app.letushack.com/tenant"
	LabelIsolation  = "app.letushack.com/isolation"
	LabelLabType    = "app.letushack.com/lab-type"
	LabelComponent  = "app.letushack.com/component"
	LabelOSType     = "app.letushack.com/os-type"
	LabelPolicyType = "app.letushack.com/policy-type"
	LabelLabPod     = "lab-pod"

	ComponentOSContainer = "os-container"
	TenantUser           = "user"
)

// K8sConfig 汇总适配层的全部环境配置。
type K8sConfig struct {
	NamespacePrefix string
	IngressDomain   string
	IngressPort     string
	Production      bool
	// NetworkPolicyEnabled 对应 CALICO_ENABLED：只有集群启用策略执行时
	// 才下发 allow 规则，否则只保留 deny-all 基线。
	NetworkPolicyEnabled bool
	HostURL              string
	// RoutePropagationSettle 是 Ingress 规则传播的固定等待。
	RoutePropagationSettle time.Duration
	ReadyPollInterval      time.Duration
	DeletePollInterval     time.Duration
}

func K8sConfigFromEnv() K8sConfig {
	cfg := K8sConfig{
		NamespacePrefix:        os.Getenv("K8S_NAMESPACE_PREFIX"),
		IngressDomain:          os.Getenv("K8S_INGRESS_DOMAIN"),
		IngressPort:            os.Getenv("K8S_INGRESS_PORT"),
		Production:             os.Getenv("APP_ENV") == "production",
		NetworkPolicyEnabled:   os.Getenv("CALICO_ENABLED") == "true",
		HostURL:                os.Getenv("HOST_URL"),
		RoutePropagationSettle: 3 * time.Second,
		ReadyPollInterval:      2 * time.Second,
		DeletePollInterval:     time.Second,
	}
	if cfg.NamespacePrefix == "" {
		cfg.NamespacePrefix = "letushack"
	}
	if cfg.IngressPort == "" {
		if cfg.Production {
			cfg.IngressPort = "443"
		} else {
			cfg.IngressPort = "8100"
		}
	}
	if cfg.HostURL == "" {
		cfg.HostURL = "http://localhost:3000"
	}
	return cfg
}

func labImageName(labType string) string {
	switch labType {
	case "xss":
		return "xss_lab:latest"
	case "csrf":
		return "csrf_lab:latest"
	case "nmap":
		return "nmap_lab:latest"
	}
	return "xss_lab:latest"
}

func osImageName(osType string) string {
	if osType == "debian" {
		return "os-container-single-port:latest"
	}
	return "os-container-single-port:latest"
}

func buildNamespace(name, userID string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				LabelUserID:    utils.SanitizeUserID(userID),
				LabelTenant:    TenantUser,
				LabelIsolation: "strict",
			},
		},
	}
}

// buildDenyAllPolicy 命名空间基线：默认拒绝全部进出流量。
func buildDenyAllPolicy(namespace string) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "default-deny-all",
			Namespace: namespace,
			Labels:    map[string]string{LabelPolicyType: "baseline"},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{},
			PolicyTypes: []networkingv1.PolicyType{
				networkingv1.PolicyTypeIngress,
				networkingv1.PolicyTypeEgress,
			},
		},
	}
}

func ingressFromControllerRule() networkingv1.NetworkPolicyIngressRule {
	port := intstr.FromInt32(80)
	tcp := corev1.ProtocolTCP
	return networkingv1.NetworkPolicyIngressRule{
		From: []networkingv1.NetworkPolicyPeer{{
			NamespaceSelector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app.kubernetes.io/name": "ingress-nginx"},
			},
		}},
		Ports: []networkingv1.NetworkPolicyPort{{Port: &port, Protocol: &tcp}},
	}
}

func dnsEgressRule() networkingv1.NetworkPolicyEgressRule {
	dns := intstr.FromInt32(53)
	tcp := corev1.ProtocolTCP
	udp := corev1.ProtocolUDP
	return networkingv1.NetworkPolicyEgressRule{
		To: []networkingv1.NetworkPolicyPeer{{
			NamespaceSelector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"kubernetes.io/metadata.name": "kube-system"},
			},
		}},
		Ports: []networkingv1.NetworkPolicyPort{
			{Port: &dns, Protocol: &tcp},
			{Port: &dns, Protocol: &udp},
		},
	}
}

// buildLabAllowPolicies 实验 Pod 的放行规则：
// 仅允许来自 ingress-nginx 的 80 端口入站和到 kube-system 的 DNS 出站。
func buildLabAllowPolicies(namespace, labType string) []*networkingv1.NetworkPolicy {
	selector := metav1.LabelSelector{
		MatchLabels: map[string]string{
			"app":       labType,
			LabelTenant: TenantUser,
		},
	}
	allowIngress := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "allow-ingress-" + labType,
			Namespace: namespace,
			Labels: map[string]string{
				LabelPolicyType: "allow",
				LabelLabType:    labType,
			},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: selector,
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress:     []networkingv1.NetworkPolicyIngressRule{ingressFromControllerRule()},
		},
	}
	allowDNS := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "allow-dns-" + labType,
			Namespace: namespace,
			Labels: map[string]string{
				LabelPolicyType: "allow",
				LabelLabType:    labType,
			},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: selector,
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress},
			Egress:      []networkingv1.NetworkPolicyEgressRule{dnsEgressRule()},
		},
	}
	return []*networkingv1.NetworkPolicy{allowIngress, allowDNS}
}

// buildOSAllowPolicies OS 容器在 DNS 之外额外放开全部出站（桌面需要访问外网）。
func buildOSAllowPolicies(namespace, osType string) []*networkingv1.NetworkPolicy {
	selector := metav1.LabelSelector{
		MatchLabels: map[string]string{
			LabelComponent: ComponentOSContainer,
			LabelOSType:    osType,
		},
	}
	allowIngress := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "allow-ingress-os-" + osType,
			Namespace: namespace,
			Labels: map[string]string{
				LabelPolicyType: "allow",
				LabelComponent:  ComponentOSContainer,
			},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: selector,
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress:     []networkingv1.NetworkPolicyIngressRule{ingressFromControllerRule()},
		},
	}
	allowDNS := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "allow-dns-os-" + osType,
			Namespace: namespace,
			Labels: map[string]string{
				LabelPolicyType: "allow",
				LabelComponent:  ComponentOSContainer,
			},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: selector,
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeEgress},
			Egress: []networkingv1.NetworkPolicyEgressRule{
				dnsEgressRule(),
				{}, // 空规则 = 放行全部出站
			},
		},
	}
	return []*networkingv1.NetworkPolicy{allowIngress, allowDNS}
}

func buildLabDeployment(spec LabDeploySpec, hostURL string, flags map[string]string) *appsv1.Deployment {
	sanitizedUser := utils.SanitizeUserID(spec.UserID)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.PodName,
			Namespace: spec.Namespace,
			Labels: map[string]string{
				"app":        spec.LabType,
				LabelLabType: spec.LabType,
				LabelUserID:  sanitizedUser,
				LabelTenant:  TenantUser,
			},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{
					"app":  spec.LabType,
					"user": sanitizedUser,
				},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"app":        spec.LabType,
						"user":       sanitizedUser,
						LabelLabType: spec.LabType,
						LabelTenant:  TenantUser,
					},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  spec.LabType,
						Image: labImageName(spec.LabType),
						// 实验镜像在节点本地构建，不从仓库拉取
						ImagePullPolicy: corev1.PullNever,
						Ports: []corev1.ContainerPort{{
							ContainerPort: 80,
							Name:          "http",
						}},
						Env: []corev1.EnvVar{
							{Name: "VITE_MAIN_WEB_URL", Value: hostURL},
							{Name: "FLAG_EASY", Value: flags["easy"]},
							{Name: "FLAG_MEDIUM", Value: flags["medium"]},
							{Name: "FLAG_HARD", Value: flags["hard"]},
						},
						Resources: corev1.ResourceRequirements{
							Limits: corev1.ResourceList{
								corev1.ResourceMemory: resource.MustParse("512Mi"),
								corev1.ResourceCPU:    resource.MustParse("500m"),
							},
							Requests: corev1.ResourceList{
								corev1.ResourceMemory: resource.MustParse("256Mi"),
								corev1.ResourceCPU:    resource.MustParse("250m"),
							},
						},
						SecurityContext: &corev1.SecurityContext{
							RunAsNonRoot:             ptr.To(false),
							AllowPrivilegeEscalation: ptr.To(false),
						},
					}},
				},
			},
		},
	}
}

func buildOSDeployment(spec OSDeploySpec) *appsv1.Deployment {
	labels := map[string]string{
		LabelComponent: ComponentOSContainer,
		LabelOSType:    spec.OSType,
		LabelUserID:    utils.SanitizeUserID(spec.UserID),
	}
	httpProbe := &corev1.HTTPGetAction{
		Path: "/",
		Port: intstr.FromInt32(80),
	}
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.PodName,
			Namespace: spec.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:            "os-desktop",
						Image:           osImageName(spec.OSType),
						ImagePullPolicy: corev1.PullIfNotPresent,
						Env: []corev1.EnvVar{
							{Name: "USER_SLUG", Value: spec.UserSlug},
							{Name: "VNC_PASSWORD", Value: "debian"},
							{Name: "USERNAME", Value: "debian"},
						},
						Ports: []corev1.ContainerPort{{
							ContainerPort: 80,
							Name:          "http",
							Protocol:      corev1.ProtocolTCP,
						}},
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceMemory: resource.MustParse("512Mi"),
								corev1.ResourceCPU:    resource.MustParse("500m"),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceMemory: resource.MustParse("2Gi"),
								corev1.ResourceCPU:    resource.MustParse("2000m"),
							},
						},
						ReadinessProbe: &corev1.Probe{
							ProbeHandler:        corev1.ProbeHandler{HTTPGet: httpProbe},
							InitialDelaySeconds: 10,
							PeriodSeconds:       5,
							TimeoutSeconds:      3,
							SuccessThreshold:    1,
							FailureThreshold:    5,
						},
						LivenessProbe: &corev1.Probe{
							ProbeHandler:        corev1.ProbeHandler{HTTPGet: httpProbe},
							InitialDelaySeconds: 30,
							PeriodSeconds:       10,
							TimeoutSeconds:      3,
							SuccessThreshold:    1,
							FailureThreshold:    3,
						},
					}},
				},
			},
		},
	}
}

func buildLabService(spec LabDeploySpec) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.ServiceName,
			Namespace: spec.Namespace,
			Labels: map[string]string{
				LabelLabType: spec.LabType,
				LabelLabPod:  spec.PodName,
			},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{
				"app":  spec.LabType,
				"user": utils.SanitizeUserID(spec.UserID),
			},
			Ports: []corev1.ServicePort{{
				Port:       80,
				TargetPort: intstr.FromInt32(80),
				Protocol:   corev1.ProtocolTCP,
			}},
			Type: corev1.ServiceTypeClusterIP,
		},
	}
}

func buildOSService(spec OSDeploySpec) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.ServiceName,
			Namespace: spec.Namespace,
			Labels: map[string]string{
				LabelComponent: ComponentOSContainer,
				LabelOSType:    spec.OSType,
			},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{
				LabelComponent: ComponentOSContainer,
				LabelOSType:    spec.OSType,
				LabelUserID:    utils.SanitizeUserID(spec.UserID),
			},
			Ports: []corev1.ServicePort{{
				Port:       80,
				TargetPort: intstr.FromInt32(80),
				Protocol:   corev1.ProtocolTCP,
				Name:       "http",
			}},
			Type: corev1.ServiceTypeClusterIP,
		},
	}
}

func buildLabIngress(spec LabDeploySpec, domain string, production bool) *networkingv1.Ingress {
	annotations := map[string]string{
		"nginx.ingress.kubernetes.io/rewrite-target": "/$2",
		"nginx.ingress.kubernetes.io/use-regex":      "true",
		"nginx.ingress.kubernetes.io/ssl-redirect":   fmt.Sprintf("%t", production),
	}
	if production {
		annotations["nginx.ingress.kubernetes.io/force-ssl-redirect"] = "true"
	}

	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-ingress-%d", spec.LabType, time.Now().UnixMilli()),
			Namespace: spec.Namespace,
			Labels: map[string]string{
				LabelLabType: spec.LabType,
				LabelLabPod:  spec.PodName,
			},
			Annotations: annotations,
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: ptr.To("nginx"),
			Rules: []networkingv1.IngressRule{
				ingressRule(domain, fmt.Sprintf("/%s/%s(/|$)(.*)", spec.UserSlug, spec.LabType), spec.ServiceName),
			},
		},
	}
	if production {
		ing.Spec.TLS = []networkingv1.IngressTLS{{
			Hosts:      []string{domain},
			SecretName: "letushack-tls",
		}}
	}
	return ing
}

func buildOSIngress(spec OSDeploySpec, domain string) *networkingv1.Ingress {
	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.PodName + "-ingress",
			Namespace: spec.Namespace,
			Labels: map[string]string{
				LabelComponent: ComponentOSContainer,
				LabelOSType:    spec.OSType,
			},
			Annotations: map[string]string{
				"nginx.ingress.kubernetes.io/rewrite-target": "/$2",
				"nginx.ingress.kubernetes.io/use-regex":      "true",
				"nginx.ingress.kubernetes.io/ssl-redirect":   "false",
				// VNC 走 WebSocket，需要长连接超时和关闭缓冲
				"nginx.ingress.kubernetes.io/proxy-read-timeout":    "3600",
				"nginx.ingress.kubernetes.io/proxy-send-timeout":    "3600",
				"nginx.ingress.kubernetes.io/proxy-connect-timeout": "3600",
				"nginx.ingress.kubernetes.io/websocket-services":    spec.ServiceName,
				"nginx.ingress.kubernetes.io/proxy-buffering":       "off",
			},
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: ptr.To("nginx"),
			Rules: []networkingv1.IngressRule{
				ingressRule(domain, fmt.Sprintf("/%s/os/%s(/|$)(.*)", spec.UserSlug, spec.OSType), spec.ServiceName),
			},
		},
	}
}

func ingressRule(host, path, serviceName string) networkingv1.IngressRule {
	pathType := networkingv1.PathTypeImplementationSpecific
	return networkingv1.IngressRule{
		Host: host,
		IngressRuleValue: networkingv1.IngressRuleValue{
			HTTP: &networkingv1.HTTPIngressRuleValue{
				Paths: []networkingv1.HTTPIngressPath{{
					Path:     path,
					PathType: &pathType,
					Backend: networkingv1.IngressBackend{
						Service: &networkingv1.IngressServiceBackend{
							Name: serviceName,
							Port: networkingv1.ServiceBackendPort{Number: 80},
						},
					},
				}},
			},
		},
	}
}
