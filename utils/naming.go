// file: utils/naming.go
package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	invalidLabelChars = regexp.MustCompile(`[^a-zA-Z0-9-]`)
	slugStrip         = regexp.MustCompile(`[^a-z0-9]+`)
)

// SanitizeUserID 把任意 user_id 压成合法的 K8s 标签/名称片段：
// 非法字符替换为 '-'，必须以字母数字开头，最长 63，去掉尾部连字符。
func SanitizeUserID(userID string) string {
	s := invalidLabelChars.ReplaceAllString(userID, "-")
	if len(s) > 0 && !isAlnum(s[0]) {
		s = "u" + s[1:]
	}
	if len(s) > 63 {
		s = s[:63]
	}
	s = strings.ToLower(s)
	return strings.TrimRight(s, "-")
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Slugify 生成 URL 路径里使用的 userSlug。
func Slugify(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// LabPodName 形如 xss-u1-1700000000000，时间戳保证同类重启后名称唯一。
func LabPodName(labType, userID string) string {
	sanitized := SanitizeUserID(userID)
	if len(sanitized) > 8 {
		sanitized = sanitized[:8]
	}
	return fmt.Sprintf("%s-%s-%d", labType, sanitized, time.Now().UnixMilli())
}

func LabServiceName(labType string) string {
	return fmt.Sprintf("%s-svc-%d", labType, time.Now().UnixMilli())
}

func OSPodName(osType string) string {
	return fmt.Sprintf("os-%s-%d", osType, time.Now().UnixMilli())
}

func OSServiceName(podName string) string {
	return podName + "-service"
}

// GenerateFlag 生成 32 位十六进制 flag，注入到实验容器环境变量。
func GenerateFlag() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
