package protocol

// OCPP协议版本常量
const (
	OCPP_VERSION_1_6 = "ocpp1.6"

	DEFAULT_VERSION = OCPP_VERSION_1_6
)

// 支持的协议版本列表，目前仅服务OCPP 1.6站点
var SupportedVersions = []string{
	OCPP_VERSION_1_6,
}

// 版本映射表，处理握手中各种格式的子协议名
var VersionMapping = map[string]string{
	"1.6":     OCPP_VERSION_1_6,
	"ocpp1.6": OCPP_VERSION_1_6,
	"OCPP1.6": OCPP_VERSION_1_6,
}

// NormalizeVersion 规范化协议版本
func NormalizeVersion(version string) string {
	if normalized, exists := VersionMapping[version]; exists {
		return normalized
	}
	return ""
}

// IsVersionSupported 检查版本是否支持
func IsVersionSupported(version string) bool {
	normalized := NormalizeVersion(version)
	if normalized == "" {
		return false
	}

	for _, supported := range SupportedVersions {
		if normalized == supported {
			return true
		}
	}
	return false
}

// GetDefaultVersion 获取默认版本
func GetDefaultVersion() string {
	return DEFAULT_VERSION
}

// GetSupportedVersions 获取支持的版本列表
func GetSupportedVersions() []string {
	result := make([]string, len(SupportedVersions))
	copy(result, SupportedVersions)
	return result
}
