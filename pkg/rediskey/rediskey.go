package rediskey

import "fmt"

// License keys (global convention across services)
const (
	LicensePrefix        = "license"
	LicenseCurrentKey    = "license:current"
	LicenseUsagePrefix   = "license:usage"
	LicenseRateLimitName = "license:ratelimit"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildLicenseKey returns "license:{licenseKey}"
func BuildLicenseKey(licenseKey string) string {
	return NamespaceKey(LicensePrefix, licenseKey)
}

// BuildUsageKey returns "license:usage:{resourceType}"
func BuildUsageKey(resourceType string) string {
	return NamespaceKey(LicenseUsagePrefix, resourceType)
}
