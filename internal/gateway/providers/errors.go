package providers

import (
	"net/http"
	"strings"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/failure"
)

// kindForStatus classifies an upstream HTTP failure. zeroQuota marks a 429
// caused by a key that has no quota at all rather than a throttled one.
func kindForStatus(code int, status string, zeroQuota bool) failure.Kind {
	switch {
	case code == http.StatusTooManyRequests || strings.EqualFold(status, "RESOURCE_EXHAUSTED"):
		if zeroQuota {
			return failure.PermanentQuota
		}
		return failure.TransientRateLimit
	case code == http.StatusInternalServerError,
		code == http.StatusBadGateway,
		code == http.StatusServiceUnavailable,
		code == http.StatusGatewayTimeout:
		return failure.NetworkTransient
	}
	return failure.Unclassified
}

func hasZeroQuotaMarker(message string) bool {
	return strings.Contains(message, `quota_limit_value":"0"`) ||
		strings.Contains(message, `quota_limit_value: "0"`)
}
