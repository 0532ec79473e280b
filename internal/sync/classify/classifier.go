// Package classify maps raw marketplace failures onto the closed error
// taxonomy driving retry and dead-letter decisions.
package classify

import (
	"strings"

	"github.com/vuive/marketsync/internal/core/domain"
)

// indicators are matched case-insensitively against the error text and code,
// in priority order. Kept as data so per-platform quirks land here and not
// in scattered inline checks.
var indicators = []struct {
	category  domain.ErrorCategory
	severity  domain.ErrorSeverity
	retryable bool
	terms     []string
}{
	{
		category:  domain.ErrorCategoryRateLimit,
		severity:  domain.SeverityMedium,
		retryable: true,
		terms: []string{
			"rate limit", "rate-limit", "too many requests", "429",
			"quota exceeded", "request limit", "throttl", "call limit",
		},
	},
	{
		category:  domain.ErrorCategoryNetwork,
		severity:  domain.SeverityMedium,
		retryable: true,
		terms: []string{
			"timeout", "timed out", "connection reset", "connection refused",
			"network", "econnreset", "econnrefused", "etimedout", "eai_again",
			"no such host", "broken pipe", "socket hang up", "dns",
		},
	},
	{
		category:  domain.ErrorCategoryAuthentication,
		severity:  domain.SeverityCritical,
		retryable: false,
		terms: []string{
			"unauthorized", "401", "invalid app key", "invalid token",
			"access token expired", "token expired", "invalid signature",
			"forbidden", "403", "authentication", "invalid credential",
			"invalid app key or secret",
		},
	},
	{
		category:  domain.ErrorCategoryValidation,
		severity:  domain.SeverityHigh,
		retryable: false,
		terms: []string{
			"validation", "invalid param", "invalid field", "missing required",
			"400", "bad request", "not found", "404", "duplicate", "invalid sku",
			"malformed", "unprocessable",
		},
	},
	{
		category:  domain.ErrorCategorySystem,
		severity:  domain.SeverityHigh,
		retryable: true,
		terms: []string{
			"internal server error", "500", "502", "503", "504",
			"bad gateway", "service unavailable", "gateway timeout",
			"database", "deadlock", "out of memory", "panic",
		},
	},
}

// unknown is the conservative fallback: unrecognized failures do not retry
// indefinitely.
var unknown = domain.ErrorClassification{
	Category:    domain.ErrorCategoryUnknown,
	Severity:    domain.SeverityMedium,
	Retryable:   false,
	Description: "unrecognized error",
}

// Classify maps a raw failure into a category/severity/retryability verdict.
// Pure and total: nil errors classify as UNKNOWN.
func Classify(err error) domain.ErrorClassification {
	if err == nil {
		return unknown
	}
	return ClassifyText(err.Error(), "")
}

// ClassifyText matches the error message and an optional error code against
// the indicator sets in priority order.
func ClassifyText(message, code string) domain.ErrorClassification {
	haystack := strings.ToLower(message)
	if code != "" {
		haystack += " " + strings.ToLower(code)
	}

	for _, ind := range indicators {
		for _, term := range ind.terms {
			if strings.Contains(haystack, term) {
				return domain.ErrorClassification{
					Category:    ind.category,
					Severity:    ind.severity,
					Retryable:   ind.retryable,
					Description: message,
				}
			}
		}
	}

	out := unknown
	if message != "" {
		out.Description = message
	}
	return out
}
