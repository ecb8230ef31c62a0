package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/cloudcode-relay/internal/utils"
)

// AccountLimits handles GET /account-limits: per-account rate-limit and
// quota state for dashboards and debugging.
func (h *Handler) AccountLimits(c *gin.Context) {
	now := time.Now().UnixMilli()

	accounts := h.Accounts.Accounts()
	out := make([]gin.H, 0, len(accounts))
	for _, acc := range accounts {
		entry := gin.H{
			"email":   utils.MaskEmail(acc.Email),
			"enabled": acc.Enabled,
			"invalid": acc.IsInvalid,
		}
		if acc.IsInvalid {
			entry["invalidReason"] = acc.InvalidReason
		}

		limits := gin.H{}
		for model, info := range acc.ModelRateLimits {
			if info == nil || !info.IsRateLimited || info.ResetTime <= now {
				continue
			}
			limits[model] = gin.H{
				"resetInMs": info.ResetTime - now,
				"resetIn":   utils.FormatDuration(info.ResetTime - now),
			}
		}
		if len(limits) > 0 {
			entry["rateLimits"] = limits
		}

		if acc.Quota != nil {
			quotas := gin.H{}
			for model, q := range acc.Quota.Models {
				if q != nil {
					quotas[model] = q.RemainingFraction
				}
			}
			entry["quota"] = gin.H{
				"models":      quotas,
				"lastChecked": acc.Quota.LastChecked,
				"ageMs":       now - acc.Quota.LastChecked,
			}
		}

		if usage := h.Accounts.Usage(c.Request.Context(), acc.Email); usage != nil {
			entry["usage"] = usage
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{"accounts": out})
}
