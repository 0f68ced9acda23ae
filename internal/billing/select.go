package billing

import (
	"time"

	"github.com/charging-platform/central-system/internal/domain/model"
)

// SelectTariff 在候选方案中选择适用的计费方案
// 优先级：用户组内优先级最高且当前有效的方案 > 租户默认有效方案 > nil（保底价）。
func SelectTariff(tariffs []*model.Tariff, tenantID string, user *model.User, now time.Time) *model.Tariff {
	var best *model.Tariff
	if user != nil {
		for _, tariff := range tariffs {
			if tariff.TenantID != tenantID || !tariff.IsValidAt(now) {
				continue
			}
			if !user.HasAnyGroup(tariff.GroupIDs) {
				continue
			}
			if best == nil || tariff.Priority > best.Priority {
				best = tariff
			}
		}
		if best != nil {
			return best
		}
	}

	for _, tariff := range tariffs {
		if tariff.TenantID != tenantID || !tariff.IsValidAt(now) {
			continue
		}
		if tariff.IsDefault {
			return tariff
		}
	}
	return nil
}
