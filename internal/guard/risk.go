package guard

import (
	"futures-grid-engine/internal/models"

	"go.uber.org/zap"
)

// RiskCheck inspects a candidate request and returns false with a reason
// when it must not go out. Checks are independent and side-effect free.
type RiskCheck func(req models.OrderRequest) (ok bool, reason string)

// RiskGate runs a fixed chain of checks over every outbound request.
// The first failing check wins; later checks do not run.
type RiskGate struct {
	checks []RiskCheck
	logger *zap.SugaredLogger
}

func NewRiskGate(logger *zap.SugaredLogger, checks ...RiskCheck) *RiskGate {
	return &RiskGate{checks: checks, logger: logger}
}

// Allow runs the chain and logs the first rejection.
func (r *RiskGate) Allow(req models.OrderRequest) bool {
	for _, check := range r.checks {
		if ok, reason := check(req); !ok {
			r.logger.Warnw("风控拦截委托",
				"instrument", req.Instrument,
				"direction", req.Direction.String(),
				"offset", req.Offset.String(),
				"price", req.Price,
				"volume", req.Volume,
				"reason", reason)
			return false
		}
	}
	return true
}

// VolumeBounds rejects non-positive volumes and anything above maxQty.
func VolumeBounds(maxQty int64) RiskCheck {
	return func(req models.OrderRequest) (bool, string) {
		if req.Volume <= 0 {
			return false, "volume not positive"
		}
		if maxQty > 0 && req.Volume > maxQty {
			return false, "volume exceeds per-order cap"
		}
		return true, ""
	}
}

// PriceBounds rejects prices outside the configured band for the
// request's direction. A zero bound disables that side of the band.
func PriceBounds(shortMin, shortMax, longMin, longMax float64) RiskCheck {
	return func(req models.OrderRequest) (bool, string) {
		min, max := longMin, longMax
		if req.Direction == models.Short {
			min, max = shortMin, shortMax
		}
		if min > 0 && req.Price < min {
			return false, "price below band"
		}
		if max > 0 && req.Price > max {
			return false, "price above band"
		}
		return true, ""
	}
}

// AvailableFunds rejects opens when the margin reported by the supplied
// probe falls under the floor. Closes always pass: reducing exposure
// must never be blocked by a funds check.
func AvailableFunds(minAvailable float64, available func() float64) RiskCheck {
	return func(req models.OrderRequest) (bool, string) {
		if req.Offset == models.Close || minAvailable <= 0 {
			return true, ""
		}
		if available() < minAvailable {
			return false, "available funds below floor"
		}
		return true, ""
	}
}
