package trigger

import (
	"math"

	"futures-grid-engine/internal/models"
)

// Calculator derives the next open and close price levels of the grid
// from the set of currently open line prices. It is pure arithmetic with
// no state of its own: the engine feeds it the ledger's sorted price
// views after every change and compares ticks against the result.
type Calculator struct {
	basePrice    float64
	gridInterval float64
	tickSize     float64
	triggerShift float64
	nudgeModulus float64
}

func NewCalculator(basePrice, gridInterval, tickSize, triggerShift, nudgeModulus float64) *Calculator {
	return &Calculator{
		basePrice:    basePrice,
		gridInterval: gridInterval,
		tickSize:     tickSize,
		triggerShift: triggerShift,
		nudgeModulus: nudgeModulus,
	}
}

// NextOpen returns the price level of the next grid line to open in
// direction, given the open line prices in that direction (ascending).
// The grid extends outward from the base price: the next LONG line sits
// one interval below the lowest open line, the next SHORT line one
// interval above the highest. An empty direction starts one interval
// from the base.
func (c *Calculator) NextOpen(direction models.Direction, openPrices []float64) float64 {
	var level float64
	if len(openPrices) == 0 {
		level = c.basePrice - float64(direction)*c.gridInterval
	} else if direction == models.Long {
		level = openPrices[0] - c.gridInterval
	} else {
		level = openPrices[len(openPrices)-1] + c.gridInterval
	}
	return c.nudge(direction, level)
}

// nudge moves a level that lands on an exact multiple of nudgeModulus
// one tick further from the base. Round-number levels attract resting
// volume and fill unreliably, so the grid steps past them.
func (c *Calculator) nudge(direction models.Direction, level float64) float64 {
	if c.nudgeModulus <= 0 {
		return level
	}
	r := math.Mod(level, c.nudgeModulus)
	if math.Abs(r) > 1e-9 && math.Abs(math.Abs(r)-c.nudgeModulus) > 1e-9 {
		return level
	}
	return level - float64(direction)*c.tickSize
}

// NextClose returns the price level of the grid line to close next in
// direction, given the prices of lines with remaining open volume
// (ascending). The most recently opened line (the most extreme price) is
// held back so the grid keeps a foothold at its edge; among the rest the
// line nearest the base closes first. If fewer than two lines remain
// after holding back the edge, nothing is eligible and ok is false. The
// result never crosses the base price.
func (c *Calculator) NextClose(direction models.Direction, openPrices []float64) (level float64, ok bool) {
	if len(openPrices) < 3 {
		return 0, false
	}
	if direction == models.Long {
		// 最低价留作边界,其余取最高
		level = openPrices[len(openPrices)-1]
		if level > c.basePrice {
			level = c.basePrice
		}
	} else {
		level = openPrices[0]
		if level < c.basePrice {
			level = c.basePrice
		}
	}
	return level, true
}

// OpenTriggered reports whether the last price has reached the open
// level. The trigger shift fires the submission slightly before the
// level is touched so the order rests in the book ahead of the move.
func (c *Calculator) OpenTriggered(direction models.Direction, level, lastPrice float64) bool {
	if direction == models.Long {
		return lastPrice <= level+c.triggerShift
	}
	return lastPrice >= level-c.triggerShift
}

// CloseTriggered reports whether the last price has retraced one grid
// interval past the close level, which is the line's take-profit point.
func (c *Calculator) CloseTriggered(direction models.Direction, level, lastPrice float64) bool {
	if direction == models.Long {
		return lastPrice >= level+c.gridInterval-c.triggerShift
	}
	return lastPrice <= level-c.gridInterval+c.triggerShift
}
