package reporter

import (
	"io"
	"sort"

	"futures-grid-engine/internal/journal"
	"futures-grid-engine/internal/ledger"
	"futures-grid-engine/internal/lifecycle"
	"futures-grid-engine/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Summary 汇总一次会话结束时的引擎状态,供收盘报告使用。
type Summary struct {
	Instrument   string
	SessionID    string
	OpenLines    int
	RemainingVol int64
	ActiveOrders int
	TotalOrders  int
	Stats        journal.SessionStats
}

// Collect assembles the end-of-session summary from the engine's parts.
// stats may be zero-valued when no journal was configured.
func Collect(instrument, sessionID string, l *ledger.Ledger, tr *lifecycle.Tracker, stats journal.SessionStats) Summary {
	s := Summary{
		Instrument:   instrument,
		SessionID:    sessionID,
		ActiveOrders: len(tr.Active()),
		TotalOrders:  tr.Len(),
		Stats:        stats,
	}
	for _, direction := range []models.Direction{models.Long, models.Short} {
		for _, price := range l.Prices(direction) {
			line, ok := l.ResolveByPrice(price)
			if !ok {
				continue
			}
			s.OpenLines++
			s.RemainingVol += line.Remaining()
		}
	}
	return s
}

// Render prints the session report: a header table with the aggregate
// figures and a per-line table of everything still open.
func Render(w io.Writer, s Summary, l *ledger.Ledger) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("收盘报告 %s", s.Instrument)
	t.AppendRows([]table.Row{
		{"会话", s.SessionID},
		{"未销档网格线", s.OpenLines},
		{"剩余持仓手数", s.RemainingVol},
		{"在途委托", s.ActiveOrders},
		{"当日委托总数", s.TotalOrders},
		{"提交笔数", s.Stats.Submissions},
		{"回报笔数", s.Stats.OrderEvents},
		{"成交笔数", s.Stats.Fills},
		{"成交总手数", s.Stats.FilledVol},
	})
	t.Render()

	lines := table.NewWriter()
	lines.SetOutputMirror(w)
	lines.SetTitle("未平网格线")
	lines.AppendHeader(table.Row{"价格", "方向", "已开", "已平", "剩余"})
	lines.SetColumnConfigs([]table.ColumnConfig{
		{Name: "价格", Align: text.AlignRight},
		{Name: "已开", Align: text.AlignRight},
		{Name: "已平", Align: text.AlignRight},
		{Name: "剩余", Align: text.AlignRight},
	})

	var prices []float64
	for _, direction := range []models.Direction{models.Long, models.Short} {
		prices = append(prices, l.Prices(direction)...)
	}
	sort.Float64s(prices)
	for _, price := range prices {
		line, ok := l.ResolveByPrice(price)
		if !ok {
			continue
		}
		lines.AppendRow(table.Row{
			price, line.Direction.String(), line.OpenQty, line.CloseQty, line.Remaining(),
		})
	}
	lines.Render()
}
