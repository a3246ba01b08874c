package models

// Config 结构体定义了策略引擎的所有配置参数
type Config struct {
	Instrument    string `json:"instrument"`      // 合约代码，如 "SR405"
	Exchange      string `json:"exchange"`        // 交易所代码
	AccountID     string `json:"account_id"`      // 账户ID
	DBPath        string `json:"db_path"`         // 快照数据库路径
	JournalPath   string `json:"journal_path"`    // 委托/成交流水数据库路径
	TerminalWSURL string `json:"terminal_ws_url"` // 终端推送网关地址

	BasePrice    float64 `json:"base_price"`    // 基准价格，网格方向的分界线
	GridInterval float64 `json:"grid_interval"` // 网格间距
	TickSize     float64 `json:"tick_size"`     // 最小变动价位
	TriggerShift float64 `json:"trigger_shift"` // 触发偏移量：盘口进入该范围即触发
	OrderQty     int64   `json:"order_qty"`     // 每个网格的下单手数

	ShortMaxPrice float64 `json:"short_max_price"` // 做空网格最高价（边界）
	ShortMinPrice float64 `json:"short_min_price"` // 做空网格最低价
	LongMaxPrice  float64 `json:"long_max_price"`  // 做多网格最高价
	LongMinPrice  float64 `json:"long_min_price"`  // 做多网格最低价（边界）

	NudgeModulus float64 `json:"nudge_modulus"` // 回避整数价位的模数，0 表示不回避
	MaxOrderQty  int64   `json:"max_order_qty"` // 风控：单笔最大手数
	MinAvailable float64 `json:"min_available"` // 风控：最低可用资金

	CloseOvernightOnStart bool    `json:"close_overnight_on_start"` // 启动后首个行情即平掉隔夜线
	StaleOpenIntervals    float64 `json:"stale_open_intervals"`     // 在途开仓单偏离该间隔数即撤单，0 表示不撤

	EventRetryLimit int       `json:"event_retry_limit"` // 未知委托事件的重试次数上限
	LogConfig       LogConfig `json:"log"`               // 日志配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}
