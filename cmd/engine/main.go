package main

import (
	"encoding/csv"
	"flag"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"futures-grid-engine/internal/config"
	"futures-grid-engine/internal/engine"
	"futures-grid-engine/internal/guard"
	"futures-grid-engine/internal/journal"
	"futures-grid-engine/internal/logger"
	"futures-grid-engine/internal/models"
	"futures-grid-engine/internal/persistence"
	"futures-grid-engine/internal/reporter"
	"futures-grid-engine/internal/terminal"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or replay")
	dataPath := flag.String("data", "", "path to tick data file for replay")
	flag.Parse()

	// 配置加载前先用默认参数初始化日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "replay":
		if *dataPath == "" {
			logger.S().Fatal("回放模式需要通过 --data 指定行情文件")
		}
		runReplayMode(cfg, *dataPath)
	default:
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'replay'。", *mode)
	}
}

// forwardFeeds pumps a terminal's three streams into the engine until
// stop closes.
func forwardFeeds(term terminal.EventStream, eng *engine.Engine, stop <-chan struct{}) {
	go func() {
		for {
			select {
			case tick := <-term.Ticks():
				eng.OnTick(tick)
			case ev := <-term.OrderEvents():
				eng.OnOrderEvent(ev)
			case ev := <-term.TradeEvents():
				eng.OnTradeEvent(ev)
			case <-stop:
				return
			}
		}
	}()
}

func openJournal(cfg *models.Config) *journal.Journal {
	if cfg.JournalPath == "" {
		return nil
	}
	jrnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logger.S().Warnf("流水库打开失败: %v，本次会话不记录流水。", err)
		return nil
	}
	return jrnl
}

func printReport(cfg *models.Config, eng *engine.Engine, jrnl *journal.Journal) {
	var stats journal.SessionStats
	sessionID := ""
	if jrnl != nil {
		sessionID = jrnl.SessionID()
		s, err := jrnl.Stats()
		if err != nil {
			logger.S().Warnf("读取会话统计失败: %v", err)
		} else {
			stats = s
		}
	}
	summary := reporter.Collect(cfg.Instrument, sessionID, eng.Ledger(), eng.Tracker(), stats)
	reporter.Render(os.Stdout, summary, eng.Ledger())
}

func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- 启动实盘模式 ---")

	if cfg.TerminalWSURL == "" {
		cfg.TerminalWSURL = os.Getenv("TERMINAL_WS_URL")
	}
	if cfg.TerminalWSURL == "" {
		logger.S().Fatal("错误：必须在配置或 TERMINAL_WS_URL 环境变量中指定终端地址。")
	}

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("快照库打开失败: %v", err)
	}
	defer repo.Close()

	jrnl := openJournal(cfg)
	if jrnl != nil {
		defer jrnl.Close()
		logger.S().Infof("会话流水已开启: %s", jrnl.SessionID())
	}

	client, err := terminal.NewWSClient(cfg.TerminalWSURL, logger.S())
	if err != nil {
		logger.S().Fatalf("终端连接失败: %v", err)
	}
	defer client.Close()

	eng := engine.New(cfg, client, repo, jrnl, logger.S())
	if cfg.MinAvailable > 0 {
		eng.SetRiskGate(guard.NewRiskGate(logger.S(),
			guard.VolumeBounds(cfg.MaxOrderQty),
			guard.PriceBounds(cfg.ShortMinPrice, cfg.ShortMaxPrice, cfg.LongMinPrice, cfg.LongMaxPrice),
			guard.AvailableFunds(cfg.MinAvailable, availableFundsProbe()),
		))
	}
	if err := eng.Bootstrap(); err != nil {
		logger.S().Fatalf("状态引导失败: %v", err)
	}

	stop := make(chan struct{})
	forwardFeeds(client, eng, stop)
	eng.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	close(stop)
	eng.Stop()
	printReport(cfg, eng, jrnl)
	logger.S().Info("引擎已停止，状态已保存。")
}

// availableFundsProbe 返回账户可用资金。终端推送里没有资金字段,这里从
// 环境变量读取外部风控进程维护的数值,读不到时按充足处理。
func availableFundsProbe() func() float64 {
	return func() float64 {
		raw := os.Getenv("ACCOUNT_AVAILABLE")
		if raw == "" {
			return math.MaxFloat64
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return math.MaxFloat64
		}
		return v
	}
}

func runReplayMode(cfg *models.Config, dataPath string) {
	logger.S().Info("--- 启动回放模式 ---")

	jrnl := openJournal(cfg)
	if jrnl != nil {
		defer jrnl.Close()
	}

	sim := terminal.NewSimTerminal()
	eng := engine.New(cfg, sim, nil, jrnl, logger.S())

	stop := make(chan struct{})
	forwardFeeds(sim, eng, stop)
	eng.Start()

	ticks, err := loadTicks(dataPath, cfg.Instrument)
	if err != nil {
		logger.S().Fatalf("加载行情文件失败: %v", err)
	}
	logger.S().Infof("共 %d 条行情待回放", len(ticks))

	for _, tick := range ticks {
		sim.Push(tick)
		eng.Drain()
	}
	eng.Drain()

	close(stop)
	eng.Stop()
	printReport(cfg, eng, jrnl)
}

// loadTicks 解析回放用的CSV行情文件,列依次为:毫秒时间戳、最新价、
// 买一价、卖一价。首行为表头。
func loadTicks(path, instrument string) ([]models.Tick, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, nil
	}
	records = records[1:]

	ticks := make([]models.Tick, 0, len(records))
	for _, rec := range records {
		if len(rec) < 4 {
			continue
		}
		ms, err1 := strconv.ParseInt(rec[0], 10, 64)
		last, err2 := strconv.ParseFloat(rec[1], 64)
		bid, err3 := strconv.ParseFloat(rec[2], 64)
		ask, err4 := strconv.ParseFloat(rec[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			logger.S().Warnf("跳过无法解析的行情行: %v", rec)
			continue
		}
		ticks = append(ticks, models.Tick{
			Instrument: instrument,
			LastPrice:  last,
			BidPrice:   bid,
			AskPrice:   ask,
			Timestamp:  time.UnixMilli(ms),
		})
	}
	return ticks, nil
}
