package config

import (
	"encoding/json"
	"os"

	"futures-grid-engine/internal/models"

	"github.com/pkg/errors"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config %s", path)
	}
	defer file.Close()

	config := &models.Config{}
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}

	return config, applyDefaults(config)
}

func applyDefaults(cfg *models.Config) error {
	if cfg.Instrument == "" {
		return errors.New("config: instrument is required")
	}
	if cfg.GridInterval <= 0 {
		return errors.New("config: grid_interval must be positive")
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = 1
	}
	if cfg.OrderQty <= 0 {
		cfg.OrderQty = 1
	}
	if cfg.MaxOrderQty <= 0 {
		cfg.MaxOrderQty = 30
	}
	if cfg.EventRetryLimit <= 0 {
		cfg.EventRetryLimit = 5
	}
	return nil
}
