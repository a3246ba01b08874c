package persistence

import (
	"futures-grid-engine/internal/models"

	"github.com/pkg/errors"
)

// ErrPersistence 表示快照读写失败。持久化失败不致命:引擎继续以内存状态
// 运行,下一次成功写入即恢复持久性。
var ErrPersistence = errors.New("persistence: snapshot store failure")

// SnapshotRepository abstracts the snapshot store from the engine.
// Snapshots are keyed per instrument; loading an instrument that was
// never saved returns (nil, nil).
type SnapshotRepository interface {
	// SaveSnapshot atomically replaces the stored snapshot for the
	// snapshot's instrument.
	SaveSnapshot(snap models.Snapshot) error

	// LoadSnapshot loads the snapshot for instrument, or (nil, nil)
	// when none was ever saved.
	LoadSnapshot(instrument string) (*models.Snapshot, error)

	// Close gracefully closes the underlying store.
	Close() error
}
