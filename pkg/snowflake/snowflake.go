// Package snowflake generates unique, time-sortable message IDs. IDs
// are 63-bit: timestamp | worker | sequence, so ordering by ID agrees
// with send order within one process.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// epoch is 2024-01-01T00:00:00Z in milliseconds.
	epoch int64 = 1704067200000

	workerIDBits = 10
	sequenceBits = 12

	maxWorkerID  = -1 ^ (-1 << workerIDBits)
	sequenceMask = -1 ^ (-1 << sequenceBits)

	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

var (
	ErrInvalidWorkerID     = errors.New("worker id out of range")
	ErrClockMovedBackwards = errors.New("clock moved backwards")
)

// Generator issues snowflake IDs for one worker.
type Generator struct {
	mu            sync.Mutex
	workerID      int64
	sequence      int64
	lastTimestamp int64
}

func NewGenerator(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	return &Generator{workerID: workerID, lastTimestamp: -1}, nil
}

// Next returns the next ID. Within one millisecond the sequence field
// increments; when it overflows, Next spins to the next millisecond.
func (g *Generator) Next() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := time.Now().UnixMilli()
	if ts < g.lastTimestamp {
		return 0, ErrClockMovedBackwards
	}

	if ts == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			for ts <= g.lastTimestamp {
				ts = time.Now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = ts

	return (ts-epoch)<<timestampShift | g.workerID<<workerIDShift | g.sequence, nil
}

var (
	defaultGen  *Generator
	defaultOnce sync.Once
	defaultMu   sync.Mutex
)

func getDefault() *Generator {
	defaultOnce.Do(func() {
		defaultGen, _ = NewGenerator(0)
	})
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultGen
}

// Next issues an ID from the process-wide generator.
func Next() (int64, error) {
	return getDefault().Next()
}

// SetWorkerID replaces the process-wide generator (from configuration).
// Call before the first Next in multi-instance deployments.
func SetWorkerID(workerID int64) error {
	gen, err := NewGenerator(workerID)
	if err != nil {
		return err
	}
	defaultOnce.Do(func() {})
	defaultMu.Lock()
	defaultGen = gen
	defaultMu.Unlock()
	return nil
}
