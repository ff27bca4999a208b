// Package fileio moves document text between disk and memory on background
// goroutines, one block at a time.
package fileio

import (
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBlockSize = 128 * 1024

type Options struct {
	BlockSize int
	// ProgressInterval is the minimum gap between progress notifications.
	// Zero reports every block.
	ProgressInterval time.Duration
	// Sleep pauses after each block. Used to make slow I/O observable.
	Sleep     time.Duration
	SniffUTF8 bool
	Logger    *slog.Logger
}

func (o Options) normalized() Options {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.ProgressInterval < 0 {
		o.ProgressInterval = 0
	}
	if o.Sleep < 0 {
		o.Sleep = 0
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

func (o Options) limiter() *rate.Limiter {
	if o.ProgressInterval == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(o.ProgressInterval), 1)
}
