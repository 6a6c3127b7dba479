// memory.go: automatic ring sizing from available memory
package conf

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/go-playback/internal/logger"
	"github.com/tphakala/go-playback/internal/playback"
)

// Automatic ring size bounds
const (
	MinAutoBufferSize = 2 << 20
	MaxAutoBufferSize = 64 << 20
	autoBufferDivisor = 64
)

// AutoBufferSize returns 1/64 of the available system memory clamped to
// [MinAutoBufferSize, MaxAutoBufferSize]. The engine default is returned when
// memory cannot be read.
func AutoBufferSize() int {
	vm, err := mem.VirtualMemory()
	if err != nil {
		GetLogger().Warn("memory query failed, using default buffer size",
			logger.Error(err),
			logger.Int("buffer_size", playback.DefaultBufferSize))
		return playback.DefaultBufferSize
	}
	size := bufferSizeFor(vm.Available)
	GetLogger().Debug("buffer size derived from available memory",
		logger.Uint64("available", vm.Available),
		logger.Int("buffer_size", size))
	return size
}

func bufferSizeFor(available uint64) int {
	size := available / autoBufferDivisor
	return int(min(max(size, MinAutoBufferSize), MaxAutoBufferSize))
}
