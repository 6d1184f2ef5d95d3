// pools.go - pooled listing buffers for sweeps
package diskmanager

import (
	"sync"
	"sync/atomic"
)

const (
	initialPoolCapacity = 128
	// slices grown beyond this by a crowded directory are not returned to the pool
	maxPoolCapacity = 4096
)

// poolStats tracks pool usage
type poolStats struct {
	GetCount  uint64
	PutCount  uint64
	SkipCount uint64
}

var (
	poolGets  atomic.Uint64
	poolPuts  atomic.Uint64
	poolSkips atomic.Uint64

	fileInfoPool = sync.Pool{
		New: func() any {
			slice := make([]FileInfo, 0, initialPoolCapacity)
			return &slice
		},
	}
)

func currentPoolStats() poolStats {
	return poolStats{
		GetCount:  poolGets.Load(),
		PutCount:  poolPuts.Load(),
		SkipCount: poolSkips.Load(),
	}
}

func getFileInfoSlice() *[]FileInfo {
	poolGets.Add(1)
	slice := fileInfoPool.Get().(*[]FileInfo)
	*slice = (*slice)[:0]
	return slice
}

func putFileInfoSlice(slice *[]FileInfo) {
	if slice == nil || cap(*slice) > maxPoolCapacity {
		poolSkips.Add(1)
		return
	}
	poolPuts.Add(1)
	clear(*slice)
	*slice = (*slice)[:0]
	fileInfoPool.Put(slice)
}
