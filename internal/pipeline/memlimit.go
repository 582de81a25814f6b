package pipeline

import "runtime"

// DefaultMemoryPressurePercent is a fraction of total RAM for the renderer
// pool and sort buffers. Nothing in the engine reads it: the sorter's
// budget is the fixed total the engine passes to chunkBytesForThreads.
const DefaultMemoryPressurePercent = 0.75

// chunkBytesForThreads divides a total memory budget evenly across the
// configured worker count, the unit featuresort.New expects. It does not
// probe system RAM itself — callers size totalBudget themselves and pass
// it through.
func chunkBytesForThreads(totalBudget int64, threads int) int {
	if threads < 1 {
		threads = runtime.NumCPU()
	}
	chunk := totalBudget / int64(threads)
	if chunk < 1<<20 {
		chunk = 1 << 20 // 1 MiB floor so extsort always has a usable chunk size
	}
	return int(chunk)
}
