package fileserver

import "sync"

// chunkSize bounds how much of a file is held in memory at once while
// streaming an uncompressed response, per spec.md §4.3 step 7 ("never load
// >N bytes into memory at once").
const chunkSize = 32 * 1024

// bufferPool is a sync.Pool of reusable chunk-sized byte slices, adapted
// from original_source/src/buffer_pool.rs's BufferPool/StaticBufPool (a
// pop/push free-list of pre-allocated buffers) into the idiomatic Go
// equivalent: sync.Pool handles the pooling and GC interaction that the
// original's explicit Vec free-list manages by hand.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkSize)
		return &b
	},
}

func getChunk() []byte {
	return *(bufferPool.Get().(*[]byte))
}

func putChunk(b []byte) {
	bufferPool.Put(&b)
}
