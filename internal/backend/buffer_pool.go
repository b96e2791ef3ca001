package backend

import (
	"bytes"
	"sync"
)

// bodyPool reuses request body buffers across concurrent Submit calls
var bodyPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

func getBuffer() *bytes.Buffer {
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer returns small buffers to the pool; oversized ones are left to the GC
func putBuffer(buf *bytes.Buffer) {
	const maxBufferSize = 64 * 1024
	if buf.Cap() <= maxBufferSize {
		bodyPool.Put(buf)
	}
}
