// Package mempool keeps sized buffers for the per-frame hot path: decoded
// video frames and blob tensors are the same size frame after frame.
package mempool

import (
	"sync"
)

const classStep = 1024

// sizeClass rounds n up to the next multiple of classStep (minimum one step).
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

// slicePool is a set of sync.Pools keyed by size class.
type slicePool[T any] struct {
	pools sync.Map // size class -> *sync.Pool
}

func (sp *slicePool[T]) pool(cls int) *sync.Pool {
	if p, ok := sp.pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := sp.pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

func (sp *slicePool[T]) get(n int) []T {
	if n <= 0 {
		return nil
	}
	cls := sizeClass(n)
	bufPtr, ok := sp.pool(cls).Get().(*[]T)
	if !ok || cap(*bufPtr) < cls {
		buf := make([]T, cls)
		return buf[:n]
	}
	return (*bufPtr)[:n]
}

func (sp *slicePool[T]) put(buf []T) {
	if cap(buf) < classStep {
		return
	}
	// Store under the class the capacity fully covers so get never sees a short buffer.
	cls := cap(buf) / classStep * classStep
	full := buf[:cap(buf)]
	sp.pool(cls).Put(&full)
}

var (
	float32Pool slicePool[float32]
	bytePool    slicePool[byte]
)

// GetFloat32 returns a []float32 of length n. Contents are not zeroed.
// Return it with PutFloat32 once no tensor refers to it.
func GetFloat32(n int) []float32 { return float32Pool.get(n) }

// PutFloat32 returns a buffer to the pool. Nil is ignored.
func PutFloat32(buf []float32) { float32Pool.put(buf) }

// GetBytes returns a []byte of length n. Contents are not zeroed.
func GetBytes(n int) []byte { return bytePool.get(n) }

// PutBytes returns a buffer to the pool. Nil is ignored.
func PutBytes(buf []byte) { bytePool.put(buf) }
