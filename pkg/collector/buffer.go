package collector

import (
	"sync"

	"github.com/nergy-se/curvecontrol/pkg/backend"
)

// Buffer holds readings not yet uploaded. It is unbounded.
type Buffer struct {
	readings []backend.Reading
	mutex    sync.Mutex
}

func (b *Buffer) Append(r backend.Reading) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.readings = append(b.readings, r)
	return len(b.readings)
}

// Snapshot returns a copy of the pending readings.
func (b *Buffer) Snapshot() []backend.Reading {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	out := make([]backend.Reading, len(b.readings))
	copy(out, b.readings)
	return out
}

// Drop removes the n oldest readings. Readings appended after a Snapshot are kept.
func (b *Buffer) Drop(n int) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if n > len(b.readings) {
		n = len(b.readings)
	}
	b.readings = append([]backend.Reading(nil), b.readings[n:]...)
	return len(b.readings)
}

func (b *Buffer) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.readings)
}
