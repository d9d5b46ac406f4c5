// Copyright (C) 2024 The bfkernel authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package pipe runs the end-to-end kernel generation pipeline, spreading
// per-pair work across workers.
package pipe

import (
	"io"
	"runtime"

	"github.com/pbnjay/memory"
)

// An execution context for pipeline runs
type Context struct {
	Log          io.Writer
	MemoryMB     int // memory.TotalMemory()/1024/1024
	PairMemoryMB int // MemoryMB*7/10, budget for in-flight flat pairs
	MaxThreads   int `json:"maxThreads"`
}

func NewContext(log io.Writer) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	return &Context{
		Log:          log,
		MemoryMB:     memoryMB,
		PairMemoryMB: memoryMB * 7 / 10,
		MaxThreads:   runtime.GOMAXPROCS(0),
	}
}
