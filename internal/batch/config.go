package batch

import "runtime"

// Config controls image discovery and parallelism.
type Config struct {
	// Workers is the number of images processed at once; <= 0 means one
	// per CPU.
	Workers int

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
