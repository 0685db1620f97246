package onnx

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig holds configuration for CUDA acceleration.
type GPUConfig struct {
	UseGPU      bool   // Enable GPU acceleration
	DeviceID    int    // CUDA device ID
	GPUMemLimit uint64 // GPU memory limit in bytes (0 = unlimited)
}

// DefaultGPUConfig returns a CPU-only configuration.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{}
}

// Validate checks the GPU configuration.
func (c GPUConfig) Validate() error {
	if c.UseGPU && c.DeviceID < 0 {
		return fmt.Errorf("device ID must be non-negative, got %d", c.DeviceID)
	}
	return nil
}

// ConfigureSessionForGPU appends the CUDA execution provider when requested.
// Any failure falls back to CPU execution and is only logged.
func ConfigureSessionForGPU(sessionOptions *onnxruntime_go.SessionOptions, gpu GPUConfig) {
	if !gpu.UseGPU {
		return
	}
	if err := appendCUDA(sessionOptions, gpu); err != nil {
		slog.Warn("GPU acceleration unavailable, using CPU", "device_id", gpu.DeviceID, "error", err)
	}
}

func appendCUDA(sessionOptions *onnxruntime_go.SessionOptions, gpu GPUConfig) error {
	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("failed to create CUDA provider options: %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Debug("Failed to destroy CUDA provider options", "error", err)
		}
	}()

	settings := map[string]string{"device_id": strconv.Itoa(gpu.DeviceID)}
	if gpu.GPUMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(gpu.GPUMemLimit, 10)
	}
	if err := cudaOpts.Update(settings); err != nil {
		return fmt.Errorf("failed to update CUDA provider options: %w", err)
	}
	if err := sessionOptions.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("failed to append CUDA execution provider: %w", err)
	}
	return nil
}
