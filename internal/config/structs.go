//nolint:lll
package config

// Config represents the complete configuration for the framescan application.
// It includes settings for all commands (video, frame, serve) and supports
// loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	ModelsDir string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Detector DetectorConfig `mapstructure:"detector" yaml:"detector" json:"detector"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Video    VideoConfig    `mapstructure:"video" yaml:"video" json:"video"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output" json:"output"`
	Batch    BatchConfig    `mapstructure:"batch" yaml:"batch" json:"batch"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	GPU GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// DetectorConfig contains text detection settings.
type DetectorConfig struct {
	ModelPath           string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	Variant             string  `mapstructure:"variant" yaml:"variant" json:"variant"`
	ConfidenceThreshold float32 `mapstructure:"confidence_threshold" yaml:"confidence_threshold" json:"confidence_threshold"`
	NMSThreshold        float64 `mapstructure:"nms_threshold" yaml:"nms_threshold" json:"nms_threshold"`
	// NMSScoreThreshold is the score bound applied during suppression; 0 reuses the confidence threshold.
	NMSScoreThreshold float32 `mapstructure:"nms_score_threshold" yaml:"nms_score_threshold" json:"nms_score_threshold"`
	NumThreads        int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`

	// Blob settings for the fixed-size (textboxes) variant
	InputWidth  int        `mapstructure:"input_width" yaml:"input_width" json:"input_width"`
	InputHeight int        `mapstructure:"input_height" yaml:"input_height" json:"input_height"`
	Mean        [3]float32 `mapstructure:"mean" yaml:"mean" json:"mean"`
	Scale       float32    `mapstructure:"scale" yaml:"scale" json:"scale"`
	SwapRB      bool       `mapstructure:"swap_rb" yaml:"swap_rb" json:"swap_rb"`

	// Output tensor names for the east variant; empty picks by channel count
	ScoreOutput    string `mapstructure:"score_output" yaml:"score_output" json:"score_output"`
	GeometryOutput string `mapstructure:"geometry_output" yaml:"geometry_output" json:"geometry_output"`

	WarmupIterations int `mapstructure:"warmup_iterations" yaml:"warmup_iterations" json:"warmup_iterations"`
}

// PipelineConfig contains frame loop settings.
type PipelineConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold" json:"similarity_threshold"`
	DrawOverlay         bool    `mapstructure:"draw_overlay" yaml:"draw_overlay" json:"draw_overlay"`
	OverlayColor        string  `mapstructure:"overlay_color" yaml:"overlay_color" json:"overlay_color"`
	OverlayThickness    int     `mapstructure:"overlay_thickness" yaml:"overlay_thickness" json:"overlay_thickness"`
	// EventBuffer is the channel size given to each event subscriber.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer" json:"event_buffer"`
}

// VideoConfig locates the ffmpeg tools and sets the image sequence frame rate.
type VideoConfig struct {
	FFmpegPath  string  `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath string  `mapstructure:"ffprobe_path" yaml:"ffprobe_path" json:"ffprobe_path"`
	SequenceFPS float64 `mapstructure:"sequence_fps" yaml:"sequence_fps" json:"sequence_fps"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	// Dir receives annotated detection frames when set.
	Dir string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

// BatchConfig controls how the frame command expands and parallelises its
// arguments.
type BatchConfig struct {
	Workers   int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive bool     `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	Include   []string `mapstructure:"include" yaml:"include" json:"include"`
	Exclude   []string `mapstructure:"exclude" yaml:"exclude" json:"exclude"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Video jobs: paths are confined to MediaDir; finished jobs are kept
	// for JobTTLSec seconds, at most MaxFinishedJobs of them (0 = no limit).
	MediaDir        string `mapstructure:"media_dir" yaml:"media_dir" json:"media_dir"`
	JobTTLSec       int    `mapstructure:"job_ttl_sec" yaml:"job_ttl_sec" json:"job_ttl_sec"`
	MaxFinishedJobs int    `mapstructure:"max_finished_jobs" yaml:"max_finished_jobs" json:"max_finished_jobs"`

	// Per-client limits on the upload endpoints
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// GPUConfig contains GPU acceleration settings.
type GPUConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device      int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit string `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"`
}
