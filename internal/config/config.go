// Package config provides configuration helpers for the camel beauty commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default service configuration.
const (
	DefaultPort              = "5000"
	DefaultBodyModelPath     = "models/body/best.onnx"
	DefaultFaceModelPath     = "models/face/best.onnx"
	DefaultBodyEncoderPath   = "models/scorer/body_encoder.onnx"
	DefaultFaceEncoderPath   = "models/scorer/face_encoder.onnx"
	DefaultScorerWeightsPath = "models/scorer/head.safetensors"
	DefaultTopK              = 10
	DefaultWorkers           = 1
	DefaultMaxUploadMB       = 32
	DefaultLogLevel          = "info"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Port string

	// Model files
	BodyModelPath     string
	FaceModelPath     string
	BodyEncoderPath   string
	FaceEncoderPath   string
	ScorerWeightsPath string

	// Scoring
	TopK    int
	Workers int

	MaxUploadMB int
	LogLevel    string
}

// Load reads the configuration from environment variables,
// falling back to defaults for anything unset or malformed.
func Load() Config {
	return Config{
		Port:              getEnv("PORT", DefaultPort),
		BodyModelPath:     getEnv("BODY_MODEL_PATH", DefaultBodyModelPath),
		FaceModelPath:     getEnv("FACE_MODEL_PATH", DefaultFaceModelPath),
		BodyEncoderPath:   getEnv("BODY_ENCODER_PATH", DefaultBodyEncoderPath),
		FaceEncoderPath:   getEnv("FACE_ENCODER_PATH", DefaultFaceEncoderPath),
		ScorerWeightsPath: getEnv("SCORER_WEIGHTS_PATH", DefaultScorerWeightsPath),
		TopK:              getEnvInt("TOP_K", DefaultTopK),
		Workers:           getEnvInt("WORKERS", DefaultWorkers),
		MaxUploadMB:       getEnvInt("MAX_UPLOAD_MB", DefaultMaxUploadMB),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
	}
}

// ModelPaths returns the model files keyed the way the HTTP API reports them.
func (c Config) ModelPaths() map[string]string {
	return map[string]string{
		"body_model":   c.BodyModelPath,
		"face_model":   c.FaceModelPath,
		"body_encoder": c.BodyEncoderPath,
		"face_encoder": c.FaceEncoderPath,
		"scorer_model": c.ScorerWeightsPath,
	}
}

// Validate checks that the numeric settings are usable.
func (c Config) Validate() error {
	var errs []error
	if c.TopK < 1 {
		errs = append(errs, fmt.Errorf("config: TOP_K must be >= 1, got %d", c.TopK))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("config: WORKERS must be >= 1, got %d", c.Workers))
	}
	if c.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("config: MAX_UPLOAD_MB must be >= 1, got %d", c.MaxUploadMB))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("config: PORT is empty"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
