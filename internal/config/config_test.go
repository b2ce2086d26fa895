package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "BODY_MODEL_PATH", "TOP_K", "WORKERS", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %q, want %q", cfg.Port, DefaultPort)
	}
	if cfg.BodyModelPath != DefaultBodyModelPath {
		t.Errorf("BodyModelPath = %q, want %q", cfg.BodyModelPath, DefaultBodyModelPath)
	}
	if cfg.TopK != DefaultTopK {
		t.Errorf("TopK = %d, want %d", cfg.TopK, DefaultTopK)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("TOP_K", "3")
	t.Setenv("WORKERS", "4")
	t.Setenv("FACE_MODEL_PATH", "/srv/face.onnx")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.TopK != 3 {
		t.Errorf("TopK = %d, want 3", cfg.TopK)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if got := cfg.ModelPaths()["face_model"]; got != "/srv/face.onnx" {
		t.Errorf("face_model = %q", got)
	}
}

func TestLoadMalformedIntFallsBack(t *testing.T) {
	t.Setenv("TOP_K", "three")
	if got := Load().TopK; got != DefaultTopK {
		t.Errorf("TopK = %d, want default %d", got, DefaultTopK)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"zero top k", func(c *Config) { c.TopK = 0 }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"zero upload", func(c *Config) { c.MaxUploadMB = 0 }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Port: "1", TopK: 1, Workers: 1, MaxUploadMB: 1}
			tc.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
