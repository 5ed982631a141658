package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig  BasicConfig               `json:"basic_config"`
	Model        ModelConfig               `json:"model"`
	OCR          OCRConfig                 `json:"ocr"`
	SessionStore string                    `json:"session_store"`
	Databases    map[string]DatabaseConfig `json:"databases"`
	Redis        RedisConfig               `json:"redis"`
	Log          LogConfig                 `json:"log"`
	Tracing      TracingConfig             `json:"tracing"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	FileBaseDir   string `json:"file_base_dir"`
	// MaxUploadMB caps the multipart body accepted by the upload endpoint.
	MaxUploadMB int `json:"max_upload_mb"`
	// PipelineTimeout bounds one upload (extract + three model calls), in seconds.
	PipelineTimeout int `json:"pipeline_timeout"`
	// SessionTTL is how long a document session lives after upload, in minutes.
	SessionTTL int `json:"session_ttl"`
	// CleanInterval is how often expired sessions are swept, in minutes.
	CleanInterval     int `json:"clean_interval"`
	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout"`
}

type ModelConfig struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base_url"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	// MaxAttempts counts the first call; 3 means two retries on rate limiting.
	MaxAttempts int `json:"max_attempts"`
	// BackoffBase is the first retry delay in milliseconds; later delays double.
	BackoffBase int `json:"backoff_base"`
	// HTTPTimeout is the per-request client timeout in seconds, 0 keeps the client default.
	HTTPTimeout int `json:"http_timeout"`
}

type OCRConfig struct {
	Tesseract     string `json:"tesseract"`
	Pdftotext     string `json:"pdftotext"`
	Pdftoppm      string `json:"pdftoppm"`
	Lang          string `json:"lang"`
	DPI           int    `json:"dpi"`
	MaxPages      int    `json:"max_pages"`
	ScannedPDFOCR bool   `json:"scanned_pdf_ocr"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type LogConfig struct {
	Level      string `json:"level"`
	FilePath   string `json:"file_path"`
	Production bool   `json:"production"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	ServiceName string `json:"service_name"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file is not an error: defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()

	for name, db := range cfg.Databases {
		if db.DSN != "" && isSQLite(name) && !filepath.IsAbs(db.DSN) && !strings.HasPrefix(db.DSN, "file:") && db.DSN != ":memory:" {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("TESSERACT_PATH"); v != "" {
		c.OCR.Tesseract = v
	}
	if v := os.Getenv("LEXBRIEF_ADDR"); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("LEXBRIEF_SESSION_STORE"); v != "" {
		c.SessionStore = v
	}
	if v := os.Getenv("LEXBRIEF_MODEL_PROVIDER"); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":5000"
	}
	if b.FileBaseDir == "" {
		b.FileBaseDir = "./data/uploads"
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 16
	}
	if b.PipelineTimeout <= 0 {
		b.PipelineTimeout = 180
	}
	if b.SessionTTL <= 0 {
		b.SessionTTL = 24 * 60
	}
	if b.CleanInterval <= 0 {
		b.CleanInterval = 60
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 8
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if c.Model.Provider == "" {
		c.Model.Provider = "gemini"
	}
	if c.Model.MaxAttempts <= 0 {
		c.Model.MaxAttempts = 3
	}
	if c.Model.BackoffBase <= 0 {
		c.Model.BackoffBase = 1000
	}
	if c.SessionStore == "" {
		c.SessionStore = "memory"
	}
	if c.OCR.Lang == "" {
		c.OCR.Lang = "eng"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "lexbrief"
	}
}

func isSQLite(name string) bool {
	name = strings.ToLower(name)
	return name == "sqlite" || name == "sqlite3"
}
