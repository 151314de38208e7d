package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds station-side configuration, loaded from the
// environment with optional .env overrides.
type Config struct {
	HTTPPort    string
	MetricsPort string
	CORSOrigins string
	LogLevel    string

	// AdminKeyHash is the bcrypt hash viewers-management and
	// recording endpoints are guarded with. Empty disables the
	// guard (development mode).
	AdminKeyHash string

	StreamFPS    int
	ScenarioPath string
	Seed         int64
	FrameWidth   int
	FrameHeight  int
	JPEGQuality  int
	MaxViewers   int

	RecordDir string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
}

// StreamInterval returns the frame pacing interval derived from
// StreamFPS.
func (c *Config) StreamInterval() time.Duration {
	fps := c.StreamFPS
	if fps <= 0 {
		fps = 15
	}
	return time.Second / time.Duration(fps)
}

// MQTTEnabled reports whether alert publishing is configured.
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

// Load reads configuration from the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		HTTPPort:     getEnv("STATION_HTTP_PORT", "8000"),
		MetricsPort:  getEnv("STATION_METRICS_PORT", "9092"),
		CORSOrigins:  getEnv("STATION_CORS_ORIGINS", "*"),
		LogLevel:     getEnv("STATION_LOG_LEVEL", "info"),
		AdminKeyHash: getEnv("STATION_ADMIN_KEY_HASH", ""),
		StreamFPS:    getEnvInt("STATION_STREAM_FPS", 15),
		ScenarioPath: getEnv("STATION_SCENARIO", ""),
		Seed:         getEnvInt64("STATION_SEED", 0),
		FrameWidth:   getEnvInt("STATION_FRAME_WIDTH", 640),
		FrameHeight:  getEnvInt("STATION_FRAME_HEIGHT", 360),
		JPEGQuality:  getEnvInt("STATION_JPEG_QUALITY", 70),
		MaxViewers:   getEnvInt("STATION_MAX_VIEWERS", 1),
		RecordDir:    getEnv("STATION_RECORD_DIR", "./recordings"),
		MQTTBroker:   getEnv("STATION_MQTT_BROKER", ""),
		MQTTTopic:    getEnv("STATION_MQTT_TOPIC", "deepwatch/alerts"),
		MQTTClientID: getEnv("STATION_MQTT_CLIENT_ID", "deepwatch-station"),
	}

	if cfg.AdminKeyHash == "" {
		log.Println("WARNING: STATION_ADMIN_KEY_HASH is not set, admin endpoints are unprotected")
	}
	if cfg.StreamFPS <= 0 {
		log.Println("WARNING: STATION_STREAM_FPS must be positive, using default: 15")
		cfg.StreamFPS = 15
	}

	return cfg
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.ParseInt(v, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}
