package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed cameras.yaml
var defaultCamerasYAML []byte

type Config struct {
	Database   DatabaseConfig
	Analyzer   AnalyzerConfig
	Tracking   TrackingConfig
	Attendance AttendanceConfig
	Metrics    MetricsConfig
	Log        LogConfig
	Status     StatusConfig
	Cameras    []CameraConfig
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the identity index (optional, if empty index is rebuilt on startup)
}

type AnalyzerConfig struct {
	URL      string // defaults to http://localhost:8000
	Model    string
	MaxWidth int // frames wider than this are downscaled before analysis (default 960)
}

// TrackingConfig holds the thresholds and cadences of the tracking pipeline.
type TrackingConfig struct {
	MatchThreshold     float64       // base similarity threshold (default 0.6)
	QualityThreshold   float64       // quality gate admission threshold (default 0.65)
	MinFacePx          int           // minimum face width/height in pixels (default 50)
	TopK               int           // index candidates per query (default 3)
	UpdateThreshold    float64       // similarity above which a sighting is ingested (default 0.8)
	UpdateCooldown     time.Duration // per-identity ingest cooldown (default 10s)
	RebuildAfter       int           // incremental updates before a full rebuild (default 20)
	KeepUpdates        int           // update embeddings kept per identity on cleanup (default 15)
	VoteWindow         int           // temporal smoothing window size (default 5)
	VoteGap            time.Duration // gap that resets the smoothing window (default 2s)
	CrossingStaleAfter time.Duration // crossing state expiry (default 10s)
	TrackTimeout       time.Duration // idle time before a track leaves the live view (default 300s)
	ReloadInterval     time.Duration // storage reload cadence (default 300s)
	StatsInterval      time.Duration // statistics loop cadence (default 5s)
}

type AttendanceConfig struct {
	APIURL           string
	TokenURL         string
	ClientID         string
	ClientSecret     string
	RefreshToken     string
	AccessToken      string
	FallbackPath     string        // JSONL fallback log (default attendance_fallback.jsonl)
	AuditCSVPath     string        // optional CSV audit trail
	CheckoutLookback time.Duration // check-out requires a check-in within this window (default 10h)
	EventDebounce    time.Duration // same-type events per identity across cameras (default 5s, 0 disables)
	SweepInterval    time.Duration // fallback redelivery cadence (default 60s)
	RatePerSecond    float64       // outbound request pacing (default 5)
}

type MetricsConfig struct {
	StatsdAddr string // empty disables statsd
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type StatusConfig struct {
	Host           string
	Port           int      // 0 disables the status server
	AllowedOrigins []string // CORS origins besides localhost
}

// CameraConfig describes one camera and the boundary lines drawn on its frame.
type CameraConfig struct {
	ID               string           `yaml:"id"`
	Source           string           `yaml:"source"`
	Role             string           `yaml:"role"`
	ExecutionContext string           `yaml:"execution_context"`
	FPS              int              `yaml:"fps"`
	Tripwires        []TripwireConfig `yaml:"tripwires"`
}

type TripwireConfig struct {
	Name     string  `yaml:"name"`
	Axis     string  `yaml:"axis"`     // vertical or horizontal
	Position float64 `yaml:"position"` // fraction of frame width (vertical) or height (horizontal)
	Spacing  float64 `yaml:"spacing"`  // dead-band width as a fraction
}

type camerasFile struct {
	Cameras []CameraConfig `yaml:"cameras"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envIntAllowZero is envInt that also accepts 0, used for "0 disables" settings.
func envIntAllowZero(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go duration strings ("90s", "10h"); "0" is allowed.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return defaultVal
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() (*Config, error) {
	cameras, err := loadCameras(os.Getenv("CAMERAS_CONFIG"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Analyzer: AnalyzerConfig{
			URL:      envString("ANALYZER_URL", "http://localhost:8000"),
			Model:    os.Getenv("ANALYZER_MODEL"),
			MaxWidth: envInt("ANALYZER_MAX_WIDTH", 960),
		},
		Tracking: TrackingConfig{
			MatchThreshold:     envFloat("MATCH_THRESHOLD", 0.6),
			QualityThreshold:   envFloat("QUALITY_THRESHOLD", 0.65),
			MinFacePx:          envInt("MIN_FACE_PX", 50),
			TopK:               envInt("MATCH_TOP_K", 3),
			UpdateThreshold:    envFloat("UPDATE_THRESHOLD", 0.8),
			UpdateCooldown:     envDuration("UPDATE_COOLDOWN", 10*time.Second),
			RebuildAfter:       envInt("REBUILD_AFTER", 20),
			KeepUpdates:        envInt("KEEP_UPDATE_EMBEDDINGS", 15),
			VoteWindow:         envInt("VOTE_WINDOW", 5),
			VoteGap:            envDuration("VOTE_GAP", 2*time.Second),
			CrossingStaleAfter: envDuration("CROSSING_STALE_AFTER", 10*time.Second),
			TrackTimeout:       envDuration("TRACK_TIMEOUT", 300*time.Second),
			ReloadInterval:     envDuration("RELOAD_INTERVAL", 300*time.Second),
			StatsInterval:      envDuration("STATS_INTERVAL", 5*time.Second),
		},
		Attendance: AttendanceConfig{
			APIURL:           os.Getenv("ATTENDANCE_API_URL"),
			TokenURL:         os.Getenv("ATTENDANCE_TOKEN_URL"),
			ClientID:         os.Getenv("ATTENDANCE_CLIENT_ID"),
			ClientSecret:     os.Getenv("ATTENDANCE_CLIENT_SECRET"),
			RefreshToken:     os.Getenv("ATTENDANCE_REFRESH_TOKEN"),
			AccessToken:      os.Getenv("ATTENDANCE_ACCESS_TOKEN"),
			FallbackPath:     envString("ATTENDANCE_FALLBACK_PATH", "attendance_fallback.jsonl"),
			AuditCSVPath:     os.Getenv("ATTENDANCE_AUDIT_CSV"),
			CheckoutLookback: envDuration("CHECKOUT_LOOKBACK", 10*time.Hour),
			EventDebounce:    envDuration("EVENT_DEBOUNCE", 5*time.Second),
			SweepInterval:    envDuration("FALLBACK_SWEEP_INTERVAL", 60*time.Second),
			RatePerSecond:    envFloat("ATTENDANCE_RATE", 5),
		},
		Metrics: MetricsConfig{
			StatsdAddr: os.Getenv("STATSD_ADDR"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Pretty: envBool("LOG_PRETTY"),
		},
		Status: StatusConfig{
			Host:           envString("STATUS_HOST", "0.0.0.0"),
			Port:           envIntAllowZero("STATUS_PORT", 0),
			AllowedOrigins: envList("STATUS_ALLOWED_ORIGINS"),
		},
		Cameras: cameras,
	}, nil
}

// loadCameras reads the camera topology from path, or from the embedded default when path is empty.
func loadCameras(path string) ([]CameraConfig, error) {
	data := defaultCamerasYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading camera config: %w", err)
		}
	}
	return ParseCameras(data)
}

// ParseCameras decodes and validates a camera topology document.
func ParseCameras(data []byte) ([]CameraConfig, error) {
	var f camerasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing camera config: %w", err)
	}

	seen := make(map[string]bool, len(f.Cameras))
	for i := range f.Cameras {
		cam := &f.Cameras[i]
		if cam.ID == "" {
			return nil, fmt.Errorf("camera %d: missing id", i)
		}
		if seen[cam.ID] {
			return nil, fmt.Errorf("camera %s: duplicate id", cam.ID)
		}
		seen[cam.ID] = true

		cam.Role = strings.ToLower(cam.Role)
		if cam.Role != "entry" && cam.Role != "exit" {
			return nil, fmt.Errorf("camera %s: role must be entry or exit, got %q", cam.ID, cam.Role)
		}
		if cam.FPS <= 0 {
			cam.FPS = 15
		}
		if cam.ExecutionContext == "" {
			cam.ExecutionContext = "default"
		}
		for j := range cam.Tripwires {
			tw := &cam.Tripwires[j]
			tw.Axis = strings.ToLower(tw.Axis)
			if tw.Axis != "vertical" && tw.Axis != "horizontal" {
				return nil, fmt.Errorf("camera %s tripwire %s: axis must be vertical or horizontal", cam.ID, tw.Name)
			}
			if tw.Position <= 0 || tw.Position >= 1 {
				return nil, fmt.Errorf("camera %s tripwire %s: position must be within (0, 1)", cam.ID, tw.Name)
			}
			if tw.Spacing < 0 || tw.Spacing >= 1 {
				return nil, fmt.Errorf("camera %s tripwire %s: spacing must be within [0, 1)", cam.ID, tw.Name)
			}
		}
	}
	return f.Cameras, nil
}
