package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/masfro/masfro/pkg/geo"
)

// Config represents the engine configuration. It is immutable after
// process init; components receive it (or a sub-struct) at construction
// and never write back.
type Config struct {
	Framework    FrameworkConfig    `yaml:"framework"`
	Graph        GraphConfig        `yaml:"graph"`
	Risk         RiskConfig         `yaml:"risk"`
	Routing      RoutingConfig      `yaml:"routing"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Fetchers     FetchersConfig     `yaml:"fetchers"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Caches       CachesConfig       `yaml:"caches"`
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Database     DatabaseConfig     `yaml:"database"`
}

// FrameworkConfig contains general settings
type FrameworkConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LowRAM    bool   `yaml:"low_ram"`
}

// GraphConfig contains road-graph load settings
type GraphConfig struct {
	Path        string          `yaml:"path"`
	Waterways   string          `yaml:"waterways"`
	Gazetteer   string          `yaml:"gazetteer"`
	EvacCenters string          `yaml:"evacuation_centers"`
	BBox        geo.BoundingBox `yaml:"bbox"`
}

// RiskConfig contains hazard fusion weights and radii
type RiskConfig struct {
	WeightDepth           float64       `yaml:"weight_depth"`
	WeightCrowd           float64       `yaml:"weight_crowd"`
	WeightHistorical      float64       `yaml:"weight_historical"`
	RadiusM               float64       `yaml:"radius_m"`
	ReportRadiusM         float64       `yaml:"report_radius_m"`
	DecayHalfLifeScout    time.Duration `yaml:"decay_half_life_scout"`
	DecayHalfLifeStation  time.Duration `yaml:"decay_half_life_station"`
	SigmoidSteepness      float64       `yaml:"sigmoid_steepness"`
	SigmoidInflection     float64       `yaml:"sigmoid_inflection"`
	WaterwayDecayM        float64       `yaml:"waterway_decay_m"`
	ObservationDefaultTTL time.Duration `yaml:"observation_default_ttl"`
}

// RoutingConfig contains routing engine settings
type RoutingConfig struct {
	MaxSnapM         float64             `yaml:"max_snap_m"`
	ModePenalties    map[string]float64  `yaml:"mode_penalties"`
	MaxRiskThreshold float64             `yaml:"max_risk_threshold"`
	RequestDeadline  time.Duration       `yaml:"request_deadline"`
	EvacSelection    EvacSelectionConfig `yaml:"evac_selection"`
}

// EvacSelectionConfig weights the evacuation-center selection metric
type EvacSelectionConfig struct {
	RiskWeight     float64 `yaml:"risk_weight"`
	DistanceWeight float64 `yaml:"distance_weight"`
	MaxCandidates  int     `yaml:"max_candidates"`
}

// SchedulerConfig contains agent scheduler settings
type SchedulerConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	Disabled      bool          `yaml:"disabled"`
	IsolateAfter  int           `yaml:"isolate_after"`
	QueueCapacity int           `yaml:"queue_capacity"`
}

// FetchersConfig points the collection agent at its upstreams. An empty
// URL disables that source.
type FetchersConfig struct {
	StationURL       string        `yaml:"station_url"`
	WeatherURL       string        `yaml:"weather_url"`
	WeatherKey       string        `yaml:"weather_key"`
	DamURL           string        `yaml:"dam_url"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// OrchestratorConfig contains mission settings
type OrchestratorConfig struct {
	MaxConcurrentMissions int           `yaml:"max_concurrent_missions"`
	StepTimeout           time.Duration `yaml:"step_timeout"`
	MissionTTL            time.Duration `yaml:"mission_ttl"`
}

// CachesConfig bounds the fusion caches
type CachesConfig struct {
	StationMax int `yaml:"station_max"`
	ScoutMax   int `yaml:"scout_max"`
}

// ServerConfig contains HTTP surface settings
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LLMConfig contains the language-model adapter settings
type LLMConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TextModel   string `yaml:"text_model"`
	VisionModel string `yaml:"vision_model"`
	GoogleKey   string `yaml:"google_api_key"`
}

// DatabaseConfig points at the history/occupancy store
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Graph: GraphConfig{
			Path: "data/road_graph.json",
			// Marikina valley
			BBox: geo.BoundingBox{MinLat: 14.55, MaxLat: 14.75, MinLon: 121.05, MaxLon: 121.15},
		},
		Risk: RiskConfig{
			WeightDepth:           0.5,
			WeightCrowd:           0.3,
			WeightHistorical:      0.2,
			RadiusM:               800,
			ReportRadiusM:         200,
			DecayHalfLifeScout:    30 * time.Minute,
			DecayHalfLifeStation:  60 * time.Minute,
			SigmoidSteepness:      8.0,
			SigmoidInflection:     0.3,
			WaterwayDecayM:        200,
			ObservationDefaultTTL: time.Hour,
		},
		Routing: RoutingConfig{
			MaxSnapM: 500,
			ModePenalties: map[string]float64{
				"safest":   100000,
				"balanced": 2000,
				"fastest":  0,
			},
			MaxRiskThreshold: 0.95,
			RequestDeadline:  2 * time.Second,
			EvacSelection: EvacSelectionConfig{
				RiskWeight:     0.6,
				DistanceWeight: 0.4,
				MaxCandidates:  5,
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval:  time.Second,
			IsolateAfter:  5,
			QueueCapacity: 1024,
		},
		Fetchers: FetchersConfig{
			BreakerThreshold: 3,
			BreakerCooldown:  30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentMissions: 10,
			StepTimeout:           30 * time.Second,
			MissionTTL:            5 * time.Minute,
		},
		Caches: CachesConfig{
			StationMax: 100,
			ScoutMax:   1000,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		LLM: LLMConfig{
			Enabled:   false,
			TextModel: "gemini-2.0-flash",
		},
	}
}

// Load loads configuration from a YAML file, starting from defaults and
// finishing with environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies the recognized environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("WEATHER_API_KEY"); v != "" {
		c.Fetchers.WeatherKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.LLM.GoogleKey = v
	}
	if v := os.Getenv("LLM_ENABLED"); v != "" {
		c.LLM.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("LLM_TEXT_MODEL"); v != "" {
		c.LLM.TextModel = v
	}
	if v := os.Getenv("LLM_VISION_MODEL"); v != "" {
		c.LLM.VisionModel = v
	}
	if v := os.Getenv("MASFRO_LOW_RAM"); v != "" {
		c.Framework.LowRAM = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MASFRO_DISABLE_SCHEDULER"); v != "" {
		c.Scheduler.Disabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MASFRO_SCHEDULER_INTERVAL"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Scheduler.TickInterval = time.Duration(ms) * time.Millisecond
		} else if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Scheduler.TickInterval = d
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	sum := c.Risk.WeightDepth + c.Risk.WeightCrowd + c.Risk.WeightHistorical
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("risk weights must sum to 1, got %.3f", sum)
	}

	if c.Risk.RadiusM <= 0 {
		return fmt.Errorf("risk.radius_m must be positive")
	}

	if c.Routing.MaxSnapM <= 0 {
		return fmt.Errorf("routing.max_snap_m must be positive")
	}

	if c.Routing.MaxRiskThreshold <= 0 || c.Routing.MaxRiskThreshold > 1 {
		return fmt.Errorf("routing.max_risk_threshold must be in (0, 1]")
	}

	for _, mode := range []string{"safest", "balanced", "fastest"} {
		if _, ok := c.Routing.ModePenalties[mode]; !ok {
			return fmt.Errorf("routing.mode_penalties missing mode %q", mode)
		}
	}

	if c.Orchestrator.MaxConcurrentMissions < 1 {
		return fmt.Errorf("orchestrator.max_concurrent_missions must be at least 1")
	}

	if c.Caches.StationMax < 1 || c.Caches.ScoutMax < 1 {
		return fmt.Errorf("cache caps must be at least 1")
	}

	if c.Graph.BBox.MinLat >= c.Graph.BBox.MaxLat || c.Graph.BBox.MinLon >= c.Graph.BBox.MaxLon {
		return fmt.Errorf("graph.bbox is degenerate")
	}

	return nil
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
