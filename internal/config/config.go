package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all hearth configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Data       DataConfig       `yaml:"data"`
	Intake     IntakeConfig     `yaml:"intake"`
	Graph      GraphConfig      `yaml:"graph"`
	Habitus    HabitusConfig    `yaml:"habitus"`
	Mood       MoodConfig       `yaml:"mood"`
	Candidates CandidatesConfig `yaml:"candidates"`
	Engine     EngineConfig     `yaml:"engine"`
}

type ServerConfig struct {
	Bind  string `yaml:"bind"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"` // bearer token; HEARTH_TOKEN overrides
}

type DataConfig struct {
	Dir string `yaml:"dir"` // resolved at runtime via store.DefaultDataDir when empty
}

type IntakeConfig struct {
	AllowedPrefixes []string      `yaml:"allowed_prefixes"` // source_ref domains accepted by the allowlist
	RedactKeys      []string      `yaml:"redact_keys"`
	MaxAttrBytes    int           `yaml:"max_attr_bytes"`  // per attribute value
	MaxEventBytes   int           `yaml:"max_event_bytes"` // total attribute payload
	DedupeTTL       time.Duration `yaml:"dedupe_ttl"`
	DedupeCapacity  int           `yaml:"dedupe_capacity"`
	RingCapacity    int           `yaml:"ring_capacity"`
	Retention       time.Duration `yaml:"retention"`
	MaxClockSkew    time.Duration `yaml:"max_clock_skew"`
}

type GraphConfig struct {
	NodeHalfLife    time.Duration `yaml:"node_half_life"`
	EdgeHalfLife    time.Duration `yaml:"edge_half_life"`
	MaxNodes        int           `yaml:"max_nodes"`
	MaxEdges        int           `yaml:"max_edges"`
	ScoreCeiling    float64       `yaml:"score_ceiling"`
	TouchDelta      float64       `yaml:"touch_delta"`
	EndpointScore   float64       `yaml:"endpoint_score"` // auto-created edge endpoints
	MaxHops         int           `yaml:"max_hops"`
	MaxNeighborhood int           `yaml:"max_neighborhood"`
	CoOccurLimit    int           `yaml:"co_occur_limit"` // observed_with edges per ingest batch
}

type HabitusConfig struct {
	Window        time.Duration `yaml:"window"`
	AdjacencyGap  time.Duration `yaml:"adjacency_gap"`
	MinSupport    float64       `yaml:"min_support"`
	MinConfidence float64       `yaml:"min_confidence"`
	MaxEvents     int           `yaml:"max_events"` // scan cap per pass
}

type MoodConfig struct {
	Alpha       float64       `yaml:"alpha"`
	Dwell       time.Duration `yaml:"dwell"`
	HistorySize int           `yaml:"history_size"`
}

type CandidatesConfig struct {
	OfferThreshold  float64       `yaml:"offer_threshold"`
	OfferTTL        time.Duration `yaml:"offer_ttl"`
	AcceptBoost     float64       `yaml:"accept_boost"`
	DismissDamp     float64       `yaml:"dismiss_damp"`
	SuppressAfter   int           `yaml:"suppress_after"` // dismissals of one shape
	SuppressFor     time.Duration `yaml:"suppress_for"`
	ListLimit       int           `yaml:"list_limit"`
	WeightCeiling   float64       `yaml:"weight_ceiling"`
	WeightFloor     float64       `yaml:"weight_floor"`
}

type EngineConfig struct {
	JanitorInterval time.Duration `yaml:"janitor_interval"` // decay + prune + retention
	MineInterval    time.Duration `yaml:"mine_interval"`
	SweepInterval   time.Duration `yaml:"sweep_interval"` // candidate offer/expire
	MoodInterval    time.Duration `yaml:"mood_interval"`
}

// Default returns a Config with the pipeline's default tuning. Every value
// here is overridable via the YAML config file.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 8099,
		},
		Intake: IntakeConfig{
			AllowedPrefixes: []string{
				"light", "switch", "sensor", "binary_sensor", "climate",
				"media_player", "person", "cover", "lock", "zone", "intent",
			},
			RedactKeys:     []string{"latitude", "longitude", "gps", "address", "owner", "email"},
			MaxAttrBytes:   512,
			MaxEventBytes:  4096,
			DedupeTTL:      10 * time.Minute,
			DedupeCapacity: 4096,
			RingCapacity:   2048,
			Retention:      14 * 24 * time.Hour,
			MaxClockSkew:   24 * time.Hour,
		},
		Graph: GraphConfig{
			NodeHalfLife:    24 * time.Hour,
			EdgeHalfLife:    12 * time.Hour,
			MaxNodes:        500,
			MaxEdges:        1500,
			ScoreCeiling:    5.0,
			TouchDelta:      1.0,
			EndpointScore:   0.25,
			MaxHops:         3,
			MaxNeighborhood: 100,
			CoOccurLimit:    16,
		},
		Habitus: HabitusConfig{
			Window:        24 * time.Hour,
			AdjacencyGap:  5 * time.Minute,
			MinSupport:    0.05,
			MinConfidence: 0.4,
			MaxEvents:     10000,
		},
		Mood: MoodConfig{
			Alpha:       0.3,
			Dwell:       10 * time.Minute,
			HistorySize: 96,
		},
		Candidates: CandidatesConfig{
			OfferThreshold: 0.7,
			OfferTTL:       72 * time.Hour,
			AcceptBoost:    1.25,
			DismissDamp:    0.8,
			SuppressAfter:  3,
			SuppressFor:    7 * 24 * time.Hour,
			ListLimit:      100,
			WeightCeiling:  3.0,
			WeightFloor:    0.1,
		},
		Engine: EngineConfig{
			JanitorInterval: 5 * time.Minute,
			MineInterval:    30 * time.Minute,
			SweepInterval:   5 * time.Minute,
			MoodInterval:    time.Minute,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. A missing file is not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if tok := os.Getenv("HEARTH_TOKEN"); tok != "" {
		cfg.Server.Token = tok
	}
	if dir := os.Getenv("HEARTH_DATA_DIR"); dir != "" {
		cfg.Data.Dir = dir
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
