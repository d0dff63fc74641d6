// Package config provides preset loading, per-instance overrides and validation
// for the fluid solver.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalidPreset is returned (wrapped) for configuration that must be rejected
// before the solve loop runs.
var ErrInvalidPreset = errors.New("invalid preset")

// Config holds all solver configuration parameters.
type Config struct {
	Fluid         Preset              `yaml:"fluid"`
	Solver        SolverConfig        `yaml:"solver"`
	Collision     CollisionConfig     `yaml:"collision"`
	Adhesion      AdhesionConfig      `yaml:"adhesion"`
	StackPressure StackPressureConfig `yaml:"stack_pressure"`
	Polygon       PolygonConfig       `yaml:"polygon"`
	Events        EventsConfig        `yaml:"events"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Sim           SimConfig           `yaml:"sim"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// Preset holds the per-fluid parameters a host supplies. Lengths are world units
// (centimetres with the default unit scale), densities kg/m^3.
type Preset struct {
	RestDensity      float64    `yaml:"rest_density"`
	SmoothingRadius  float64    `yaml:"smoothing_radius"`
	SpacingRatio     float64    `yaml:"spacing_ratio"` // rest spacing as a fraction of h, used to derive mass
	ParticleMass     float64    `yaml:"particle_mass"` // kg; 0 = derive from rest density and spacing
	ParticleRadius   float64    `yaml:"particle_radius"`
	Compliance       float64    `yaml:"compliance"`
	Viscosity        float64    `yaml:"viscosity"` // XSPH coefficient in [0, 1]
	Gravity          [3]float64 `yaml:"gravity"`   // world units / s^2
	AdhesionStrength float64    `yaml:"adhesion_strength"`
	Cohesion         float64    `yaml:"cohesion"`
	CollisionChannel uint32     `yaml:"collision_channel"`
	UnitScale        float64    `yaml:"unit_scale"` // metres per world unit
}

// PresetOverrides replaces individual preset fields for one simulation instance.
// Nil fields keep the preset value.
type PresetOverrides struct {
	RestDensity      *float64    `yaml:"rest_density,omitempty"`
	SmoothingRadius  *float64    `yaml:"smoothing_radius,omitempty"`
	ParticleMass     *float64    `yaml:"particle_mass,omitempty"`
	ParticleRadius   *float64    `yaml:"particle_radius,omitempty"`
	Compliance       *float64    `yaml:"compliance,omitempty"`
	Viscosity        *float64    `yaml:"viscosity,omitempty"`
	Gravity          *[3]float64 `yaml:"gravity,omitempty"`
	AdhesionStrength *float64    `yaml:"adhesion_strength,omitempty"`
	Cohesion         *float64    `yaml:"cohesion,omitempty"`
	CollisionChannel *uint32     `yaml:"collision_channel,omitempty"`
}

// SolverConfig holds XPBD iteration and scheduling parameters.
type SolverConfig struct {
	Iterations        int     `yaml:"iterations"`
	Substeps          int     `yaml:"substeps"`
	MaxNeighbors      int     `yaml:"max_neighbors"`
	MinDenominator    float64 `yaml:"min_denominator"` // clamp for the lambda denominator
	Relaxation        float64 `yaml:"relaxation"`      // CFM term added to the lambda denominator, 1/m^2
	ParallelThreshold int     `yaml:"parallel_threshold"`
	Workers           int     `yaml:"workers"` // 0 = GOMAXPROCS

	// Tensile instability correction (artificial pressure)
	TensileEnabled bool    `yaml:"tensile_enabled"`
	TensileK       float64 `yaml:"tensile_k"`
	TensileN       float64 `yaml:"tensile_n"`
	TensileDeltaQ  float64 `yaml:"tensile_delta_q"` // fraction of h
}

// CollisionConfig holds SDF collision response parameters.
type CollisionConfig struct {
	Margin            float64 `yaml:"margin"`
	Buffer            float64 `yaml:"buffer"`
	MaxCorrection     float64 `yaml:"max_correction"`
	MinBounceVelocity float64 `yaml:"min_bounce_velocity"`
	NearGroundCos     float64 `yaml:"near_ground_cos"` // contact normal . up above this marks near ground
}

// AdhesionConfig holds adhesion, cohesion and attachment state machine parameters.
// The margins are tuning values for the feel of the fluid, not physical constants.
type AdhesionConfig struct {
	Enabled                  bool    `yaml:"enabled"`
	AdhesionMargin           float64 `yaml:"adhesion_margin"`
	ContactOffsetRatio       float64 `yaml:"contact_offset_ratio"` // fraction of h added to the surface distance
	AttachMargin             float64 `yaml:"attach_margin"`
	MaintainMargin           float64 `yaml:"maintain_margin"`
	NearGroundMaintainMargin float64 `yaml:"near_ground_maintain_margin"`
	SwitchMargin             float64 `yaml:"switch_margin"`
	MinAttachStrength        float64 `yaml:"min_attach_strength"`
	SlideFactor              float64 `yaml:"slide_factor"` // tangential gravity kept by attached particles
	CohesionEnabled          bool    `yaml:"cohesion_enabled"`
}

// StackPressureConfig holds drip weight transfer parameters.
type StackPressureConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Scale         float64 `yaml:"scale"`
	MinTangential float64 `yaml:"min_tangential"` // world units / s^2
}

// PolygonConfig holds defaults for per-triangle collision against skinned meshes.
type PolygonConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Margin           float64 `yaml:"margin"`
	Buffer           float64 `yaml:"buffer"`
	Friction         float64 `yaml:"friction"`
	Restitution      float64 `yaml:"restitution"`
	AdhesionStrength float64 `yaml:"adhesion_strength"`
	AttachDistance   float64 `yaml:"attach_distance"`
}

// EventsConfig holds collision event rate limiting.
type EventsConfig struct {
	Enabled           bool    `yaml:"enabled"`
	VelocityThreshold float64 `yaml:"velocity_threshold"`
	ParticleCooldown  float64 `yaml:"particle_cooldown"` // seconds
	MaxPerFrame       int     `yaml:"max_per_frame"`
}

// TelemetryConfig holds diagnostics parameters.
type TelemetryConfig struct {
	PerfWindow int `yaml:"perf_window"`
	StatsEvery int `yaml:"stats_every"` // frames between FrameStats records
}

// SimConfig holds orchestrator parameters.
type SimConfig struct {
	FrameDT      float64 `yaml:"frame_dt"`
	MaxParticles int     `yaml:"max_particles"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	KernelRadius float64 // smoothing radius in metres
	ParticleMass float64 // effective mass in kg
	SubstepDT    float64 // Sim.FrameDT / Solver.Substeps
	Gravity      r3.Vec
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns the embedded defaults. Panics if they do not parse, which is
// a build defect.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// Parse is like Load but reads the user YAML from memory.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// Validate rejects configuration that cannot be simulated.
func (c *Config) Validate() error {
	if err := c.Fluid.Validate(); err != nil {
		return err
	}
	if c.Solver.Iterations < 1 {
		return fmt.Errorf("%w: solver.iterations must be >= 1, got %d", ErrInvalidPreset, c.Solver.Iterations)
	}
	if c.Solver.Substeps < 1 {
		return fmt.Errorf("%w: solver.substeps must be >= 1, got %d", ErrInvalidPreset, c.Solver.Substeps)
	}
	if c.Solver.MaxNeighbors < 1 {
		return fmt.Errorf("%w: solver.max_neighbors must be >= 1, got %d", ErrInvalidPreset, c.Solver.MaxNeighbors)
	}
	if !(c.Sim.FrameDT > 0) {
		return fmt.Errorf("%w: sim.frame_dt must be positive, got %g", ErrInvalidPreset, c.Sim.FrameDT)
	}
	if c.Solver.Relaxation < 0 {
		return fmt.Errorf("%w: solver.relaxation must be >= 0, got %g", ErrInvalidPreset, c.Solver.Relaxation)
	}
	if c.Sim.MaxParticles < 0 {
		return fmt.Errorf("%w: sim.max_particles must be >= 0, got %d", ErrInvalidPreset, c.Sim.MaxParticles)
	}
	if c.Collision.Margin < 0 || c.Collision.Buffer < 0 {
		return fmt.Errorf("%w: collision margin and buffer must be >= 0", ErrInvalidPreset)
	}
	return nil
}

// Validate rejects a preset with a missing or non-physical parameter.
func (p *Preset) Validate() error {
	switch {
	case !(p.SmoothingRadius > 0) || math.IsInf(p.SmoothingRadius, 0):
		return fmt.Errorf("%w: smoothing_radius must be positive, got %g", ErrInvalidPreset, p.SmoothingRadius)
	case !(p.RestDensity > 0) || math.IsInf(p.RestDensity, 0):
		return fmt.Errorf("%w: rest_density must be positive, got %g", ErrInvalidPreset, p.RestDensity)
	case !(p.UnitScale > 0):
		return fmt.Errorf("%w: unit_scale must be positive, got %g", ErrInvalidPreset, p.UnitScale)
	case p.ParticleRadius < 0:
		return fmt.Errorf("%w: particle_radius must be >= 0, got %g", ErrInvalidPreset, p.ParticleRadius)
	case p.ParticleMass < 0:
		return fmt.Errorf("%w: particle_mass must be >= 0, got %g", ErrInvalidPreset, p.ParticleMass)
	case p.ParticleMass == 0 && !(p.SpacingRatio > 0):
		return fmt.Errorf("%w: spacing_ratio must be positive when particle_mass is derived", ErrInvalidPreset)
	case p.Compliance < 0:
		return fmt.Errorf("%w: compliance must be >= 0, got %g", ErrInvalidPreset, p.Compliance)
	case p.Viscosity < 0 || p.Viscosity > 1:
		return fmt.Errorf("%w: viscosity must be in [0, 1], got %g", ErrInvalidPreset, p.Viscosity)
	case p.AdhesionStrength < 0 || p.Cohesion < 0:
		return fmt.Errorf("%w: adhesion and cohesion must be >= 0", ErrInvalidPreset)
	}
	return nil
}

// Mass returns the particle mass in kg, derived from the rest density and rest
// spacing when no explicit mass is set.
func (p *Preset) Mass() float64 {
	if p.ParticleMass > 0 {
		return p.ParticleMass
	}
	spacing := p.SpacingRatio * p.SmoothingRadius * p.UnitScale
	return p.RestDensity * spacing * spacing * spacing
}

// GravityVec returns gravity as a vector in world units / s^2.
func (p *Preset) GravityVec() r3.Vec {
	return r3.Vec{X: p.Gravity[0], Y: p.Gravity[1], Z: p.Gravity[2]}
}

// LoadOverrides reads per-instance preset overrides from a YAML file holding
// the fluid keys to replace. An empty path returns no overrides.
func LoadOverrides(path string) (PresetOverrides, error) {
	var o PresetOverrides
	if path == "" {
		return o, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("reading overrides file: %w", err)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parsing overrides file: %w", err)
	}
	return o, nil
}

// WithOverrides returns a copy of the preset with the non-nil overrides applied.
func (p Preset) WithOverrides(o PresetOverrides) Preset {
	if o.RestDensity != nil {
		p.RestDensity = *o.RestDensity
	}
	if o.SmoothingRadius != nil {
		p.SmoothingRadius = *o.SmoothingRadius
	}
	if o.ParticleMass != nil {
		p.ParticleMass = *o.ParticleMass
	}
	if o.ParticleRadius != nil {
		p.ParticleRadius = *o.ParticleRadius
	}
	if o.Compliance != nil {
		p.Compliance = *o.Compliance
	}
	if o.Viscosity != nil {
		p.Viscosity = *o.Viscosity
	}
	if o.Gravity != nil {
		p.Gravity = *o.Gravity
	}
	if o.AdhesionStrength != nil {
		p.AdhesionStrength = *o.AdhesionStrength
	}
	if o.Cohesion != nil {
		p.Cohesion = *o.Cohesion
	}
	if o.CollisionChannel != nil {
		p.CollisionChannel = *o.CollisionChannel
	}
	return p
}

// WithOverrides returns a copy of the configuration whose preset has the
// overrides applied, re-validated and re-derived.
func (c *Config) WithOverrides(o PresetOverrides) (*Config, error) {
	out := *c
	out.Fluid = c.Fluid.WithOverrides(o)
	if err := out.Validate(); err != nil {
		return nil, err
	}
	out.computeDerived()
	return &out, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.KernelRadius = c.Fluid.SmoothingRadius * c.Fluid.UnitScale
	c.Derived.ParticleMass = c.Fluid.Mass()
	c.Derived.SubstepDT = c.Sim.FrameDT / float64(c.Solver.Substeps)
	c.Derived.Gravity = c.Fluid.GravityVec()
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
