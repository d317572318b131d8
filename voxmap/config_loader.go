package voxmap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the service configuration from a YAML file, fills in
// defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// DefaultConfig returns a configuration with default map parameters and no
// sensors, used when replaying without a config file.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	c.ApplyEnv()
	return c
}

// ParseConfig parses YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.ApplyDefaults()
	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults fills unset map parameters with the standard values.
func (c *Config) ApplyDefaults() {
	def := DefaultMapConfig()
	if c.Map.Resolution == 0 {
		c.Map.Resolution = def.Resolution
	}
	if c.Map.MaxKey == 0 {
		c.Map.MaxKey = def.MaxKey
	}
	if c.Map.HitLog == 0 {
		c.Map.HitLog = def.HitLog
	}
	if c.Map.MissLog == 0 {
		c.Map.MissLog = def.MissLog
	}
	if c.Map.ClampMinLog == 0 {
		c.Map.ClampMinLog = def.ClampMinLog
	}
	if c.Map.ClampMaxLog == 0 {
		c.Map.ClampMaxLog = def.ClampMaxLog
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = "frontiermap"
	}
}

// mqttEnv maps MQTT_* environment variables onto MQTTConfig fields.
var mqttEnv = []struct {
	name  string
	field func(*MQTTConfig) *string
}{
	{"MQTT_BROKER", func(m *MQTTConfig) *string { return &m.Broker }},
	{"MQTT_CLIENT_ID", func(m *MQTTConfig) *string { return &m.ClientID }},
	{"MQTT_USERNAME", func(m *MQTTConfig) *string { return &m.Username }},
	{"MQTT_PASSWORD", func(m *MQTTConfig) *string { return &m.Password }},
	{"MQTT_PUBLISH_PREFIX", func(m *MQTTConfig) *string { return &m.PublishPrefix }},
}

// overlayEnv replaces fields whose environment variable is set and non-empty.
func (m *MQTTConfig) overlayEnv() {
	for _, e := range mqttEnv {
		if v := os.Getenv(e.name); v != "" {
			*e.field(m) = v
		}
	}
}

// ApplyEnv overrides MQTT settings from MQTT_* environment variables.
func (c *Config) ApplyEnv() {
	c.MQTT.overlayEnv()
}

// Validate checks map parameters, frontier bounds and sensor entries.
func (c *Config) Validate() error {
	m := c.Map
	if m.Resolution <= 0 {
		return fmt.Errorf("map.resolution must be positive, got %v", m.Resolution)
	}
	if m.MaxKey < 0 {
		return fmt.Errorf("map.maxKey must not be negative, got %d", m.MaxKey)
	}
	if m.HitLog <= 0 {
		return fmt.Errorf("map.hitLog must be positive, got %v", m.HitLog)
	}
	if m.MissLog >= 0 {
		return fmt.Errorf("map.missLog must be negative, got %v", m.MissLog)
	}
	if !(m.ClampMinLog < 0 && m.ClampMaxLog > 0) {
		return fmt.Errorf("map clamp range must straddle zero, got [%v, %v]", m.ClampMinLog, m.ClampMaxLog)
	}
	if !c.Frontier.Bounds.Valid() {
		return fmt.Errorf("frontier.bounds has a min greater than its max")
	}

	if len(c.Sensors) == 0 {
		return fmt.Errorf("at least one sensor must be defined")
	}
	seen := make(map[string]bool, len(c.Sensors))
	for i, sc := range c.Sensors {
		if sc.ID == "" {
			return fmt.Errorf("sensor[%d].id is required", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("sensor[%d].id %q is duplicated", i, sc.ID)
		}
		seen[sc.ID] = true
		if sc.MaxRange < 0 {
			return fmt.Errorf("sensor[%d].maxRange must not be negative", i)
		}
		if sc.MaxUpdateRate < 0 {
			return fmt.Errorf("sensor[%d].maxUpdateRate must not be negative", i)
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
