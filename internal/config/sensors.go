package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SensorSeed describes a sensor provisioned on first start
type SensorSeed struct {
	Name         string  `yaml:"name"`
	Location     string  `yaml:"location"`
	MaxThreshold float64 `yaml:"maxThreshold"`
	// BaseFlow is the simulated open-valve flow in L/min. Zero means the generator default.
	BaseFlow float64 `yaml:"baseFlow"`
}

type sensorsFile struct {
	Sensors []SensorSeed `yaml:"sensors"`
}

// DefaultSensors returns the stock three-branch installation
func DefaultSensors() []SensorSeed {
	return []SensorSeed{
		{Name: "Sensor 1", Location: "Main Inlet", MaxThreshold: 8.5, BaseFlow: 4.0},
		{Name: "Sensor 2", Location: "Kitchen Branch", MaxThreshold: 4.2, BaseFlow: 1.5},
		{Name: "Sensor 3", Location: "Bathroom Branch", MaxThreshold: 5.8, BaseFlow: 2.2},
	}
}

// LoadSensors reads the provisioning file. An empty path yields DefaultSensors.
func LoadSensors(path string) ([]SensorSeed, error) {
	if path == "" {
		return DefaultSensors(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensors file %s: %w", path, err)
	}
	return ParseSensors(data)
}

// ParseSensors decodes and validates a YAML sensors document
func ParseSensors(data []byte) ([]SensorSeed, error) {
	var file sensorsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sensors file: %w", err)
	}
	if len(file.Sensors) == 0 {
		return nil, fmt.Errorf("sensors file declares no sensors")
	}

	for i, s := range file.Sensors {
		if s.Location == "" {
			return nil, fmt.Errorf("sensor #%d: location is required", i+1)
		}
		if s.MaxThreshold <= 0 {
			return nil, fmt.Errorf("sensor #%d (%s): maxThreshold must be positive", i+1, s.Location)
		}
		if s.BaseFlow < 0 {
			return nil, fmt.Errorf("sensor #%d (%s): baseFlow must not be negative", i+1, s.Location)
		}
		if s.Name == "" {
			file.Sensors[i].Name = fmt.Sprintf("Sensor %d", i+1)
		}
	}
	return file.Sensors, nil
}
