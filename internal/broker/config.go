package broker

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// rawConfig is the on-disk YAML shape for the broker's queue declarations.
type rawConfig struct {
	Queues []struct {
		Name       string `yaml:"name"`
		Durability string `yaml:"durability"`
		Order      string `yaml:"order"`
		SortKey    string `yaml:"sort_key"`
		MessageTTL int    `yaml:"message_ttl"` // seconds
	} `yaml:"queues"`
	ProducerEndpoint string `yaml:"producer_endpoint"`
	ConsumerEndpoint string `yaml:"consumer_endpoint"`
	StorageRoot      string `yaml:"storage_root"`
	SweepIntervalMS  int    `yaml:"sweep_interval_ms"`
}

// Config is the broker's fully resolved startup configuration.
type Config struct {
	Queues           []QueueConfig
	ProducerEndpoint string
	ConsumerEndpoint string
	StorageRoot      string
	SweepInterval    time.Duration
}

// LoadConfig parses a broker configuration file. At least one queue must be
// declared; a config with no queues section is a fatal startup error.
func LoadConfig(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing broker config: %w", err)
	}
	if len(raw.Queues) == 0 {
		return Config{}, fmt.Errorf("%w: missing 'queues' section", ErrNoQueues)
	}

	cfg := Config{
		ProducerEndpoint: defaultString(raw.ProducerEndpoint, "tcp://*:5555"),
		ConsumerEndpoint: defaultString(raw.ConsumerEndpoint, "tcp://*:5556"),
		StorageRoot:      defaultString(raw.StorageRoot, "./data"),
		SweepInterval:    time.Second,
	}
	if raw.SweepIntervalMS > 0 {
		cfg.SweepInterval = time.Duration(raw.SweepIntervalMS) * time.Millisecond
	}

	for _, q := range raw.Queues {
		if q.Name == "" {
			return Config{}, ErrQueueNameMissing
		}
		qc := QueueConfig{
			Name:       q.Name,
			Durability: durabilityFrom(q.Durability),
			Order:      orderFrom(q.Order),
			SortKey:    q.SortKey,
		}
		if q.MessageTTL > 0 {
			qc.MessageTTL = time.Duration(q.MessageTTL) * time.Second
		}
		cfg.Queues = append(cfg.Queues, qc)
	}
	return cfg, nil
}

func durabilityFrom(s string) Durability {
	if s == "disk" {
		return DurabilityDisk
	}
	return DurabilityMemory
}

func orderFrom(s string) Order {
	switch s {
	case "unordered":
		return OrderUnordered
	case "sorted":
		return OrderSorted
	default:
		return OrderFIFO
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
