package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"webservice-io/internal/core/webservices"

	"gopkg.in/yaml.v3"
)

// Registry backends selectable through REGISTRY_TYPE.
const (
	RegistryMemory   = "memory"
	RegistryPostgres = "postgres"
	RegistryNATS     = "nats"
)

// TypeMap holds the per entity type defaults applied on registration.
type TypeMap map[string]webservices.TypeTemplate

type Config struct {
	ListenAddr       string
	RegistryType     string
	PostgresDSN      string
	NATSURL          string
	RegistryBucket   string
	ContextBrokerURL string
	ProviderURL      string
	RemoteTimeout    time.Duration
	Timestamp        bool
	DefaultType      string
	Protocol         string
	Types            TypeMap
}

// MustLoad loads the required settings for the system to operate
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment. Types come from TYPES_JSON, then the YAML file
// named by TYPES_FILE overrides entries with the same type.
func Load() (Config, error) {
	sec, err := strconv.Atoi(getenv("REMOTE_TIMEOUT_SEC", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("REMOTE_TIMEOUT_SEC: %w", err)
	}
	timestamp, err := strconv.ParseBool(getenv("TIMESTAMP", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("TIMESTAMP: %w", err)
	}

	types := make(TypeMap)
	if err := json.Unmarshal([]byte(getenv("TYPES_JSON", `{}`)), &types); err != nil {
		return Config{}, fmt.Errorf("TYPES_JSON: %w", err)
	}
	if path := getenv("TYPES_FILE", ""); path != "" {
		fileTypes, err := LoadTypes(path)
		if err != nil {
			return Config{}, err
		}
		for k, v := range fileTypes {
			types[k] = v
		}
	}

	cfg := Config{
		ListenAddr:       getenv("LISTEN_ADDR", ":4041"),
		RegistryType:     getenv("REGISTRY_TYPE", RegistryMemory),
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		NATSURL:          getenv("NATS_URL", "nats://localhost:4222"),
		RegistryBucket:   getenv("REGISTRY_BUCKET", "webservices"),
		ContextBrokerURL: getenv("CONTEXT_BROKER_URL", "http://localhost:1026"),
		ProviderURL:      getenv("PROVIDER_URL", "http://localhost:4041"),
		RemoteTimeout:    time.Duration(sec) * time.Second,
		Timestamp:        timestamp,
		DefaultType:      getenv("DEFAULT_TYPE", "Thing"),
		Protocol:         getenv("PROTOCOL", ""),
		Types:            types,
	}
	switch cfg.RegistryType {
	case RegistryMemory, RegistryNATS:
	case RegistryPostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, fmt.Errorf("POSTGRES_DSN is required for the %s registry", RegistryPostgres)
		}
	default:
		return Config{}, fmt.Errorf("unknown REGISTRY_TYPE %q", cfg.RegistryType)
	}
	return cfg, nil
}

// LoadTypes reads a YAML type catalogue:
//
//	WeatherObserved:
//	  attributes:
//	    - {name: temperature, type: Number, object_id: t}
//	  static_attributes:
//	    - {name: source, type: Text, value: aemet}
func LoadTypes(path string) (TypeMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read types file: %w", err)
	}
	types := make(TypeMap)
	if err := yaml.Unmarshal(raw, &types); err != nil {
		return nil, fmt.Errorf("parse types file %s: %w", path, err)
	}
	return types, nil
}

// Defaults is the slice of the configuration the provisioning pipeline reads.
func (c Config) Defaults() webservices.Defaults {
	return webservices.Defaults{
		DefaultType: c.DefaultType,
		Protocol:    c.Protocol,
		Types:       c.Types,
	}
}

// getenv fetches the env variables for the application to run
func getenv(k, d string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return d
}
