package config

import (
	"os"

	"github.com/go-yaml/yaml"

	"github.com/tentsuite/tent"
	"github.com/tentsuite/tent/internal/domain"
)

type Config struct {
	NodeInfo NodeInfo `yaml:"nodeInfo"`
	Server   Server   `yaml:"server"`
}

type NodeInfo struct {
	FQDN         string `yaml:"fqdn"`
	Entity       string `yaml:"entity"`
	APIRoot      string `yaml:"apiRoot"`
	Registration string `yaml:"registration"` // open, invite, close
	Secret       string `yaml:"secret"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

func Load(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if config.NodeInfo.Entity == "" {
		config.NodeInfo.Entity = "https://" + config.NodeInfo.FQDN
	}
	config.NodeInfo.Entity = tent.NormalizeEntity(config.NodeInfo.Entity)
	if config.NodeInfo.APIRoot == "" {
		config.NodeInfo.APIRoot = config.NodeInfo.Entity
	}
	if config.Server.Listen == "" {
		config.Server.Listen = ":8000"
	}

	return config, nil
}

// Domain projects the node identity handed to services.
func (c Config) Domain() domain.Config {
	return domain.Config{
		FQDN:         c.NodeInfo.FQDN,
		Entity:       c.NodeInfo.Entity,
		APIRoot:      c.NodeInfo.APIRoot,
		Registration: c.NodeInfo.Registration,
	}
}
