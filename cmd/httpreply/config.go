package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	responsetransformer "github.com/always-cache/httpreply/pkg/response-transformer"
)

type Config struct {
	DB                     string                    `yaml:"db"`
	Namespace              string                    `yaml:"namespace"`
	MaxRedirects           int                       `yaml:"maxRedirects"`
	MaxConcurrentExchanges int64                     `yaml:"maxConcurrentExchanges"`
	ProgressInterval       time.Duration             `yaml:"progressInterval"`
	AllowInsecureRedirects bool                      `yaml:"allowInsecureRedirects"`
	FollowCacheUpdates     bool                      `yaml:"followCacheUpdates"`
	Proxy                  string                    `yaml:"proxy"`
	Rules                  responsetransformer.Rules `yaml:"rules"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}
