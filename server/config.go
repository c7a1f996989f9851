package main

import (
	"fmt"
	"os"
	"strings"

	config "github.com/micro/go-config"
	"github.com/micro/go-config/source"
	"github.com/micro/go-config/source/env"
	"github.com/micro/go-config/source/file"
	cliflag "github.com/micro/go-config/source/flag"
)

const (
	defaultListen = ":7777"
	envPrefix     = "ARENA"
)

type Config struct {
	Listen  []string // endpoints, one acceptor each
	Metrics string   // empty disables the metrics listener
	World   WorldConfig
}

// Load configuration layered from the file at path (skipped when missing),
// ARENA_* environment variables, then command line flags
// Later sources override earlier ones
func loadConfig(path string) (Config, error) {
	var sources []source.Source

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			sources = append(sources, file.NewSource(file.WithPath(path)))
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	sources = append(sources,
		env.NewSource(env.WithStrippedPrefix(envPrefix)),
		cliflag.NewSource(),
	)

	conf := config.NewConfig()
	if err := conf.Load(sources...); err != nil {
		return Config{}, fmt.Errorf("loading config: %w", err)
	}

	return configFrom(conf), nil
}

func configFrom(conf config.Config) Config {
	listen := conf.Get("server", "listen").StringSlice(nil)
	if len(listen) == 0 {
		listen = splitList(conf.Get("server", "listen").String(defaultListen))
	}

	return Config{
		Listen:  listen,
		Metrics: conf.Get("server", "metrics").String(""),
		World: WorldConfig{
			MaxPlayers:       conf.Get("world", "players").Int(defaultMaxPlayers),
			HandshakeTimeout: conf.Get("world", "handshake").Duration(defaultHandshakeTimeout),
			IdleTimeout:      conf.Get("world", "idle").Duration(defaultIdleTimeout),
			WriteTimeout:     conf.Get("world", "write").Duration(defaultWriteTimeout),
			MaxFrame:         conf.Get("world", "frame").Int(defaultMaxFrame),
			InputRate:        conf.Get("world", "rate").Float64(defaultInputRate),
			InputBurst:       conf.Get("world", "burst").Int(defaultInputBurst),
			QueueLength:      conf.Get("world", "queue").Int(defaultQueueLength),
			TOS:              conf.Get("world", "tos").Int(0),
		},
	}
}

// Comma separated list, empty entries dropped
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{defaultListen}
	}
	return out
}
