package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     string `env:"PORT" env-default:"8080"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	Game  Game
	Rooms Rooms

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" env-default:"*" env-separator:","`
}

type Game struct {
	MinOvers        int           `env:"MIN_OVERS" env-default:"1"`
	MaxOvers        int           `env:"MAX_OVERS" env-default:"20"`
	CaptainTimeout  time.Duration `env:"CAPTAIN_TIMEOUT" env-default:"60s"`
	DisconnectGrace time.Duration `env:"DISCONNECT_GRACE" env-default:"30s"`
}

type Rooms struct {
	IdleTTL       time.Duration `env:"IDLE_ROOM_TTL" env-default:"30m"`
	EmptyTTL      time.Duration `env:"EMPTY_ROOM_TTL" env-default:"2m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" env-default:"1m"`
	SendBuffer    int           `env:"SEND_BUFFER" env-default:"32"`
}

// Load reads an optional .env file and then the process environment.
func Load(dotenv string) (*Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is Load that panics.
func MustLoad(dotenv string) *Config {
	cfg, err := Load(dotenv)
	if err != nil {
		panic(fmt.Errorf("unable to load config: %w", err))
	}
	return cfg
}

func (c *Config) validate() error {
	if c.Game.MinOvers < 1 || c.Game.MaxOvers < c.Game.MinOvers {
		return fmt.Errorf("overs range [%d,%d] is invalid", c.Game.MinOvers, c.Game.MaxOvers)
	}
	if c.Rooms.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	if c.Rooms.SendBuffer < 1 {
		return errors.New("SEND_BUFFER must be at least 1")
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + c.Port
}
