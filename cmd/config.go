package main

import (
	"fmt"
	"time"
)

type Config struct {
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	EventBufferSize      int           `env:"EVENT_BUFFER_SIZE,default=256"`
	SummaryQueueSize     int           `env:"SUMMARY_QUEUE_SIZE,default=32"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	HealthInterval       time.Duration `env:"HEALTH_INTERVAL,default=30s"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath        string        `env:"BLUGE_FILEPATH,required=true"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=8080"`
	JWTSecret            string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	ModerationMask       string        `env:"MODERATION_MASK,default=*"`
	AllowCustomerReopen  bool          `env:"ALLOW_CUSTOMER_REOPEN,default=false"`
	SummarizerURL        string        `env:"SUMMARIZER_URL"`
	SummarizerTimeout    time.Duration `env:"SUMMARIZER_TIMEOUT,default=10s"`
}

// MaskRune parses the moderation mask, which must be a single character.
func (c Config) MaskRune() (rune, error) {
	r := []rune(c.ModerationMask)
	if len(r) != 1 {
		return 0, fmt.Errorf("MODERATION_MASK must be a single character, got %q", c.ModerationMask)
	}
	return r[0], nil
}
