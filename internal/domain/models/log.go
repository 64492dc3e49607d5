package models

import (
	"fmt"
	"strings"
	"time"
)

type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLogLevel accepts any casing and the zerolog spelling "warning".
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	}
	return "", fmt.Errorf("unknown log level %q", s)
}

type LogLine struct {
	ID        int64          `json:"id"`
	Level     LogLevel       `json:"level"`
	Service   string         `json:"service"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (l LogLine) Clone() LogLine {
	if l.Metadata == nil {
		return l
	}
	md := make(map[string]any, len(l.Metadata))
	for k, v := range l.Metadata {
		md[k] = v
	}
	l.Metadata = md
	return l
}

func (l LogLine) Validate() error {
	if _, err := ParseLogLevel(string(l.Level)); err != nil {
		return err
	}
	if l.Message == "" {
		return fmt.Errorf("log %d: message empty", l.ID)
	}
	return nil
}
