package utils

import (
	"io"
	"log"
	"os"
)

type LogLevel int

const (
	LevelWarn LogLevel = iota
	LevelInfo
	LevelDebug
	LevelTrace
)

var (
	level  = LevelWarn
	logger = log.New(os.Stderr, "soda: ", 0)
)

// SetLogLevel maps a --verbosity count onto a level; counts past trace
// saturate.
func SetLogLevel(verbosity int) {
	switch {
	case verbosity <= 0:
		level = LevelWarn
	case verbosity == 1:
		level = LevelInfo
	case verbosity == 2:
		level = LevelDebug
	default:
		level = LevelTrace
	}
}

func GetLogLevel() LogLevel {
	return level
}

func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

func Warnf(format string, args ...any) {
	logger.Printf("warning: "+format, args...)
}

func Infof(format string, args ...any) {
	if level >= LevelInfo {
		logger.Printf(format, args...)
	}
}

func Debugf(format string, args ...any) {
	if level >= LevelDebug {
		logger.Printf(format, args...)
	}
}

func Tracef(format string, args ...any) {
	if level >= LevelTrace {
		logger.Printf(format, args...)
	}
}
