package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel       string
	LogFormat      string
	LogFile        string
	DebugRTP       bool
	DebugRTCP      bool
	DebugSession   bool
	DebugAuth      bool
	DebugTransport bool
	DebugAll       bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	// Debug category flags
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false,
		"Enable detailed RTP/NAL packetization debugging (sequence, timestamp, payload)")
	fs.BoolVar(&f.DebugRTCP, "debug-rtcp", false,
		"Enable RTCP sender report debugging")
	fs.BoolVar(&f.DebugSession, "debug-session", false,
		"Enable connection/session registry debugging (SETUP, PLAY, keep-alive sweep)")
	fs.BoolVar(&f.DebugAuth, "debug-auth", false,
		"Enable digest/basic authentication debugging")
	fs.BoolVar(&f.DebugTransport, "debug-transport", false,
		"Enable TCP-interleaved/UDP transport debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	// Parse log level
	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	// Parse format
	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	// Set output file
	cfg.OutputFile = f.LogFile

	// Enable debug categories
	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		// Force debug level when any debug category is enabled
		cfg.Level = LevelDebug
	} else {
		if f.DebugRTP {
			cfg.EnableCategory(DebugRTP)
			cfg.Level = LevelDebug
		}
		if f.DebugRTCP {
			cfg.EnableCategory(DebugRTCP)
			cfg.Level = LevelDebug
		}
		if f.DebugSession {
			cfg.EnableCategory(DebugSession)
			cfg.Level = LevelDebug
		}
		if f.DebugAuth {
			cfg.EnableCategory(DebugAuth)
			cfg.Level = LevelDebug
		}
		if f.DebugTransport {
			cfg.EnableCategory(DebugTransport)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./rtspserver

  Enable DEBUG level:
    ./rtspserver --log-level debug
    ./rtspserver -l debug

  Log to file:
    ./rtspserver --log-file server.log
    ./rtspserver -o server.log

  JSON format for structured logging:
    ./rtspserver --log-format json -o server.json

  Debug RTP packetization only:
    ./rtspserver --debug-rtp

  Debug the session registry only:
    ./rtspserver --debug-session

  Debug multiple categories:
    ./rtspserver --debug-rtp --debug-session --debug-transport

  Debug everything:
    ./rtspserver --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./rtspserver -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugRTP {
			debugCategories = append(debugCategories, "rtp")
		}
		if f.DebugRTCP {
			debugCategories = append(debugCategories, "rtcp")
		}
		if f.DebugSession {
			debugCategories = append(debugCategories, "session")
		}
		if f.DebugAuth {
			debugCategories = append(debugCategories, "auth")
		}
		if f.DebugTransport {
			debugCategories = append(debugCategories, "transport")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
