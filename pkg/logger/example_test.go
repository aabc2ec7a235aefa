package logger_test

import (
	"fmt"
	"os"

	"github.com/ethan/rtsp-streamer/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	// Create logger with default config
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Basic logging
	log.Info("application started", "version", "1.0.0")
	log.Warn("deprecated transport requested", "transport", "RTP/AVP/UDP;multicast")
	log.Error("failed to accept connection", "error", "connection timeout")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugRTP)
	cfg.EnableCategory(logger.DebugSession)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// RTP debugging (only logged if DebugRTP enabled)
	log.DebugRTPPacket(12345, 90000, 96, 1200)

	// NAL-level debugging is part of the rtp category
	log.DebugNALUnit(7, 28, false) // SPS

	// Generic category logging
	log.DebugRTP("packet sent", "seq", 12345)
	log.DebugSession("connection registered", "remote_addr", "10.0.0.5:51000")
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/ethan/rtsp-streamer/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("rtspserver", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/rtspserver/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json") // Cleanup

	log.Info("client connected",
		"remote_addr", "192.168.1.1:52100",
		"duration_ms", 250)

	// Output will be in JSON format:
	// {"time":"...","level":"INFO","msg":"client connected","remote_addr":"192.168.1.1:52100","duration_ms":250}
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugTransport)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Category methods automatically check if enabled
	// No manual check needed - zero cost if disabled
	log.DebugTransport("interleaved frame written", "channel", 0, "size", 1200)
	log.DebugRTP("packet sent", "seq", 12345)
}
