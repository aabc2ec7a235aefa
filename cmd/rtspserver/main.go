// Command rtspserver runs the RTSP streaming server wired to a synthetic
// H.264 + AAC sample generator, standing in for the external demuxer the
// dialog engine and packetizers otherwise depend on.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/rtsp-streamer/pkg/config"
	"github.com/ethan/rtsp-streamer/pkg/logger"
	"github.com/ethan/rtsp-streamer/pkg/rtspsrv"
	"github.com/ethan/rtsp-streamer/pkg/track"
)

const (
	videoFrameInterval = 33 * time.Millisecond // ~30fps
	audioFrameInterval = 1024 * time.Second / time.Duration(48000)
	rtpVideoClockRate  = 90000
)

func main() {
	fs := flag.NewFlagSet("rtspserver", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	configPath := fs.String("config", ".env", "path to a key=value configuration file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "RTSP server streaming a synthetic H.264/AAC feed\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting rtsp-streamer", "log_config", logFlags.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "listen_addr", cfg.ListenAddr, "has_auth", cfg.HasAuth())

	srv, err := rtspsrv.New(cfg, log)
	if err != nil {
		log.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	videoTrack := track.NewVideoTrack(0, track.CodecH264, cfg.MTUPayload)
	videoTrack.SetParameterSetsH264(syntheticSPS(), syntheticPPS())
	if err := srv.AddVideoTrack(videoTrack); err != nil {
		log.Error("failed to add video track", "error", err)
		os.Exit(1)
	}

	audioTrack := track.NewAudioTrack(1, 48000, 2)
	audioTrack.SetAACConfig(syntheticAudioSpecificConfig())
	if err := srv.AddAudioTrack(audioTrack); err != nil {
		log.Error("failed to add audio track", "error", err)
		os.Exit(1)
	}

	if err := srv.StartListen(); err != nil {
		log.Error("failed to start listening", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stop := make(chan struct{})
	go runSyntheticFeed(srv, log, stop)

	log.Info("ready - press Ctrl+C to stop", "addr", cfg.ListenAddr)
	<-sigChan

	log.Info("shutting down")
	close(stop)
	if err := srv.StopListen(); err != nil {
		log.Error("error stopping server", "error", err)
	}
	log.Info("graceful shutdown complete")
}

// runSyntheticFeed paces a synthetic H.264 + AAC source at real-time rate,
// the way a camera's actual demuxer would hand the server access units,
// feeding exclusively through the server's public feed API.
func runSyntheticFeed(srv *rtspsrv.Server, log *logger.Logger, stop <-chan struct{}) {
	videoTicker := time.NewTicker(videoFrameInterval)
	audioTicker := time.NewTicker(audioFrameInterval)
	defer videoTicker.Stop()
	defer audioTicker.Stop()

	var videoTimestamp, audioTimestamp uint32
	var frameCount uint64

	for {
		select {
		case <-stop:
			return
		case <-videoTicker.C:
			nalus := syntheticAccessUnit(frameCount)
			if err := srv.FeedVideo(videoTimestamp, nalus); err != nil {
				log.Warn("feed video failed", "error", err)
			}
			videoTimestamp += rtpVideoClockRate / 30
			frameCount++
		case <-audioTicker.C:
			au := syntheticAudioAccessUnit()
			if err := srv.FeedAudio(audioTimestamp, au); err != nil {
				log.Warn("feed audio failed", "error", err)
			}
			audioTimestamp += 1024
		}
	}
}

// syntheticAccessUnit fabricates a minimal H.264 access unit: an IDR every
// 30th frame (≈once per second at 30fps), a P-frame otherwise.
func syntheticAccessUnit(frameCount uint64) [][]byte {
	if frameCount%30 == 0 {
		payload := make([]byte, 512)
		payload[0] = 0x65 // nal_ref_idc=3, type=5 (IDR)
		fillRandom(payload[1:])
		return [][]byte{syntheticSPS(), syntheticPPS(), payload}
	}

	payload := make([]byte, 256)
	payload[0] = 0x41 // nal_ref_idc=2, type=1 (P-frame)
	fillRandom(payload[1:])
	return [][]byte{payload}
}

func syntheticAudioAccessUnit() []byte {
	au := make([]byte, 192)
	fillRandom(au)
	return au
}

func fillRandom(b []byte) {
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
}

// syntheticSPS/PPS/AudioSpecificConfig stand in for parameter sets a real
// encoder would supply; their exact bits are opaque to the server, which
// only base64-encodes and forwards them in SDP.
func syntheticSPS() []byte {
	return []byte{0x67, 0x42, 0xC0, 0x1E, 0xD9, 0x00, 0xB0}
}

func syntheticPPS() []byte {
	return []byte{0x68, 0xCE, 0x3C, 0x80}
}

func syntheticAudioSpecificConfig() []byte {
	// AAC-LC, 48kHz, stereo.
	return []byte{0x11, 0x90}
}
