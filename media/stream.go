// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/bureau-foundation/kvrtc/lib/clock"
	"github.com/bureau-foundation/kvrtc/lib/config"
)

// ErrNoSource is returned when a file stream is requested but no
// source file is configured.
var ErrNoSource = errors.New("media: no source file configured")

// Capturer produces local media streams.
type Capturer interface {
	GetLocalStream(ctx context.Context, useCamera bool) (*Stream, error)
}

// sampleWriter is the part of TrackLocalStaticSample the pumps use.
type sampleWriter interface {
	WriteSample(sample pionmedia.Sample) error
}

// Stream is a running local video source.
type Stream struct {
	// ID is the WebRTC stream ID the track is grouped under.
	ID string

	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Tracks returns the stream's tracks for attaching to a transport.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// Done is closed when the source stops producing frames.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the error that stopped the source, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the source and waits for its goroutine.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Stream) run(ctx context.Context, pump func(context.Context) error) {
	defer close(s.done)
	if err := pump(ctx); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
}

// CaptureConfig configures a DeviceCapturer.
type CaptureConfig struct {
	// Source is a pre-recorded .h264 or .ivf file.
	Source string

	// CameraDevice emits Annex-B H.264 (a UVC H.264 node or a FIFO
	// fed by an encoder).
	CameraDevice string

	// FrameRate paces Annex-B playback. IVF files carry their own
	// timebase.
	FrameRate int

	Clock  clock.Clock
	Logger *slog.Logger
}

// CaptureConfigFrom maps the media config section.
func CaptureConfigFrom(cfg config.MediaConfig, clk clock.Clock, logger *slog.Logger) CaptureConfig {
	return CaptureConfig{
		Source:       cfg.Source,
		CameraDevice: cfg.CameraDevice,
		FrameRate:    cfg.FrameRate,
		Clock:        clk,
		Logger:       logger,
	}
}

// DeviceCapturer opens files and devices from the local filesystem.
type DeviceCapturer struct {
	config CaptureConfig
	logger *slog.Logger
}

var _ Capturer = (*DeviceCapturer)(nil)

// NewCapturer returns a DeviceCapturer.
func NewCapturer(config CaptureConfig) *DeviceCapturer {
	if config.FrameRate <= 0 {
		config.FrameRate = 30
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceCapturer{config: config, logger: logger}
}

// GetLocalStream starts the camera (useCamera) or the configured file.
// The stream outlives ctx; stop it with Close.
func (c *DeviceCapturer) GetLocalStream(ctx context.Context, useCamera bool) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frame := time.Second / time.Duration(c.config.FrameRate)

	if useCamera {
		device := c.config.CameraDevice
		// Opening a FIFO blocks until a writer appears; the
		// existence check keeps a typo from hanging here.
		if _, err := os.Stat(device); err != nil {
			return nil, fmt.Errorf("camera device: %w", err)
		}
		pump := &h264Pump{
			open:   func() (io.ReadCloser, error) { return os.Open(device) },
			frame:  frame,
			clock:  c.config.Clock,
			logger: c.logger.With("source", device),
		}
		return c.start(ctx, webrtc.MimeTypeH264, pump.run)
	}

	source := c.config.Source
	if source == "" {
		return nil, ErrNoSource
	}
	open := func() (io.ReadCloser, error) { return os.Open(source) }
	logger := c.logger.With("source", source)

	if strings.EqualFold(filepath.Ext(source), ".ivf") {
		file, err := open()
		if err != nil {
			return nil, fmt.Errorf("opening source: %w", err)
		}
		header, err := readIVFHeader(file)
		file.Close()
		if err != nil {
			return nil, err
		}
		mimeType, err := ivfMimeType(header.FourCC)
		if err != nil {
			return nil, err
		}
		pump := &ivfPump{
			open:   open,
			loop:   true,
			pace:   true,
			frame:  ivfFrameDuration(header, frame),
			clock:  c.config.Clock,
			logger: logger,
		}
		return c.start(ctx, mimeType, pump.run)
	}

	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	pump := &h264Pump{
		open:   open,
		loop:   true,
		pace:   true,
		frame:  frame,
		clock:  c.config.Clock,
		logger: logger,
	}
	return c.start(ctx, webrtc.MimeTypeH264, pump.run)
}

func (c *DeviceCapturer) start(ctx context.Context, mimeType string, pump func(context.Context, sampleWriter) error) (*Stream, error) {
	streamID := "kvrtc-" + uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("creating %s track: %w", mimeType, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream := &Stream{
		ID:     streamID,
		track:  track,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go stream.run(runCtx, func(ctx context.Context) error { return pump(ctx, track) })
	c.logger.Info("local stream started", "stream", streamID, "codec", mimeType)
	return stream, nil
}
