// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Output is the file the first video track is written to. Empty
	// drains every track.
	Output string

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// packetSource is the read side of a remote track.
type packetSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// packetSink receives RTP packets for one track.
type packetSink interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Recorder consumes incoming tracks.
type Recorder struct {
	output string
	logger *slog.Logger

	// claimed is set once a track owns the output file.
	claimed atomic.Bool
	packets atomic.Uint64
	wg      sync.WaitGroup
}

// NewRecorder returns a Recorder.
func NewRecorder(config RecorderConfig) *Recorder {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{output: config.Output, logger: logger}
}

// HandleTrack matches the transport's incoming stream callback. It
// returns immediately; the track is read on its own goroutine until the
// transport closes it.
func (r *Recorder) HandleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	mimeType := track.Codec().MimeType
	logger := r.logger.With("track", track.ID(), "codec", mimeType)
	logger.Info("incoming track")

	sink := r.sinkFor(track.Kind(), mimeType, logger)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.consume(track, sink, logger)
	}()
}

// Packets returns the number of RTP packets read across all tracks.
func (r *Recorder) Packets() uint64 { return r.packets.Load() }

// Wait blocks until every handled track has ended.
func (r *Recorder) Wait() { r.wg.Wait() }

func (r *Recorder) sinkFor(kind webrtc.RTPCodecType, mimeType string, logger *slog.Logger) packetSink {
	if r.output == "" || kind != webrtc.RTPCodecTypeVideo {
		return nil
	}
	if !r.claimed.CompareAndSwap(false, true) {
		logger.Warn("output already taken by another track, draining")
		return nil
	}
	sink, err := openSink(r.output, mimeType)
	if err != nil {
		logger.Error("cannot record track, draining", "output", r.output, "error", err)
		return nil
	}
	logger.Info("recording track", "output", r.output)
	return sink
}

// openSink picks the container by codec: H.264 as Annex-B, VP8 as IVF.
func openSink(path, mimeType string) (packetSink, error) {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return h264writer.New(path)
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return ivfwriter.New(path)
	default:
		return nil, fmt.Errorf("media: no recorder for %s", mimeType)
	}
}

func (r *Recorder) consume(source packetSource, sink packetSink, logger *slog.Logger) {
	defer func() {
		if sink == nil {
			return
		}
		if err := sink.Close(); err != nil {
			logger.Error("closing recording", "error", err)
		}
	}()
	for {
		packet, _, err := source.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("track read ended", "error", err)
			}
			logger.Info("track ended", "packets", r.packets.Load())
			return
		}
		r.packets.Add(1)
		if sink == nil {
			continue
		}
		if err := sink.WriteRTP(packet); err != nil {
			logger.Error("writing recording, draining from here", "error", err)
			sink.Close()
			sink = nil
		}
	}
}
