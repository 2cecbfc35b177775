// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"

	"github.com/bureau-foundation/kvrtc/lib/clock"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// errNoFrames stops a looping source that yields nothing, which would
// otherwise reopen it forever.
var errNoFrames = errors.New("media: source contains no video frames")

// h264Pump reads Annex-B H.264 and writes one sample per coded slice,
// carrying any parameter sets that preceded it.
type h264Pump struct {
	open   func() (io.ReadCloser, error)
	loop   bool
	pace   bool
	frame  time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

func (p *h264Pump) run(ctx context.Context, writer sampleWriter) error {
	var ticks <-chan time.Time
	if p.pace {
		ticker := p.clock.NewTicker(p.frame)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for pass := 0; ; pass++ {
		source, err := p.open()
		if err != nil {
			return fmt.Errorf("opening source: %w", err)
		}
		frames, err := p.play(ctx, source, writer, ticks)
		source.Close()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if frames == 0 {
			return errNoFrames
		}
		if !p.loop {
			p.logger.Info("source ended", "frames", frames)
			return nil
		}
		p.logger.Debug("source looped", "pass", pass, "frames", frames)
	}
}

func (p *h264Pump) play(ctx context.Context, source io.Reader, writer sampleWriter, ticks <-chan time.Time) (int, error) {
	reader, err := h264reader.NewReader(source)
	if err != nil {
		return 0, fmt.Errorf("reading h264: %w", err)
	}

	var pending []byte
	frames := 0
	for {
		nal, err := reader.NextNAL()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("reading h264: %w", err)
		}

		pending = append(pending, annexBStartCode...)
		pending = append(pending, nal.Data...)
		if !isSlice(nal.UnitType) {
			continue
		}

		if ticks != nil {
			select {
			case <-ctx.Done():
				return frames, nil
			case <-ticks:
			}
		} else if ctx.Err() != nil {
			return frames, nil
		}
		if err := writer.WriteSample(pionmedia.Sample{Data: pending, Duration: p.frame}); err != nil {
			return frames, fmt.Errorf("writing sample: %w", err)
		}
		pending = nil
		frames++
	}
}

func isSlice(unitType h264reader.NalUnitType) bool {
	return unitType == h264reader.NalUnitTypeCodedSliceIdr || unitType == h264reader.NalUnitTypeCodedSliceNonIdr
}
