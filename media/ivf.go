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

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/bureau-foundation/kvrtc/lib/clock"
)

func readIVFHeader(source io.Reader) (*ivfreader.IVFFileHeader, error) {
	_, header, err := ivfreader.NewWith(source)
	if err != nil {
		return nil, fmt.Errorf("reading ivf header: %w", err)
	}
	return header, nil
}

func ivfMimeType(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	default:
		return "", fmt.Errorf("media: unsupported ivf codec %q", fourCC)
	}
}

// ivfFrameDuration is one timebase unit, or fallback when the header
// does not carry a usable timebase.
func ivfFrameDuration(header *ivfreader.IVFFileHeader, fallback time.Duration) time.Duration {
	if header.TimebaseNumerator == 0 || header.TimebaseDenominator == 0 {
		return fallback
	}
	return time.Duration(uint64(time.Second) * uint64(header.TimebaseNumerator) / uint64(header.TimebaseDenominator))
}

// ivfPump writes one sample per IVF frame.
type ivfPump struct {
	open   func() (io.ReadCloser, error)
	loop   bool
	pace   bool
	frame  time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

func (p *ivfPump) run(ctx context.Context, writer sampleWriter) error {
	var ticks <-chan time.Time
	if p.pace {
		ticker := p.clock.NewTicker(p.frame)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
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
			return nil
		}
	}
}

func (p *ivfPump) play(ctx context.Context, source io.Reader, writer sampleWriter, ticks <-chan time.Time) (int, error) {
	reader, _, err := ivfreader.NewWith(source)
	if err != nil {
		return 0, fmt.Errorf("reading ivf header: %w", err)
	}

	frames := 0
	for {
		payload, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("reading ivf frame: %w", err)
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
		if err := writer.WriteSample(pionmedia.Sample{Data: payload, Duration: p.frame}); err != nil {
			return frames, fmt.Errorf("writing sample: %w", err)
		}
		frames++
	}
}
