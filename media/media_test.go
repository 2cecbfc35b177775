// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/bureau-foundation/kvrtc/lib/clock"
	"github.com/bureau-foundation/kvrtc/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	sps    = []byte{0x67, 0x42, 0x00, 0x1e}
	pps    = []byte{0x68, 0xce, 0x3c, 0x80}
	idr    = []byte{0x65, 0x88, 0x84, 0x21}
	nonIDR = []byte{0x41, 0x9a, 0x02, 0x11}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func annexB(nals ...[]byte) []byte {
	var out []byte
	for _, nal := range nals {
		out = append(out, annexBStartCode...)
		out = append(out, nal...)
	}
	return out
}

func ivfFile(fourCC string, frames ...[]byte) []byte {
	header := make([]byte, 32)
	copy(header, "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:], fourCC)
	binary.LittleEndian.PutUint16(header[12:], 640)
	binary.LittleEndian.PutUint16(header[14:], 480)
	binary.LittleEndian.PutUint32(header[16:], 30)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(len(frames)))

	out := header
	for i, frame := range frames {
		frameHeader := make([]byte, 12)
		binary.LittleEndian.PutUint32(frameHeader, uint32(len(frame)))
		binary.LittleEndian.PutUint64(frameHeader[4:], uint64(i))
		out = append(out, frameHeader...)
		out = append(out, frame...)
	}
	return out
}

func openBytes(data []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

type capturedSamples chan pionmedia.Sample

func (c capturedSamples) WriteSample(sample pionmedia.Sample) error {
	c <- sample
	return nil
}

func startPump(t *testing.T, run func(context.Context, sampleWriter) error) (capturedSamples, chan error, context.CancelFunc) {
	t.Helper()
	samples := make(capturedSamples, 16)
	result := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { result <- run(ctx, samples) }()
	t.Cleanup(cancel)
	return samples, result, cancel
}

func TestH264PumpGroupsAccessUnits(t *testing.T) {
	fake := clock.Fake(epoch)
	pump := &h264Pump{
		open:   openBytes(annexB(sps, pps, idr, nonIDR)),
		loop:   true,
		pace:   true,
		frame:  time.Second / 30,
		clock:  fake,
		logger: discardLogger(),
	}
	samples, result, cancel := startPump(t, pump.run)

	fake.WaitForTimers(1)
	testutil.RequireEmpty(t, samples, "sample before the first frame period")

	fake.Advance(pump.frame)
	first := testutil.RequireReceive(t, samples, "first frame")
	if want := annexB(sps, pps, idr); !bytes.Equal(first.Data, want) {
		t.Fatalf("first frame = %x, want %x", first.Data, want)
	}
	if first.Duration != pump.frame {
		t.Fatalf("duration = %v, want %v", first.Duration, pump.frame)
	}

	fake.Advance(pump.frame)
	second := testutil.RequireReceive(t, samples, "second frame")
	if want := annexB(nonIDR); !bytes.Equal(second.Data, want) {
		t.Fatalf("second frame = %x, want %x", second.Data, want)
	}

	// End of input reopens the source.
	fake.Advance(pump.frame)
	third := testutil.RequireReceive(t, samples, "looped frame")
	if !bytes.Equal(third.Data, first.Data) {
		t.Fatalf("looped frame = %x, want %x", third.Data, first.Data)
	}

	cancel()
	if err := testutil.RequireReceive(t, result, "pump result"); err != nil {
		t.Fatalf("run after cancel: %v", err)
	}
}

func TestH264PumpUnpacedStopsAtEnd(t *testing.T) {
	pump := &h264Pump{
		open:   openBytes(annexB(sps, pps, idr, nonIDR, nonIDR)),
		frame:  time.Second / 30,
		clock:  clock.Fake(epoch),
		logger: discardLogger(),
	}
	samples, result, _ := startPump(t, pump.run)
	if err := testutil.RequireReceive(t, result, "pump result"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("wrote %d samples, want 3", len(samples))
	}
}

func TestH264PumpRejectsEmptySource(t *testing.T) {
	pump := &h264Pump{
		open:   openBytes(annexB(sps, pps)),
		loop:   true,
		frame:  time.Second / 30,
		clock:  clock.Fake(epoch),
		logger: discardLogger(),
	}
	_, result, _ := startPump(t, pump.run)
	if err := testutil.RequireReceive(t, result, "pump result"); !errors.Is(err, errNoFrames) {
		t.Fatalf("run = %v, want errNoFrames", err)
	}
}

func TestIVFPump(t *testing.T) {
	fake := clock.Fake(epoch)
	data := ivfFile("VP80", []byte{0x10, 0x02}, []byte{0x11, 0x03, 0x04})

	header, err := readIVFHeader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("readIVFHeader: %v", err)
	}
	frame := ivfFrameDuration(header, time.Second)
	if want := time.Duration(uint64(time.Second) / 30); frame != want {
		t.Fatalf("frame duration = %v, want %v", frame, want)
	}

	pump := &ivfPump{open: openBytes(data), pace: true, frame: frame, clock: fake, logger: discardLogger()}
	samples, result, _ := startPump(t, pump.run)

	fake.WaitForTimers(1)
	fake.Advance(frame)
	if got := testutil.RequireReceive(t, samples, "first frame"); !bytes.Equal(got.Data, []byte{0x10, 0x02}) {
		t.Fatalf("first frame = %x", got.Data)
	}
	fake.Advance(frame)
	if got := testutil.RequireReceive(t, samples, "second frame"); !bytes.Equal(got.Data, []byte{0x11, 0x03, 0x04}) {
		t.Fatalf("second frame = %x", got.Data)
	}
	if err := testutil.RequireReceive(t, result, "pump result"); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestIVFMimeType(t *testing.T) {
	tests := []struct {
		fourCC  string
		want    string
		wantErr bool
	}{
		{fourCC: "VP80", want: webrtc.MimeTypeVP8},
		{fourCC: "VP90", want: webrtc.MimeTypeVP9},
		{fourCC: "AV01", want: webrtc.MimeTypeAV1},
		{fourCC: "H264", wantErr: true},
	}
	for _, test := range tests {
		got, err := ivfMimeType(test.fourCC)
		if (err != nil) != test.wantErr {
			t.Fatalf("ivfMimeType(%q) error = %v, wantErr %v", test.fourCC, err, test.wantErr)
		}
		if got != test.want {
			t.Fatalf("ivfMimeType(%q) = %q, want %q", test.fourCC, got, test.want)
		}
	}
}

func TestGetLocalStream(t *testing.T) {
	directory := t.TempDir()
	source := filepath.Join(directory, "clip.h264")
	if err := os.WriteFile(source, annexB(sps, pps, idr), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("file", func(t *testing.T) {
		fake := clock.Fake(epoch)
		capturer := NewCapturer(CaptureConfig{Source: source, Clock: fake, Logger: discardLogger()})
		stream, err := capturer.GetLocalStream(context.Background(), false)
		if err != nil {
			t.Fatalf("GetLocalStream: %v", err)
		}
		tracks := stream.Tracks()
		if len(tracks) != 1 || tracks[0].Kind() != webrtc.RTPCodecTypeVideo {
			t.Fatalf("tracks = %v, want one video track", tracks)
		}
		if tracks[0].StreamID() != stream.ID {
			t.Fatalf("track stream ID = %q, want %q", tracks[0].StreamID(), stream.ID)
		}
		fake.WaitForTimers(1)
		if err := stream.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		testutil.RequireClosed(t, stream.Done(), "stream not done after Close")
		if stream.Err() != nil {
			t.Fatalf("Err after Close = %v", stream.Err())
		}
	})

	t.Run("no source", func(t *testing.T) {
		capturer := NewCapturer(CaptureConfig{Clock: clock.Fake(epoch), Logger: discardLogger()})
		if _, err := capturer.GetLocalStream(context.Background(), false); !errors.Is(err, ErrNoSource) {
			t.Fatalf("GetLocalStream = %v, want ErrNoSource", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		capturer := NewCapturer(CaptureConfig{Source: filepath.Join(directory, "absent.h264"), Logger: discardLogger()})
		if _, err := capturer.GetLocalStream(context.Background(), false); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("GetLocalStream = %v, want not-exist", err)
		}
	})

	t.Run("missing camera", func(t *testing.T) {
		capturer := NewCapturer(CaptureConfig{CameraDevice: filepath.Join(directory, "video9"), Logger: discardLogger()})
		if _, err := capturer.GetLocalStream(context.Background(), true); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("GetLocalStream = %v, want not-exist", err)
		}
	})

	t.Run("unsupported ivf", func(t *testing.T) {
		path := filepath.Join(directory, "clip.ivf")
		if err := os.WriteFile(path, ivfFile("XXXX", []byte{1}), 0o644); err != nil {
			t.Fatal(err)
		}
		capturer := NewCapturer(CaptureConfig{Source: path, Logger: discardLogger()})
		if _, err := capturer.GetLocalStream(context.Background(), false); err == nil {
			t.Fatal("GetLocalStream accepted an unknown ivf codec")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		capturer := NewCapturer(CaptureConfig{Source: source, Logger: discardLogger()})
		if _, err := capturer.GetLocalStream(ctx, false); !errors.Is(err, context.Canceled) {
			t.Fatalf("GetLocalStream = %v, want context.Canceled", err)
		}
	})
}

type scriptedPackets struct {
	packets []*rtp.Packet
}

func (s *scriptedPackets) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(s.packets) == 0 {
		return nil, nil, io.EOF
	}
	packet := s.packets[0]
	s.packets = s.packets[1:]
	return packet, nil, nil
}

type recordingSink struct {
	written  int
	failFrom int
	closed   int
}

func (s *recordingSink) WriteRTP(*rtp.Packet) error {
	if s.failFrom > 0 && s.written+1 >= s.failFrom {
		return errors.New("disk full")
	}
	s.written++
	return nil
}

func (s *recordingSink) Close() error {
	s.closed++
	return nil
}

func packets(payloads ...[]byte) []*rtp.Packet {
	var out []*rtp.Packet
	for i, payload := range payloads {
		out = append(out, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    96,
				SequenceNumber: uint16(i + 1),
				Timestamp:      uint32(i * 3000),
				SSRC:           1234,
			},
			Payload: payload,
		})
	}
	return out
}

func TestRecorderConsume(t *testing.T) {
	t.Run("writes every packet", func(t *testing.T) {
		recorder := NewRecorder(RecorderConfig{Logger: discardLogger()})
		sink := &recordingSink{}
		recorder.consume(&scriptedPackets{packets: packets(sps, pps, idr)}, sink, discardLogger())
		if sink.written != 3 || sink.closed != 1 {
			t.Fatalf("written=%d closed=%d, want 3 and 1", sink.written, sink.closed)
		}
		if recorder.Packets() != 3 {
			t.Fatalf("Packets() = %d, want 3", recorder.Packets())
		}
	})

	t.Run("write failure drains the rest", func(t *testing.T) {
		recorder := NewRecorder(RecorderConfig{Logger: discardLogger()})
		sink := &recordingSink{failFrom: 2}
		recorder.consume(&scriptedPackets{packets: packets(sps, pps, idr, nonIDR)}, sink, discardLogger())
		if sink.written != 1 || sink.closed != 1 {
			t.Fatalf("written=%d closed=%d, want 1 and 1", sink.written, sink.closed)
		}
		if recorder.Packets() != 4 {
			t.Fatalf("Packets() = %d, want 4", recorder.Packets())
		}
	})

	t.Run("drain", func(t *testing.T) {
		recorder := NewRecorder(RecorderConfig{Logger: discardLogger()})
		recorder.consume(&scriptedPackets{packets: packets(sps, idr)}, nil, discardLogger())
		if recorder.Packets() != 2 {
			t.Fatalf("Packets() = %d, want 2", recorder.Packets())
		}
	})
}

func TestRecorderSinkSelection(t *testing.T) {
	directory := t.TempDir()

	drain := NewRecorder(RecorderConfig{Logger: discardLogger()})
	if sink := drain.sinkFor(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeH264, discardLogger()); sink != nil {
		t.Fatal("recorder without output opened a sink")
	}

	recorder := NewRecorder(RecorderConfig{Output: filepath.Join(directory, "out.h264"), Logger: discardLogger()})
	if sink := recorder.sinkFor(webrtc.RTPCodecTypeAudio, webrtc.MimeTypeOpus, discardLogger()); sink != nil {
		t.Fatal("audio track opened a sink")
	}
	first := recorder.sinkFor(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeH264, discardLogger())
	if first == nil {
		t.Fatal("first video track got no sink")
	}
	defer first.Close()
	if second := recorder.sinkFor(webrtc.RTPCodecTypeVideo, webrtc.MimeTypeH264, discardLogger()); second != nil {
		t.Fatal("second video track also got the output")
	}

	if _, err := openSink(filepath.Join(directory, "out.bin"), webrtc.MimeTypeVP9); err == nil {
		t.Fatal("openSink accepted VP9")
	}
}

func TestRecorderWritesAnnexB(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.h264")
	sink, err := openSink(output, webrtc.MimeTypeH264)
	if err != nil {
		t.Fatalf("openSink: %v", err)
	}
	recorder := NewRecorder(RecorderConfig{Output: output, Logger: discardLogger()})
	recorder.consume(&scriptedPackets{packets: packets(sps, pps, idr)}, sink, discardLogger())

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("reading recording: %v", err)
	}
	for _, nal := range [][]byte{sps, pps, idr} {
		if !bytes.Contains(data, nal) {
			t.Fatalf("recording %x missing NAL %x", data, nal)
		}
	}
}
