// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// PeerConfig configures a PeerTransport.
type PeerConfig struct {
	ICE ICEConfig

	// IncludeLoopback adds 127.0.0.1 host candidates, needed when both
	// peers run on the same machine without another interface.
	IncludeLoopback bool

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// PeerTransport is a Transport backed by a pion PeerConnection.
type PeerTransport struct {
	connection *webrtc.PeerConnection
	logger     *slog.Logger
}

var _ Transport = (*PeerTransport)(nil)

// NewPeerTransport creates a PeerConnection with pion's default codecs
// and interceptors.
func NewPeerTransport(config PeerConfig) (*PeerTransport, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}
	interceptors := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptors); err != nil {
		return nil, fmt.Errorf("registering interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(config.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptors),
		webrtc.WithSettingEngine(settingEngine),
	)
	connection, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: config.ICE.Servers})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	return &PeerTransport{connection: connection, logger: logger}, nil
}

// NewFactory returns a Factory producing PeerTransports from config.
func NewFactory(config PeerConfig) Factory {
	return func() (Transport, error) { return NewPeerTransport(config) }
}

func (p *PeerTransport) CreateLocalDescription(kind webrtc.SDPType) (webrtc.SessionDescription, error) {
	switch kind {
	case webrtc.SDPTypeOffer:
		return p.connection.CreateOffer(nil)
	case webrtc.SDPTypeAnswer:
		return p.connection.CreateAnswer(nil)
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("transport: cannot create a %s description", kind)
	}
}

func (p *PeerTransport) SetLocalDescription(description webrtc.SessionDescription) error {
	return p.connection.SetLocalDescription(description)
}

func (p *PeerTransport) SetRemoteDescription(description webrtc.SessionDescription) error {
	return p.connection.SetRemoteDescription(description)
}

func (p *PeerTransport) LocalDescription() *webrtc.SessionDescription {
	return p.connection.LocalDescription()
}

func (p *PeerTransport) OnCandidate(handler func(*webrtc.ICECandidate)) {
	p.connection.OnICECandidate(handler)
}

func (p *PeerTransport) OnIncomingStream(handler func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.connection.OnTrack(handler)
}

func (p *PeerTransport) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	p.connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("peer connection state changed", "state", state.String())
		handler(state)
	})
}

func (p *PeerTransport) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	sender, err := p.connection.AddTrack(track)
	if err != nil {
		return nil, err
	}
	// RTCP must be read for the interceptors (NACK, reports) to run.
	go func() {
		buffer := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buffer); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

// ByteCount sums the RTP stream counters for direction. When the stats
// report carries no RTP stream entries yet, the DTLS transport totals
// stand in.
func (p *PeerTransport) ByteCount(direction Direction) (uint64, bool) {
	return bytesFromReport(p.connection.GetStats(), direction)
}

func bytesFromReport(report webrtc.StatsReport, direction Direction) (uint64, bool) {
	var total uint64
	found := false
	var transportBytes uint64
	transportFound := false

	for _, stats := range report {
		switch entry := stats.(type) {
		case webrtc.OutboundRTPStreamStats:
			if direction == Outbound {
				total += entry.BytesSent
				found = true
			}
		case *webrtc.OutboundRTPStreamStats:
			if direction == Outbound {
				total += entry.BytesSent
				found = true
			}
		case webrtc.InboundRTPStreamStats:
			if direction == Inbound {
				total += entry.BytesReceived
				found = true
			}
		case *webrtc.InboundRTPStreamStats:
			if direction == Inbound {
				total += entry.BytesReceived
				found = true
			}
		case webrtc.TransportStats:
			transportFound = true
			if direction == Outbound {
				transportBytes += entry.BytesSent
			} else {
				transportBytes += entry.BytesReceived
			}
		}
	}
	if found {
		return total, true
	}
	if transportFound && transportBytes > 0 {
		return transportBytes, true
	}
	return 0, false
}

// Close closes the PeerConnection.
func (p *PeerTransport) Close() error {
	if err := p.connection.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}
