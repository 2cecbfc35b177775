// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/kvrtc/lib/config"
)

// ICEConfig holds the ICE servers for a PeerConnection.
type ICEConfig struct {
	// Servers is tried in order during gathering. Empty means host
	// candidates only, which is enough on one LAN.
	Servers []webrtc.ICEServer
}

// ICEConfigFrom converts the configured STUN/TURN entries.
func ICEConfigFrom(cfg config.ICEConfig) ICEConfig {
	servers := make([]webrtc.ICEServer, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		entry := webrtc.ICEServer{URLs: server.URLs}
		if server.Username != "" || server.Credential != "" {
			entry.Username = server.Username
			entry.Credential = server.Credential
		}
		servers = append(servers, entry)
	}
	return ICEConfig{Servers: servers}
}
