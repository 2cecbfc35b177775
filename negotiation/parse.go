// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/kvrtc/signaling"
)

// ErrEmptyDescription is returned for blank input.
var ErrEmptyDescription = errors.New("negotiation: empty description")

// ParseDescription turns a store value or pasted text into a session
// description of the expected type. It accepts a signaling record
// (plain or compressed), a JSON record with comments or trailing
// commas, or a bare SDP body starting with "v=". The SDP must parse
// and carry at least one media section.
func ParseDescription(raw string, expected webrtc.SDPType) (webrtc.SessionDescription, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return webrtc.SessionDescription{}, ErrEmptyDescription
	}

	var record signaling.Record
	if strings.HasPrefix(text, "v=") {
		eol := "\n"
		if strings.Contains(text, "\r\n") {
			eol = "\r\n"
		}
		record = signaling.Record{Type: expected.String(), SDP: text + eol}
	} else {
		decoded, err := signaling.Decode(text)
		if err != nil {
			if jsonErr := json.Unmarshal(jsonc.ToJSON([]byte(text)), &record); jsonErr != nil {
				return webrtc.SessionDescription{}, err
			}
			if strings.TrimSpace(record.SDP) == "" {
				return webrtc.SessionDescription{}, signaling.ErrEmptyRecord
			}
		} else {
			record = decoded
		}
	}

	kind := webrtc.NewSDPType(record.Type)
	if kind != expected {
		return webrtc.SessionDescription{}, fmt.Errorf("got %q description, want %s", record.Type, expected)
	}

	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(record.SDP); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("parsing sdp: %w", err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return webrtc.SessionDescription{}, errors.New("description has no media sections")
	}
	return webrtc.SessionDescription{Type: kind, SDP: record.SDP}, nil
}
