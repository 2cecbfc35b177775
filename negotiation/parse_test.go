// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/kvrtc/signaling"
)

func TestParseDescription(t *testing.T) {
	compressed, err := signaling.Encode(signaling.Record{Type: "offer", SDP: offerSDP + strings.Repeat("a=extmap-allow-mixed\r\n", 40)}, signaling.CompressionZstd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name     string
		raw      string
		expected webrtc.SDPType
		wantErr  bool
	}{
		{name: "plain record", raw: encodeRecord(t, "offer", offerSDP), expected: webrtc.SDPTypeOffer},
		{name: "compressed record", raw: compressed, expected: webrtc.SDPTypeOffer},
		{name: "bare sdp", raw: "  " + answerSDP, expected: webrtc.SDPTypeAnswer},
		{name: "bare sdp with lf endings", raw: strings.ReplaceAll(answerSDP, "\r\n", "\n"), expected: webrtc.SDPTypeAnswer},
		{
			name:     "json with comments and trailing comma",
			raw:      "{\n  // pasted from the other side\n  \"type\": \"answer\",\n  \"sdp\": " + quote(answerSDP) + ",\n}",
			expected: webrtc.SDPTypeAnswer,
		},
		{name: "wrong type", raw: encodeRecord(t, "answer", answerSDP), expected: webrtc.SDPTypeOffer, wantErr: true},
		{name: "blank", raw: " \n", expected: webrtc.SDPTypeOffer, wantErr: true},
		{name: "garbage", raw: "hello", expected: webrtc.SDPTypeOffer, wantErr: true},
		{name: "empty sdp", raw: `{"type":"offer","sdp":""}`, expected: webrtc.SDPTypeOffer, wantErr: true},
		{name: "no media", raw: "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0", expected: webrtc.SDPTypeOffer, wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			description, err := ParseDescription(test.raw, test.expected)
			if test.wantErr {
				if err == nil {
					t.Fatalf("ParseDescription accepted %q", test.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDescription: %v", err)
			}
			if description.Type != test.expected {
				t.Fatalf("type = %v, want %v", description.Type, test.expected)
			}
			if !strings.HasPrefix(description.SDP, "v=0") {
				t.Fatalf("sdp = %q", description.SDP)
			}
		})
	}
}

func TestParseDescriptionEmpty(t *testing.T) {
	if _, err := ParseDescription("", webrtc.SDPTypeOffer); !errors.Is(err, ErrEmptyDescription) {
		t.Fatalf("ParseDescription(\"\") = %v, want ErrEmptyDescription", err)
	}
}

func quote(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", `\r`, "\n", `\n`)
	return `"` + replacer.Replace(text) + `"`
}
