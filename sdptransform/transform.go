// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sdptransform rewrites a locally generated offer so the
// preferred video codec is negotiated first and runs under a bandwidth
// cap.
//
// Transform makes three textual edits to the m=video section:
//
//   - the preferred codec's payload types move to the front of the
//     m= format list, keeping the other payload types in order;
//   - a b=AS line caps the section's bandwidth (placed after the
//     section's c= line, where RFC 4566 puts bandwidth lines);
//   - the codec's a=fmtp lines gain max-fs, max-fr, and the
//     x-google-min/max-bitrate hints.
//
// Each edit is keyed on a marker in the offer. An offer without a
// video section, or whose video section does not carry the preferred
// codec, comes back byte-for-byte unchanged. The function never fails:
// malformed lines are left alone.
package sdptransform

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Options parameterize Transform. Zero numeric fields are omitted from
// the output.
type Options struct {
	// Codec is the encoding name matched against a=rtpmap lines,
	// case-insensitively (e.g. "H264", "VP8").
	Codec string

	// BandwidthKbps is written as b=AS.
	BandwidthKbps int

	MaxFrameSize   int
	MaxFrameRate   int
	MinBitrateKbps int
	MaxBitrateKbps int
}

// DefaultOptions prefer H.264 at up to 5000 kbps, 8160 macroblocks per
// frame (1080p), and 30 frames per second.
func DefaultOptions() Options {
	return Options{
		Codec:          "H264",
		BandwidthKbps:  5000,
		MaxFrameSize:   8160,
		MaxFrameRate:   30,
		MinBitrateKbps: 3000,
		MaxBitrateKbps: 5000,
	}
}

var rtpmapPattern = regexp.MustCompile(`^a=rtpmap:(\d+) ([^/\s]+)/`)

// Transform applies opts to sdp. The output is a pure function of its
// inputs.
func Transform(sdp string, opts Options) string {
	if opts.Codec == "" {
		return sdp
	}

	eol := "\n"
	if strings.Contains(sdp, "\r\n") {
		eol = "\r\n"
	}
	trailing := strings.HasSuffix(sdp, eol)
	lines := strings.Split(strings.TrimSuffix(sdp, eol), eol)

	start, end := videoSection(lines)
	if start < 0 {
		return sdp
	}

	preferred := preferredPayloadTypes(lines[start:end], opts.Codec)
	if len(preferred) == 0 {
		return sdp
	}

	section := slices.Clone(lines[start:end])
	section[0] = reorderFormats(section[0], preferred)
	section = appendFormatParameters(section, preferred, formatParameters(opts))
	section = insertBandwidth(section, opts.BandwidthKbps)

	out := make([]string, 0, len(lines)+len(preferred)+1)
	out = append(out, lines[:start]...)
	out = append(out, section...)
	out = append(out, lines[end:]...)

	result := strings.Join(out, eol)
	if trailing {
		result += eol
	}
	return result
}

// videoSection returns the [start, end) line range of the first
// m=video section, or -1 when there is none.
func videoSection(lines []string) (int, int) {
	start := -1
	for i, line := range lines {
		if start < 0 {
			if strings.HasPrefix(line, "m=video ") {
				start = i
			}
			continue
		}
		if strings.HasPrefix(line, "m=") {
			return start, i
		}
	}
	if start < 0 {
		return -1, -1
	}
	return start, len(lines)
}

// preferredPayloadTypes lists the payload types whose rtpmap names
// codec, in the order the section declares them.
func preferredPayloadTypes(section []string, codec string) []string {
	var types []string
	for _, line := range section {
		match := rtpmapPattern.FindStringSubmatch(line)
		if match != nil && strings.EqualFold(match[2], codec) {
			types = append(types, match[1])
		}
	}
	return types
}

// reorderFormats rewrites "m=video <port> <proto> <fmt>..." with the
// preferred formats first.
func reorderFormats(mediaLine string, preferred []string) string {
	fields := strings.Fields(mediaLine)
	if len(fields) < 4 {
		return mediaLine
	}
	formats := fields[3:]
	ordered := make([]string, 0, len(formats))
	for _, format := range preferred {
		if slices.Contains(formats, format) {
			ordered = append(ordered, format)
		}
	}
	for _, format := range formats {
		if !slices.Contains(ordered, format) {
			ordered = append(ordered, format)
		}
	}
	return strings.Join(append(fields[:3:3], ordered...), " ")
}

func formatParameters(opts Options) []string {
	var params []string
	add := func(name string, value int) {
		if value > 0 {
			params = append(params, name+"="+strconv.Itoa(value))
		}
	}
	add("max-fs", opts.MaxFrameSize)
	add("max-fr", opts.MaxFrameRate)
	add("x-google-min-bitrate", opts.MinBitrateKbps)
	add("x-google-max-bitrate", opts.MaxBitrateKbps)
	return params
}

// appendFormatParameters extends each preferred payload type's fmtp
// line with params, skipping parameters already present. A payload type
// without an fmtp line gets one right after its rtpmap.
func appendFormatParameters(section []string, preferred []string, params []string) []string {
	if len(params) == 0 {
		return section
	}
	out := make([]string, 0, len(section)+len(preferred))
	for _, line := range section {
		for _, payloadType := range preferred {
			prefix := "a=fmtp:" + payloadType + " "
			if strings.HasPrefix(line, prefix) {
				line = extendFormatLine(line, params)
			}
		}
		out = append(out, line)

		match := rtpmapPattern.FindStringSubmatch(line)
		if match == nil || !slices.Contains(preferred, match[1]) {
			continue
		}
		if !hasFormatLine(section, match[1]) {
			out = append(out, "a=fmtp:"+match[1]+" "+strings.Join(params, ";"))
		}
	}
	return out
}

func extendFormatLine(line string, params []string) string {
	existing := line[strings.IndexByte(line, ' ')+1:]
	names := make(map[string]bool)
	for _, pair := range strings.Split(existing, ";") {
		name, _, _ := strings.Cut(strings.TrimSpace(pair), "=")
		names[name] = true
	}
	for _, param := range params {
		name, _, _ := strings.Cut(param, "=")
		if names[name] {
			continue
		}
		if !strings.HasSuffix(line, ";") {
			line += ";"
		}
		line += param
	}
	return line
}

func hasFormatLine(section []string, payloadType string) bool {
	prefix := "a=fmtp:" + payloadType + " "
	for _, line := range section {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// insertBandwidth adds b=AS after the section's c= line (or directly
// after m= when the section has none) unless the section already
// carries a b=AS line.
func insertBandwidth(section []string, kbps int) []string {
	if kbps <= 0 {
		return section
	}
	at := 1
	for i, line := range section {
		if strings.HasPrefix(line, "b=AS:") {
			return section
		}
		if strings.HasPrefix(line, "c=") {
			at = i + 1
		}
	}
	out := make([]string, 0, len(section)+1)
	out = append(out, section[:at]...)
	out = append(out, "b=AS:"+strconv.Itoa(kbps))
	return append(out, section[at:]...)
}
