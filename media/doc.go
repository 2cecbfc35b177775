// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package media supplies the local video stream a sender publishes
// and consumes the stream a receiver gets.
//
// A [Capturer] produces a [Stream]: one [webrtc.TrackLocalStaticSample]
// fed by a goroutine that reads either a pre-recorded file (Annex-B
// H.264 or IVF, looped and paced at the frame rate) or a camera
// device emitting Annex-B H.264. A [Recorder] is the incoming side: it
// writes the remote video track to an H.264 or IVF file, or drains it
// when no output is configured.
package media
