// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the point-to-point media connection between the
// sender and the receiver.
//
// [Transport] is the narrow surface the negotiation needs: produce an
// offer or answer, apply local and remote descriptions, report
// discovered candidates and incoming streams, attach local tracks, and
// report cumulative RTP byte counters for the bitrate sampler. The
// negotiation code depends only on this interface, so its tests drive
// a scripted fake instead of a real ICE agent.
//
// [PeerTransport] implements Transport on a pion/webrtc PeerConnection
// with the default codec set and interceptors (NACK, RTCP reports,
// stats). Trickle candidates are surfaced through OnCandidate but never
// sent anywhere: the description is published once, after gathering,
// so it already contains every candidate.
//
// [ICEConfig] lists the STUN and TURN servers used during gathering.
package transport
