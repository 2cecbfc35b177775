// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/kvrtc/gathering"
	"github.com/bureau-foundation/kvrtc/lib/clock"
	"github.com/bureau-foundation/kvrtc/media"
	"github.com/bureau-foundation/kvrtc/sdptransform"
	"github.com/bureau-foundation/kvrtc/signaling"
	"github.com/bureau-foundation/kvrtc/telemetry"
	"github.com/bureau-foundation/kvrtc/transport"
)

// DefaultPollInterval is the store polling period.
const DefaultPollInterval = time.Second

// Config configures a Coordinator.
type Config struct {
	// Adapter belongs to the coordinator; Close cancels all its watches.
	Adapter *signaling.Adapter

	NewTransport transport.Factory
	Clock        clock.Clock

	// Capturer supplies the sender's local stream. Nil sends no media.
	Capturer media.Capturer

	// OnIncomingStream receives the receiver's remote tracks.
	OnIncomingStream func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// GatheringTimeout defaults to gathering.DefaultTimeout.
	GatheringTimeout time.Duration

	// Transform rewrites generated offers. Nil publishes them as the
	// transport produced them.
	Transform *sdptransform.Options

	// TelemetryInterval enables bitrate sampling when positive.
	TelemetryInterval time.Duration
	Metrics           *telemetry.Metrics

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// SenderOptions selects the sender's media source.
type SenderOptions struct {
	UseCamera bool
}

// attempt holds the resources of one Start call. Fields other than ctx,
// cancel, role, settled, and wg are guarded by Coordinator.mu.
type attempt struct {
	ctx     context.Context
	cancel  context.CancelFunc
	role    Role
	logger  *slog.Logger
	settled chan struct{}
	settle  sync.Once
	wg      sync.WaitGroup

	transport    transport.Transport
	tracker      *gathering.Tracker
	stream       *media.Stream
	subscription *signaling.Subscription

	published     bool
	remoteApplied bool
	ended         bool
}

func (a *attempt) markSettled() {
	a.settle.Do(func() { close(a.settled) })
}

// Coordinator runs negotiation attempts one at a time.
type Coordinator struct {
	adapter           *signaling.Adapter
	newTransport      transport.Factory
	capturer          media.Capturer
	onIncomingStream  func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	clock             clock.Clock
	pollInterval      time.Duration
	gatheringTimeout  time.Duration
	transform         *sdptransform.Options
	telemetryInterval time.Duration
	metrics           *telemetry.Metrics
	logger            *slog.Logger

	// deliverMu serializes remote description delivery from the poller
	// and from DeliverRemote.
	deliverMu sync.Mutex

	mu             sync.Mutex
	session        Session
	attempt        *attempt
	closed         bool
	subscribers    map[int]chan Session
	nextSubscriber int
}

// NewCoordinator returns an Idle coordinator. Adapter, NewTransport,
// and Clock are required.
func NewCoordinator(config Config) *Coordinator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	gatheringTimeout := config.GatheringTimeout
	if gatheringTimeout <= 0 {
		gatheringTimeout = gathering.DefaultTimeout
	}
	return &Coordinator{
		adapter:           config.Adapter,
		newTransport:      config.NewTransport,
		capturer:          config.Capturer,
		onIncomingStream:  config.OnIncomingStream,
		clock:             config.Clock,
		pollInterval:      pollInterval,
		gatheringTimeout:  gatheringTimeout,
		transform:         config.Transform,
		telemetryInterval: config.TelemetryInterval,
		metrics:           config.Metrics,
		logger:            logger,
		subscribers:       make(map[int]chan Session),
	}
}

// StartAsSender begins an attempt in the sender role. It returns once
// the offer is handed to the transport; publishing and answer polling
// continue in the background until the attempt settles or ctx ends.
func (c *Coordinator) StartAsSender(ctx context.Context, options SenderOptions) error {
	a, err := c.begin(ctx, RoleSender)
	if err != nil {
		return err
	}

	// Stale records from an earlier attempt would otherwise be read as
	// this attempt's answer.
	if err := c.adapter.Clear(a.ctx, signaling.KeyAnswer, signaling.KeyOffer); err != nil {
		a.logger.Warn("clearing stale descriptions failed", "error", err)
	}

	peer, err := c.setupTransport(a, transport.Outbound)
	if err != nil {
		return c.fail(a, err)
	}

	if c.capturer != nil {
		stream, err := c.capturer.GetLocalStream(a.ctx, options.UseCamera)
		if err != nil {
			return c.fail(a, &TransportSetupError{Stage: "local stream", Err: err})
		}
		if !c.attach(a, func() { a.stream = stream }) {
			stream.Close()
			return ErrReset
		}
		for _, track := range stream.Tracks() {
			if _, err := peer.AddTrack(track); err != nil {
				return c.fail(a, &TransportSetupError{Stage: "add track", Err: err})
			}
		}
	}

	offer, err := peer.CreateLocalDescription(webrtc.SDPTypeOffer)
	if err != nil {
		return c.fail(a, &DescriptionGenerationError{Kind: webrtc.SDPTypeOffer, Err: err})
	}
	if c.transform != nil {
		offer.SDP = sdptransform.Transform(offer.SDP, *c.transform)
	}

	c.trackerOf(a).Start()
	if err := peer.SetLocalDescription(offer); err != nil {
		return c.fail(a, &DescriptionGenerationError{Kind: webrtc.SDPTypeOffer, Err: err})
	}
	a.logger.Info("offer created, gathering candidates")
	return nil
}

// StartAsReceiver begins an attempt in the receiver role and starts
// polling for an offer.
func (c *Coordinator) StartAsReceiver(ctx context.Context) error {
	a, err := c.begin(ctx, RoleReceiver)
	if err != nil {
		return err
	}
	if _, err := c.setupTransport(a, transport.Inbound); err != nil {
		return c.fail(a, err)
	}
	c.watch(a, signaling.KeyOffer)
	a.logger.Info("waiting for offer")
	return nil
}

// DeliverRemote applies a description obtained out of band. It shares
// the poller's delivery path: the first valid description wins and
// later ones return applied=false with no error.
func (c *Coordinator) DeliverRemote(ctx context.Context, raw string) (applied bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	a := c.attempt
	c.mu.Unlock()
	if a == nil {
		return false, ErrNotStarted
	}

	applied, err = c.deliver(a, raw, "manual")
	if applied {
		c.mu.Lock()
		subscription := a.subscription
		a.subscription = nil
		c.mu.Unlock()
		if subscription != nil {
			subscription.Cancel()
		}
	}
	return applied, err
}

// Snapshot returns the current session.
func (c *Coordinator) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Subscribe returns a channel carrying the latest session after every
// change, starting with the current one. Slow readers see only the
// most recent snapshot. The channel is closed by cancel or Close.
func (c *Coordinator) Subscribe() (<-chan Session, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan Session, 1)
	channel <- c.session
	if c.closed {
		close(channel)
		return channel, func() {}
	}
	id := c.nextSubscriber
	c.nextSubscriber++
	c.subscribers[id] = channel
	return channel, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(existing)
		}
	}
}

// Wait blocks until the current attempt is Connected or Failed. A
// Failed attempt returns its error.
func (c *Coordinator) Wait(ctx context.Context) (Session, error) {
	c.mu.Lock()
	a := c.attempt
	c.mu.Unlock()
	if a == nil {
		return c.Snapshot(), ErrNotStarted
	}

	select {
	case <-a.settled:
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != a {
		return c.session, ErrReset
	}
	if c.session.ConnectionState == Failed {
		return c.session, c.session.LastError
	}
	return c.session, nil
}

// Reset abandons the current attempt and returns to Idle. It cancels
// polling, stops gathering and sampling, and closes the transport,
// waiting for background work until ctx ends.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	a := c.attempt
	c.attempt = nil
	c.session = Session{ConnectionState: Idle}
	c.notifyLocked()
	c.mu.Unlock()

	if a == nil {
		return nil
	}
	a.logger.Info("attempt reset")
	return c.teardown(ctx, a)
}

// Close resets and refuses further attempts. Every watch on the
// adapter is cancelled and subscriber channels are closed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Reset(context.Background())
	c.adapter.CancelAll()

	c.mu.Lock()
	for id, channel := range c.subscribers {
		delete(c.subscribers, id)
		close(channel)
	}
	c.mu.Unlock()
	return err
}

func (c *Coordinator) begin(ctx context.Context, role Role) (*attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.session.ConnectionState != Idle {
		return nil, ErrAlreadyStarted
	}

	id := uuid.NewString()
	attemptCtx, cancel := context.WithCancel(ctx)
	a := &attempt{
		ctx:     attemptCtx,
		cancel:  cancel,
		role:    role,
		logger:  c.logger.With("session", id, "role", role.String()),
		settled: make(chan struct{}),
	}
	c.attempt = a
	c.session = Session{
		ID:              id,
		Role:            role,
		StartedAt:       c.clock.Now(),
		ConnectionState: Negotiating,
		GatheringState:  gathering.InProgress,
		PeerState:       webrtc.PeerConnectionStateNew,
	}
	c.notifyLocked()

	// Cancelling the caller's context fails a negotiation that has not
	// settled. After Reset the attempt is no longer current and fail
	// does nothing.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-attemptCtx.Done():
			c.fail(a, fmt.Errorf("negotiation cancelled: %w", attemptCtx.Err()))
		case <-a.settled:
		}
	}()
	a.logger.Info("negotiation started")
	return a, nil
}

func (c *Coordinator) setupTransport(a *attempt, direction transport.Direction) (transport.Transport, error) {
	peer, err := c.newTransport()
	if err != nil {
		return nil, &TransportSetupError{Stage: "create", Err: err}
	}
	tracker := gathering.New(c.clock, c.gatheringTimeout, func(state gathering.State) {
		c.spawn(a, func() { c.publishLocal(a, state) })
	})
	if !c.attach(a, func() {
		a.transport = peer
		a.tracker = tracker
	}) {
		peer.Close()
		return nil, ErrReset
	}

	peer.OnCandidate(func(candidate *webrtc.ICECandidate) {
		tracker.Observe(candidate)
		c.update(a, func(session *Session) { session.Candidates = tracker.Candidates() })
	})
	peer.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		a.logger.Info("peer connection state changed", "state", state.String())
		c.update(a, func(session *Session) { session.PeerState = state })
	})
	if a.role == RoleReceiver && c.onIncomingStream != nil {
		peer.OnIncomingStream(c.onIncomingStream)
	}

	if c.telemetryInterval > 0 {
		sampler := telemetry.NewSampler(telemetry.SamplerConfig{
			Source:    peer,
			Direction: direction,
			Clock:     c.clock,
			Interval:  c.telemetryInterval,
			Metrics:   c.metrics,
			Logger:    a.logger,
			OnSample: func(sample telemetry.Sample) {
				c.update(a, func(session *Session) { session.BitrateKbps = sample.RateKbps })
			},
		})
		c.spawn(a, func() { sampler.Run(a.ctx) })
	}
	return peer, nil
}

// publishLocal runs once per attempt, when gathering is final.
func (c *Coordinator) publishLocal(a *attempt, state gathering.State) {
	c.mu.Lock()
	if c.attempt != a || a.ended {
		c.mu.Unlock()
		return
	}
	peer := a.transport
	tracker := a.tracker
	c.mu.Unlock()

	local := peer.LocalDescription()
	kind := webrtc.SDPTypeOffer
	key := signaling.KeyOffer
	if a.role == RoleReceiver {
		kind = webrtc.SDPTypeAnswer
		key = signaling.KeyAnswer
	}

	c.mu.Lock()
	if c.attempt != a {
		c.mu.Unlock()
		return
	}
	c.session.GatheringState = state
	c.session.Candidates = tracker.Candidates()
	if local == nil {
		c.mu.Unlock()
		c.fail(a, &DescriptionGenerationError{Kind: kind, Err: errors.New("no local description after gathering")})
		return
	}
	if c.session.LocalDescription != nil {
		c.mu.Unlock()
		return
	}
	c.session.LocalDescription = local
	c.notifyLocked()
	c.mu.Unlock()

	a.logger.Info("local description final", "gathering", state.String(), "candidates", tracker.Candidates())

	record := signaling.Record{Type: local.Type.String(), SDP: local.SDP}
	if err := c.adapter.Publish(a.ctx, key, record); err != nil {
		if a.ctx.Err() != nil {
			return
		}
		c.fail(a, fmt.Errorf("publishing %s: %w", key, err))
		return
	}

	c.mu.Lock()
	if c.attempt != a {
		c.mu.Unlock()
		return
	}
	a.published = true
	if a.role == RoleReceiver {
		if c.session.ConnectionState == Negotiating {
			c.session.ConnectionState = Connected
			a.markSettled()
			c.notifyLocked()
		}
		c.mu.Unlock()
		a.logger.Info("answer published, negotiation complete")
		return
	}
	c.mu.Unlock()

	c.watch(a, signaling.KeyAnswer)
	a.logger.Info("offer published, waiting for answer")
}

// watch polls key for the remote description. A watch that starts
// after the remote description was applied, or after the attempt left
// Negotiating, is cancelled at once.
func (c *Coordinator) watch(a *attempt, key string) *signaling.Subscription {
	subscription := c.adapter.Watch(a.ctx, key, c.pollInterval, func(ctx context.Context, value string) error {
		_, err := c.deliver(a, value, "poll")
		return err
	})
	c.mu.Lock()
	if a.ended || c.attempt != a || a.remoteApplied || c.session.ConnectionState != Negotiating {
		c.mu.Unlock()
		subscription.Cancel()
		return subscription
	}
	if !subscription.Satisfied() {
		a.subscription = subscription
	}
	c.mu.Unlock()
	return subscription
}

// deliver is the single entry point for remote descriptions. A fatal
// error raised while answering fails the attempt; it is returned to
// manual callers and stops the poller.
func (c *Coordinator) deliver(a *attempt, raw, source string) (bool, error) {
	c.deliverMu.Lock()
	applied, fatal, err := c.applyRemote(a, raw, source)
	c.deliverMu.Unlock()

	if fatal != nil {
		return applied, c.fail(a, fatal)
	}
	if err != nil && source == "manual" {
		a.logger.Warn("rejected remote description", "source", source, "error", err)
	}
	return applied, err
}

func (c *Coordinator) applyRemote(a *attempt, raw, source string) (applied bool, fatal, err error) {
	c.mu.Lock()
	if c.attempt != a || a.ended || a.remoteApplied || c.session.ConnectionState != Negotiating {
		c.mu.Unlock()
		return false, nil, nil
	}
	if a.role == RoleSender && !a.published {
		c.mu.Unlock()
		return false, nil, ErrLocalNotPublished
	}
	peer := a.transport
	tracker := a.tracker
	c.mu.Unlock()
	if peer == nil {
		return false, nil, ErrNotReady
	}

	expected := webrtc.SDPTypeOffer
	if a.role == RoleSender {
		expected = webrtc.SDPTypeAnswer
	}
	description, err := ParseDescription(raw, expected)
	if err != nil {
		return false, nil, &InvalidRemoteDescriptionError{Source: source, Err: err}
	}
	if err := peer.SetRemoteDescription(description); err != nil {
		return false, nil, &InvalidRemoteDescriptionError{Source: source, Err: fmt.Errorf("applying: %w", err)}
	}

	c.mu.Lock()
	if c.attempt != a {
		c.mu.Unlock()
		return false, nil, nil
	}
	a.remoteApplied = true
	c.session.RemoteDescription = &description
	if a.role == RoleSender {
		c.session.ConnectionState = Connected
		a.markSettled()
	}
	c.notifyLocked()
	c.mu.Unlock()
	a.logger.Info("remote description applied", "source", source, "type", description.Type.String())

	if a.role == RoleSender {
		return true, nil, nil
	}

	answer, err := peer.CreateLocalDescription(webrtc.SDPTypeAnswer)
	if err != nil {
		return true, &DescriptionGenerationError{Kind: webrtc.SDPTypeAnswer, Err: err}, nil
	}
	tracker.Start()
	if err := peer.SetLocalDescription(answer); err != nil {
		return true, &DescriptionGenerationError{Kind: webrtc.SDPTypeAnswer, Err: err}, nil
	}
	a.logger.Info("answer created, gathering candidates")
	return true, nil, nil
}

// fail moves a negotiating attempt to Failed and returns err.
func (c *Coordinator) fail(a *attempt, err error) error {
	c.mu.Lock()
	if c.attempt != a || c.session.ConnectionState != Negotiating {
		c.mu.Unlock()
		return err
	}
	c.session.ConnectionState = Failed
	c.session.LastError = err
	subscription := a.subscription
	a.subscription = nil
	tracker := a.tracker
	a.markSettled()
	c.notifyLocked()
	c.mu.Unlock()

	a.logger.Error("negotiation failed", "error", err)
	if subscription != nil {
		subscription.Cancel()
	}
	if tracker != nil {
		tracker.Stop()
	}
	return err
}

func (c *Coordinator) teardown(ctx context.Context, a *attempt) error {
	c.mu.Lock()
	a.ended = true
	subscription := a.subscription
	a.subscription = nil
	tracker := a.tracker
	stream := a.stream
	peer := a.transport
	c.mu.Unlock()

	a.cancel()
	a.markSettled()
	if subscription != nil {
		subscription.Cancel()
	}
	if tracker != nil {
		tracker.Stop()
	}
	if stream != nil {
		stream.Close()
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			a.logger.Warn("closing transport failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attach runs assign under the lock unless the attempt has ended.
func (c *Coordinator) attach(a *attempt, assign func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.ended {
		return false
	}
	assign()
	return true
}

// spawn runs fn on a goroutine that teardown waits for.
func (c *Coordinator) spawn(a *attempt, fn func()) {
	c.mu.Lock()
	if a.ended {
		c.mu.Unlock()
		return
	}
	a.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (c *Coordinator) trackerOf(a *attempt) *gathering.Tracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return a.tracker
}

// update applies change to the session if a is still current.
func (c *Coordinator) update(a *attempt, change func(*Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != a {
		return
	}
	change(&c.session)
	c.notifyLocked()
}

func (c *Coordinator) notifyLocked() {
	snapshot := c.session
	for _, channel := range c.subscribers {
		select {
		case channel <- snapshot:
		default:
			// Replace the unread snapshot with the newer one. Only
			// this function sends, under mu, so the second send
			// cannot block.
			select {
			case <-channel:
			default:
			}
			channel <- snapshot
		}
	}
}
