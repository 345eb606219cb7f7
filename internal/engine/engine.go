package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/xchange/internal/channel"
	"github.com/roach88/xchange/internal/model"
	"github.com/roach88/xchange/internal/store"
	"github.com/roach88/xchange/internal/wire"
)

// Recorder receives counters for committed work. The metrics package
// provides the Prometheus implementation; a nil Recorder is replaced by a
// no-op.
type Recorder interface {
	Transition(op, result string)
	Escrow(movement string, amount model.Amount)
	Outbound(tag, result string)
	Inbound(tag, result string)
}

type nopRecorder struct{}

func (nopRecorder) Transition(string, string)  {}
func (nopRecorder) Escrow(string, model.Amount) {}
func (nopRecorder) Outbound(string, string)    {}
func (nopRecorder) Inbound(string, string)     {}

// Engine runs the protocol for one domain.
//
// Thread-safety model:
//   - Local operations (Register, Submit, ...): safe from any goroutine,
//     serialized by the engine mutex
//   - Enqueue(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	mu sync.Mutex

	domain  model.DomainID
	store   store.Backend
	sender  channel.Sender
	now     TimeSource
	clock   *Clock
	tokens  TokenGenerator
	policy  AcceptPolicy
	metrics Recorder
	logger  *slog.Logger
	limiter *channel.MapLimiter
	queue   *deliveryQueue
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeSource sets the source of "now" for deadline checks.
// Default: SystemTime.
func WithTimeSource(ts TimeSource) Option {
	return func(e *Engine) { e.now = ts }
}

// WithTokenGenerator sets the trace token generator.
// Default: UUIDv7Generator.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithAcceptPolicy sets the policy applied when a local device receives an
// order. Default: ManualAccept.
func WithAcceptPolicy(p AcceptPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithInboundLimiter drops inbound deliveries from senders exceeding their
// rate. A dropped delivery is indistinguishable from a lost message.
func WithInboundLimiter(l *channel.MapLimiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// New creates the engine for domain over backend. The logical clock resumes
// from the store's last event seq. sender may be nil, in which case every
// outbound send fails as unreachable.
func New(ctx context.Context, domain model.DomainID, backend store.Backend, sender channel.Sender, opts ...Option) (*Engine, error) {
	if domain == "" {
		return nil, fmt.Errorf("new engine: %w", model.ErrEmptyID)
	}
	last, err := backend.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	e := &Engine{
		domain:  domain,
		store:   backend,
		sender:  sender,
		now:     SystemTime{},
		clock:   NewClockAt(last),
		tokens:  UUIDv7Generator{},
		policy:  ManualAccept{},
		metrics: nopRecorder{},
		logger:  slog.Default(),
		queue:   newDeliveryQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Domain returns the engine's own domain.
func (e *Engine) Domain() model.DomainID { return e.domain }

// outbound is a frame waiting for commit.
type outbound struct {
	dest  model.DomainID
	tag   wire.Tag
	frame []byte
	msg   wire.Message
}

type escrowMove struct {
	movement string
	amount   model.Amount
}

// txn is the per-transition context: the store transaction plus what the
// transition will publish once it commits.
type txn struct {
	store.Tx
	e      *Engine
	op     string
	token  string
	now    model.Moment
	out    []outbound
	moves  []escrowMove
}

// run executes fn as one atomic transition.
func (e *Engine) run(ctx context.Context, op string, fn func(t *txn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &txn{
		e:     e,
		op:    op,
		token: e.tokens.Generate(),
		now:   e.now.Now(),
	}
	mark := e.clock.Current()
	err := e.store.Update(ctx, func(tx store.Tx) error {
		t.Tx = tx
		return fn(t)
	})
	if err != nil {
		e.clock.Rewind(mark)
		var pe *ProtocolError
		if errors.As(err, &pe) {
			if pe.Op == "" {
				pe.Op = op
			}
			e.metrics.Transition(op, string(pe.Kind))
		} else {
			e.metrics.Transition(op, "error")
		}
		return err
	}

	e.metrics.Transition(op, "ok")
	for _, m := range t.moves {
		e.metrics.Escrow(m.movement, m.amount)
	}
	e.flush(ctx, t)
	return nil
}

// emit appends an event stamped with the next logical seq.
func (t *txn) emit(kind model.EventKind, device, client model.AccountID, peer model.DomainID, detail string) error {
	ev := model.Event{
		Seq:    t.e.clock.Next(),
		Kind:   kind,
		Device: device,
		Client: client,
		Peer:   peer,
		Token:  t.token,
		Detail: detail,
	}
	return t.AppendEvent(ev)
}

// send encodes msg for dest. The frame leaves only after commit.
func (t *txn) send(dest model.DomainID, msg wire.Message) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Tag(), err)
	}
	t.out = append(t.out, outbound{dest: dest, tag: msg.Tag(), frame: frame, msg: msg})
	return nil
}

// flush hands committed frames to the channel. Failures are logged,
// counted, and recorded as SendFailed; the transition stays committed.
// Caller holds e.mu.
func (e *Engine) flush(ctx context.Context, t *txn) {
	for _, o := range t.out {
		err := channel.ErrUnreachable
		if e.sender != nil {
			err = e.sender.Send(ctx, o.dest, o.frame)
		}
		if err == nil {
			e.metrics.Outbound(o.tag.String(), "sent")
			e.logger.Debug("message sent",
				"tag", o.tag.String(),
				"dest", o.dest,
				"token", t.token,
				"digest", model.MessageDigest(o.frame),
			)
			continue
		}

		e.metrics.Outbound(o.tag.String(), "failed")
		client, device := o.msg.Parties()
		e.logger.Warn("message send failed",
			"tag", o.tag.String(),
			"dest", o.dest,
			"device", device,
			"client", client,
			"token", t.token,
			"error", err,
		)
		e.recordSendFailure(ctx, t.token, o, err)
	}
}

func (e *Engine) recordSendFailure(ctx context.Context, token string, o outbound, sendErr error) {
	client, device := o.msg.Parties()
	pe := &ProtocolError{
		Kind:    KindCannotReachDestination,
		Op:      "send." + o.tag.String(),
		Device:  device,
		Message: sendErr.Error(),
	}
	mark := e.clock.Current()
	err := e.store.Update(ctx, func(tx store.Tx) error {
		return tx.AppendEvent(model.Event{
			Seq:    e.clock.Next(),
			Kind:   model.EventSendFailed,
			Device: device,
			Client: client,
			Peer:   o.dest,
			Token:  token,
			Detail: o.tag.String(),
		})
	})
	if err != nil {
		e.clock.Rewind(mark)
		e.logger.Error("record send failure",
			"device", device,
			"error", errors.Join(pe, err),
		)
	}
}

// Enqueue submits an inbound delivery for Run or ProcessPending.
// Returns false if the delivery was rate limited or the engine stopped.
func (e *Engine) Enqueue(d channel.Delivery) bool {
	if !e.limiter.Allow(string(d.Sender), time.Now()) {
		e.metrics.Inbound("unknown", "rate_limited")
		e.logger.Warn("inbound delivery rate limited",
			"sender", d.Sender,
			"seq", d.SeqHint,
		)
		return false
	}
	return e.queue.Enqueue(d)
}

// QueueLen returns the number of deliveries waiting.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// ProcessPending applies every queued delivery and returns how many were
// applied successfully. Failures are logged and dropped.
func (e *Engine) ProcessPending(ctx context.Context) int {
	applied := 0
	for {
		if ctx.Err() != nil {
			return applied
		}
		d, ok := e.queue.TryDequeue()
		if !ok {
			return applied
		}
		if err := e.HandleInbound(ctx, d); err == nil {
			applied++
		}
	}
}

// Run applies inbound deliveries until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// A delivery that fails is logged and dropped; processing continues. Once
// ctx is cancelled Run returns without dequeuing, leaving the queue open and
// any backlog for ProcessPending. A delivery already dequeued is applied
// to completion.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "domain", e.domain)
	applyCtx := context.WithoutCancel(ctx)

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("engine stopping: context cancelled",
				"domain", e.domain,
				"queued", e.queue.Len(),
			)
			return err
		}
		d, ok := e.queue.TryDequeue()
		if ok {
			_ = e.HandleInbound(applyCtx, d)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled", "domain", e.domain)
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue, so this fires
			// immediately once stopped.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed", "domain", e.domain)
				return nil
			}
		}
	}
}

// Stop closes the inbound queue, which makes Run return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Device returns the stored profile for account.
func (e *Engine) Device(ctx context.Context, account model.AccountID) (model.DeviceProfile, bool, error) {
	var (
		p  model.DeviceProfile
		ok bool
	)
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		p, ok, err = tx.Device(account)
		return err
	})
	return p, ok, err
}

// Order returns the active order for device.
func (e *Engine) Order(ctx context.Context, device model.AccountID) (model.Order, bool, error) {
	var (
		o  model.Order
		ok bool
	)
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		o, ok, err = tx.Order(device)
		return err
	})
	return o, ok, err
}

// Balance returns the ledger position of account.
func (e *Engine) Balance(ctx context.Context, account model.AccountID) (model.Balance, error) {
	var b model.Balance
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		b, err = tx.Balance(account)
		return err
	})
	return b, err
}

// Events returns recorded events with seq > since.
func (e *Engine) Events(ctx context.Context, since int64) ([]model.Event, error) {
	return e.store.Events(ctx, since)
}
