package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"chatcall_realtime/internal/clock"
	"chatcall_realtime/internal/model"
)

// TokenStore is the token side of the user collaborator.
type TokenStore interface {
	GetPushTokens(ctx context.Context, userID int64) ([]model.PushToken, error)
	RemovePushTokens(ctx context.Context, userID int64, provider string, tokens []string) error
	TouchPushTokens(ctx context.Context, userID int64, provider string, tokens []string, at time.Time) error
}

type Options struct {
	Timeout      time.Duration // per provider call
	Concurrency  int           // provider calls in flight across all recipients
	DedupeWindow time.Duration
	Clock        clock.Clock
}

// Attempt is the tally of one provider call for one recipient.
type Attempt struct {
	Provider  string
	Class     Class
	Tokens    int
	Delivered int
	Invalid   int
	Transient int
}

// Report summarizes one dispatch. Err is set only when tokens could not be read.
type Report struct {
	RecipientID   int64
	Kind          Kind
	CorrelationID string
	Attempts      []Attempt
	Suppressed    bool
	Err           error
}

func (r Report) Delivered() int {
	n := 0
	for _, a := range r.Attempts {
		n += a.Delivered
	}
	return n
}

// AttemptsIn counts provider calls made for class.
func (r Report) AttemptsIn(class Class) int {
	n := 0
	for _, a := range r.Attempts {
		if a.Class == class {
			n++
		}
	}
	return n
}

// Dispatcher selects provider paths and delivers pushes. Each Notify call
// blocks until its provider calls finish; callers run it off the event path.
type Dispatcher struct {
	tokens  TokenStore
	senders map[string]Sender
	dedupe  *Deduper
	clock   clock.Clock
	timeout time.Duration
	limit   *semaphore.Weighted

	tokenOutcomes metric.Int64Counter
	prunedTokens  metric.Int64Counter
	logger        zerolog.Logger
}

// NewDispatcher wires senders keyed by provider name (model.Provider*).
// Providers without a sender are skipped.
func NewDispatcher(tokens TokenStore, senders map[string]Sender, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	meter := otel.Meter("chatcall_realtime/push")
	outcomes, _ := meter.Int64Counter("push.tokens",
		metric.WithDescription("Push token outcomes by provider"))
	pruned, _ := meter.Int64Counter("push.tokens.pruned",
		metric.WithDescription("Permanently invalid tokens removed"))

	return &Dispatcher{
		tokens:        tokens,
		senders:       senders,
		dedupe:        NewDeduper(opts.DedupeWindow, opts.Clock),
		clock:         opts.Clock,
		timeout:       opts.Timeout,
		limit:         semaphore.NewWeighted(int64(opts.Concurrency)),
		tokenOutcomes: outcomes,
		prunedTokens:  pruned,
		logger:        logger.With().Str("component", "Dispatcher").Logger(),
	}
}

// Deduper exposes the call-end suppression map for periodic sweeping.
func (d *Dispatcher) Deduper() *Deduper { return d.dedupe }

// NotifyIncomingCall rings the recipient. Classes are tried VoIP, platform,
// gateway; the first class that delivers to at least one token wins.
func (d *Dispatcher) NotifyIncomingCall(ctx context.Context, n CallNotice) Report {
	if n.CorrelationID == "" {
		n.CorrelationID = uuid.NewString()
	}
	kind := KindIncomingCall
	if n.Group {
		kind = KindIncomingGroupCall
	}
	payloads := callPayloads(n)
	return d.deliverFirst(ctx, n.RecipientID, kind, n.CorrelationID, callOrder, func(c Class) Payload {
		return payloads[c]
	})
}

// NotifyCallEnded sends a silent teardown push, suppressed when the same
// (sender, recipient, chat, callUuid) was pushed within the dedupe window.
func (d *Dispatcher) NotifyCallEnded(ctx context.Context, n CallEndNotice) Report {
	if n.CorrelationID == "" {
		n.CorrelationID = uuid.NewString()
	}
	if !d.dedupe.Allow(n.DedupeKey()) {
		d.logger.Debug().Int64("user", n.RecipientID).Int64("chat", n.ChatID).
			Str("call_uuid", n.CallUUID).Msg("duplicate call-end push suppressed")
		return Report{RecipientID: n.RecipientID, Kind: KindCallEnded, CorrelationID: n.CorrelationID, Suppressed: true}
	}
	p := callEndPayload(n)
	return d.deliverFirst(ctx, n.RecipientID, KindCallEnded, n.CorrelationID, callEndOrder, func(Class) Payload {
		return p
	})
}

// NotifyMessage pushes to every non-VoIP class the recipient holds tokens
// for, concurrently. PushKit requires every VoIP push to report a call, so
// messages never use it.
func (d *Dispatcher) NotifyMessage(ctx context.Context, n MessageNotice) Report {
	if n.CorrelationID == "" {
		n.CorrelationID = uuid.NewString()
	}
	rep := Report{RecipientID: n.RecipientID, Kind: KindNewMessage, CorrelationID: n.CorrelationID}

	byClass, err := d.loadTokens(ctx, n.RecipientID)
	if err != nil {
		rep.Err = err
		return rep
	}

	if len(byClass[ClassVoIP]) > 0 && len(byClass[ClassPlatform])+len(byClass[ClassGateway]) == 0 {
		d.logger.Warn().Int64("user", n.RecipientID).Int64("chat", n.ChatID).Int("voip_tokens", len(byClass[ClassVoIP])).
			Str("correlation_id", n.CorrelationID).Msg("recipient holds only VoIP tokens, message push skipped")
		return rep
	}

	p := messagePayload(n)
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, class := range messageClasses {
		toks := byClass[class]
		if len(toks) == 0 {
			continue
		}
		g.Go(func() error {
			attempts := d.sendClass(ctx, n.RecipientID, KindNewMessage, class, toks, p)
			mu.Lock()
			rep.Attempts = append(rep.Attempts, attempts...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

func (d *Dispatcher) deliverFirst(ctx context.Context, userID int64, kind Kind, correlationID string, order []Class, payloadFor func(Class) Payload) Report {
	rep := Report{RecipientID: userID, Kind: kind, CorrelationID: correlationID}

	byClass, err := d.loadTokens(ctx, userID)
	if err != nil {
		rep.Err = err
		return rep
	}

	for _, class := range order {
		toks := byClass[class]
		if len(toks) == 0 {
			continue
		}
		attempts := d.sendClass(ctx, userID, kind, class, toks, payloadFor(class))
		rep.Attempts = append(rep.Attempts, attempts...)
		if delivered(attempts) > 0 {
			return rep
		}
		d.logger.Warn().Int64("user", userID).Str("kind", string(kind)).Str("class", string(class)).
			Msg("no token delivered, falling back to next class")
	}

	if len(rep.Attempts) == 0 {
		d.logger.Debug().Int64("user", userID).Str("kind", string(kind)).Msg("recipient has no usable push tokens")
	}
	return rep
}

// loadTokens groups the recipient's tokens by class, deduplicated by value.
func (d *Dispatcher) loadTokens(ctx context.Context, userID int64) (map[Class][]model.PushToken, error) {
	tokens, err := d.tokens.GetPushTokens(ctx, userID)
	if err != nil {
		err = model.Persistence("get push tokens", err)
		d.logger.Error().Err(err).Int64("user", userID).Msg("token lookup failed")
		return nil, err
	}

	seen := make(map[Class]map[string]struct{})
	byClass := make(map[Class][]model.PushToken)
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		c := ClassOf(t.Provider)
		if seen[c] == nil {
			seen[c] = make(map[string]struct{})
		}
		if _, dup := seen[c][t.Token]; dup {
			continue
		}
		seen[c][t.Token] = struct{}{}
		byClass[c] = append(byClass[c], t)
	}
	return byClass, nil
}

// sendClass calls each provider of a class in parallel.
func (d *Dispatcher) sendClass(ctx context.Context, userID int64, kind Kind, class Class, toks []model.PushToken, p Payload) []Attempt {
	byProvider := make(map[string][]string)
	var providers []string
	for _, t := range toks {
		if _, ok := byProvider[t.Provider]; !ok {
			providers = append(providers, t.Provider)
		}
		byProvider[t.Provider] = append(byProvider[t.Provider], t.Token)
	}

	var (
		mu       sync.Mutex
		attempts []Attempt
		g        errgroup.Group
	)
	for _, provider := range providers {
		sender, ok := d.senders[provider]
		if !ok {
			d.logger.Debug().Str("provider", provider).Msg("no sender configured, skipping tokens")
			continue
		}
		g.Go(func() error {
			a := d.sendProvider(ctx, userID, kind, class, provider, sender, byProvider[provider], p)
			mu.Lock()
			attempts = append(attempts, a)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return attempts
}

func (d *Dispatcher) sendProvider(ctx context.Context, userID int64, kind Kind, class Class, provider string, sender Sender, tokens []string, p Payload) Attempt {
	a := Attempt{Provider: provider, Class: class, Tokens: len(tokens)}
	log := d.logger.With().Int64("user", userID).Str("provider", provider).Str("kind", string(kind)).Logger()

	if err := d.limit.Acquire(ctx, 1); err != nil {
		a.Transient = len(tokens)
		log.Warn().Err(err).Msg("dispatch cancelled before provider call")
		return a
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	results, err := sender.Send(callCtx, tokens, p)
	cancel()
	d.limit.Release(1)

	if err != nil {
		log.Warn().Err(fmt.Errorf("%w: %v", model.ErrProviderDelivery, err)).Msg("provider call failed")
	}

	byToken := make(map[string]Result, len(results))
	for _, r := range results {
		byToken[r.Token] = r
	}

	var invalid, delivered []string
	for _, tok := range tokens {
		r, ok := byToken[tok]
		if !ok {
			r = Result{Token: tok, Outcome: Transient, Reason: "no result"}
		}
		switch r.Outcome {
		case Delivered:
			a.Delivered++
			delivered = append(delivered, tok)
		case Invalid:
			a.Invalid++
			invalid = append(invalid, tok)
		default:
			a.Transient++
			log.Debug().Str("reason", r.Reason).Msg("transient token failure")
		}
		d.record(ctx, provider, r.Outcome)
	}

	// Store writes outlive the provider call's deadline.
	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer storeCancel()

	if len(invalid) > 0 {
		if err := d.tokens.RemovePushTokens(storeCtx, userID, provider, invalid); err != nil {
			log.Error().Err(model.Persistence("remove push tokens", err)).Msg("prune failed")
		} else if d.prunedTokens != nil {
			d.prunedTokens.Add(ctx, int64(len(invalid)), metric.WithAttributes(attribute.String("provider", provider)))
			log.Info().Int("count", len(invalid)).Msg("pruned invalid tokens")
		}
	}
	if len(delivered) > 0 {
		if err := d.tokens.TouchPushTokens(storeCtx, userID, provider, delivered, d.clock.Now()); err != nil {
			log.Warn().Err(err).Msg("stamp last used failed")
		}
	}

	log.Debug().Int("delivered", a.Delivered).Int("invalid", a.Invalid).Int("transient", a.Transient).Msg("provider call done")
	return a
}

func (d *Dispatcher) record(ctx context.Context, provider string, o Outcome) {
	if d.tokenOutcomes == nil {
		return
	}
	d.tokenOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", o.String()),
	))
}

func delivered(attempts []Attempt) int {
	n := 0
	for _, a := range attempts {
		n += a.Delivered
	}
	return n
}
