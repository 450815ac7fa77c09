package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/push"
	"chatcall_realtime/internal/realtime"
)

// Publisher is the slice of the hub the relay needs.
type Publisher interface {
	Publish(topic, event string, data any) int
	PublishExcept(topic, exceptSessionID, event string, data any) int
	SendTo(sessionID, event, id string, data any) bool
}

// Presence answers whether a user holds any live session.
type Presence interface {
	IsOnline(userID int64) bool
}

// ChatStore is the participant side of the chat collaborator.
type ChatStore interface {
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID int64) (bool, error)
	ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error)
}

type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// Notifier is the push side of calls.
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, n push.CallNotice) push.Report
	NotifyCallEnded(ctx context.Context, n push.CallEndNotice) push.Report
}

// Sender identifies who emitted a signaling event.
type Sender struct {
	UserID    int64
	SessionID string
}

// Relay forwards signaling between peers' personal topics and decides when a
// push is needed. Pushes run in the background; Wait blocks until they finish.
type Relay struct {
	pub      Publisher
	cache    *OfferCache
	presence Presence
	chats    ChatStore
	users    UserStore
	notifier Notifier

	inflight sync.WaitGroup
	logger   zerolog.Logger
}

func NewRelay(pub Publisher, cache *OfferCache, presence Presence, chats ChatStore, users UserStore, notifier Notifier, logger zerolog.Logger) *Relay {
	return &Relay{
		pub:      pub,
		cache:    cache,
		presence: presence,
		chats:    chats,
		users:    users,
		notifier: notifier,
		logger:   logger.With().Str("component", "SignalingRelay").Logger(),
	}
}

// Offer relays a call offer to the callee and, unless it renegotiates a
// running call, caches it and rings the callee's devices. The push happens
// even when the callee looks connected; clients coalesce by correlation id.
func (r *Relay) Offer(ctx context.Context, from Sender, p model.CallOfferPayload) error {
	if p.To == from.UserID {
		r.logger.Debug().Int64("user", from.UserID).Msg("self call-offer dropped")
		return nil
	}
	if err := validTarget(p.To, p.ChatID); err != nil {
		return err
	}
	if len(p.Offer) == 0 {
		return model.Invalid("offer is required")
	}
	if p.CallType == "" {
		p.CallType = model.CallTypeAudio
	}
	if !model.ValidCallType(p.CallType) {
		return model.Invalid("unknown callType %q", p.CallType)
	}

	if err := r.authorize(ctx, p.ChatID, from.UserID, p.To); err != nil {
		return err
	}

	if p.Renegotiate {
		r.pub.Publish(realtime.UserTopic(p.To), model.EventCallOffer, model.OutboundCallOffer{
			From:        from.UserID,
			ChatID:      p.ChatID,
			Offer:       p.Offer,
			CallType:    p.CallType,
			CallUUID:    p.CallUUID,
			Renegotiate: true,
		})
		return nil
	}

	callUUID := p.CallUUID
	if callUUID == "" {
		callUUID = uuid.NewString()
	}
	offer := r.cache.Put(PendingOffer{
		Key:           OfferKey{ChatID: p.ChatID, CallerID: from.UserID, CalleeID: p.To},
		Offer:         p.Offer,
		CallerName:    r.displayName(ctx, from.UserID),
		CallType:      p.CallType,
		CallUUID:      callUUID,
		CorrelationID: uuid.NewString(),
	})

	n := r.pub.Publish(realtime.UserTopic(p.To), model.EventCallOffer, outboundOffer(offer, false))
	r.logger.Debug().Int64("from", from.UserID).Int64("to", p.To).Int64("chat", p.ChatID).
		Int("sessions", n).Str("call_uuid", callUUID).Msg("call offer relayed")

	r.background(ctx, func(ctx context.Context) {
		rep := r.notifier.NotifyIncomingCall(ctx, push.CallNotice{
			RecipientID:   p.To,
			CallerID:      from.UserID,
			ChatID:        p.ChatID,
			CallerName:    offer.CallerName,
			CallType:      offer.CallType,
			CallUUID:      offer.CallUUID,
			CorrelationID: offer.CorrelationID,
		})
		r.logReport(rep)
	})
	return nil
}

// OfferRequest is sent by a callee that reconnected after missing the live
// offer. A cached offer is replayed to the requesting session only;
// otherwise the request is forwarded to the original caller.
func (r *Relay) OfferRequest(ctx context.Context, from Sender, p model.CallTargetPayload) error {
	if p.To == from.UserID {
		return nil
	}
	if err := validTarget(p.To, p.ChatID); err != nil {
		return err
	}

	if err := r.authorize(ctx, p.ChatID, from.UserID, p.To); err != nil {
		return err
	}

	key := OfferKey{ChatID: p.ChatID, CallerID: p.To, CalleeID: from.UserID}
	if offer, ok := r.cache.Get(key); ok {
		if !r.pub.SendTo(from.SessionID, model.EventCallOffer, "", outboundOffer(offer, true)) {
			r.logger.Warn().Str("session", from.SessionID).Msg("offer replay dropped")
		}
		return nil
	}

	r.pub.Publish(realtime.UserTopic(p.To), model.EventCallOfferRequest, model.OutboundCallOfferRequest{
		From:   from.UserID,
		ChatID: p.ChatID,
	})
	return nil
}

// Answer relays to the caller and clears the offer it resolves.
func (r *Relay) Answer(ctx context.Context, from Sender, p model.CallAnswerPayload) error {
	if p.To == from.UserID {
		return nil
	}
	if err := validTarget(p.To, p.ChatID); err != nil {
		return err
	}
	if len(p.Answer) == 0 {
		return model.Invalid("answer is required")
	}
	if err := r.authorize(ctx, p.ChatID, from.UserID, p.To); err != nil {
		return err
	}

	r.pub.Publish(realtime.UserTopic(p.To), model.EventCallAnswer, model.OutboundCallAnswer{
		From:   from.UserID,
		ChatID: p.ChatID,
		Answer: p.Answer,
	})
	r.cache.Delete(OfferKey{ChatID: p.ChatID, CallerID: p.To, CalleeID: from.UserID})
	return nil
}

// ICECandidate is relayed best effort and never cached.
func (r *Relay) ICECandidate(ctx context.Context, from Sender, p model.CallICEPayload) error {
	if p.To == from.UserID {
		return nil
	}
	if err := validTarget(p.To, p.ChatID); err != nil {
		return err
	}
	if len(p.Candidate) == 0 {
		return model.Invalid("candidate is required")
	}
	if err := r.authorize(ctx, p.ChatID, from.UserID, p.To); err != nil {
		return err
	}
	r.pub.Publish(realtime.UserTopic(p.To), model.EventCallICECandidate, model.OutboundCallICE{
		From:      from.UserID,
		ChatID:    p.ChatID,
		Candidate: p.Candidate,
	})
	return nil
}

// End relays the hang-up, clears both directions of the pair and sends a
// teardown push when the target has no live session.
func (r *Relay) End(ctx context.Context, from Sender, p model.CallEndPayload) error {
	if p.To == from.UserID {
		return nil
	}
	if err := validTarget(p.To, p.ChatID); err != nil {
		return err
	}

	if err := r.authorize(ctx, p.ChatID, from.UserID, p.To); err != nil {
		return err
	}

	callUUID := p.CallUUID
	if callUUID == "" {
		callUUID = r.cachedCallUUID(p.ChatID, from.UserID, p.To)
	}

	r.pub.Publish(realtime.UserTopic(p.To), model.EventCallEnd, model.OutboundCallEnd{
		From:     from.UserID,
		ChatID:   p.ChatID,
		CallUUID: callUUID,
		Reason:   p.Reason,
	})
	r.cache.DeletePair(p.ChatID, from.UserID, p.To)

	if r.presence.IsOnline(p.To) {
		return nil
	}
	r.background(ctx, func(ctx context.Context) {
		// Dedupe keys on the id as sent so a repeat after the cache clears
		// still collides with the first end.
		r.logReport(r.notifier.NotifyCallEnded(ctx, push.CallEndNotice{
			RecipientID:      p.To,
			SenderID:         from.UserID,
			ChatID:           p.ChatID,
			CallUUID:         p.CallUUID,
			ResolvedCallUUID: callUUID,
		}))
	})
	return nil
}

// GroupOffer starts a group call: every other participant's personal topic
// receives the offer and each is rung. With To set it is a pairwise mesh
// offer inside a running call and is relayed without a push.
func (r *Relay) GroupOffer(ctx context.Context, from Sender, p model.GroupCallPayload) error {
	if p.ChatID <= 0 {
		return model.Invalid("chatId is required")
	}
	if p.CallType == "" {
		p.CallType = model.CallTypeAudio
	}
	if !model.ValidCallType(p.CallType) {
		return model.Invalid("unknown callType %q", p.CallType)
	}

	if p.To != 0 {
		if p.To == from.UserID {
			return nil
		}
		if err := r.authorize(ctx, p.ChatID, from.UserID, p.To); err != nil {
			return err
		}
		r.pub.Publish(realtime.UserTopic(p.To), model.EventGroupCallOffer, model.OutboundGroupCall{
			From:     from.UserID,
			ChatID:   p.ChatID,
			CallType: p.CallType,
			CallUUID: p.CallUUID,
			SDP:      p.SDP,
		})
		return nil
	}

	others, err := r.otherParticipants(ctx, p.ChatID, from.UserID)
	if err != nil {
		return err
	}

	callUUID := p.CallUUID
	if callUUID == "" {
		callUUID = uuid.NewString()
	}
	out := model.OutboundGroupCall{
		From:          from.UserID,
		ChatID:        p.ChatID,
		CallType:      p.CallType,
		CallUUID:      callUUID,
		CallerName:    r.displayName(ctx, from.UserID),
		CorrelationID: uuid.NewString(),
		SDP:           p.SDP,
	}
	chatName := r.chatName(ctx, p.ChatID)

	for _, uid := range others {
		r.pub.Publish(realtime.UserTopic(uid), model.EventGroupCallOffer, out)
	}
	r.background(ctx, func(ctx context.Context) {
		var wg sync.WaitGroup
		for _, uid := range others {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.logReport(r.notifier.NotifyIncomingCall(ctx, push.CallNotice{
					RecipientID:   uid,
					CallerID:      from.UserID,
					ChatID:        p.ChatID,
					CallerName:    out.CallerName,
					ChatName:      chatName,
					CallType:      out.CallType,
					CallUUID:      callUUID,
					CorrelationID: out.CorrelationID,
					Group:         true,
				}))
			}()
		}
		wg.Wait()
	})
	return nil
}

// GroupAnswer goes to one peer, or to the chat topic when To is unset.
func (r *Relay) GroupAnswer(ctx context.Context, from Sender, p model.GroupCallPayload) error {
	if p.ChatID <= 0 {
		return model.Invalid("chatId is required")
	}
	out := model.OutboundGroupCall{From: from.UserID, ChatID: p.ChatID, CallUUID: p.CallUUID, SDP: p.SDP}

	if p.To != 0 {
		if p.To == from.UserID {
			return nil
		}
		if err := r.authorize(ctx, p.ChatID, from.UserID, p.To); err != nil {
			return err
		}
		r.pub.Publish(realtime.UserTopic(p.To), model.EventGroupCallAnswer, out)
		return nil
	}

	if err := r.authorize(ctx, p.ChatID, from.UserID); err != nil {
		return err
	}
	r.pub.PublishExcept(realtime.ChatTopic(p.ChatID), from.SessionID, model.EventGroupCallAnswer, out)
	return nil
}

// GroupEnd tells the other participants the sender left or ended the call.
// Participants without a live session get a deduplicated teardown push.
func (r *Relay) GroupEnd(ctx context.Context, from Sender, p model.GroupCallPayload) error {
	if p.ChatID <= 0 {
		return model.Invalid("chatId is required")
	}
	out := model.OutboundGroupCall{From: from.UserID, ChatID: p.ChatID, CallUUID: p.CallUUID}

	if p.To != 0 {
		if p.To == from.UserID {
			return nil
		}
		if err := r.authorize(ctx, p.ChatID, from.UserID, p.To); err != nil {
			return err
		}
		r.pub.Publish(realtime.UserTopic(p.To), model.EventGroupCallEnd, out)
		return nil
	}

	others, err := r.otherParticipants(ctx, p.ChatID, from.UserID)
	if err != nil {
		return err
	}

	var offline []int64
	for _, uid := range others {
		r.pub.Publish(realtime.UserTopic(uid), model.EventGroupCallEnd, out)
		if !r.presence.IsOnline(uid) {
			offline = append(offline, uid)
		}
	}
	if len(offline) == 0 {
		return nil
	}
	r.background(ctx, func(ctx context.Context) {
		for _, uid := range offline {
			r.logReport(r.notifier.NotifyCallEnded(ctx, push.CallEndNotice{
				RecipientID: uid,
				SenderID:    from.UserID,
				ChatID:      p.ChatID,
				CallUUID:    p.CallUUID,
				Group:       true,
			}))
		}
	})
	return nil
}

// Wait blocks until every background push started by the relay returns.
func (r *Relay) Wait() {
	r.inflight.Wait()
}

// background detaches fn from the caller's cancellation so a closing socket
// does not abort a push already decided.
func (r *Relay) background(ctx context.Context, fn func(context.Context)) {
	bg := context.WithoutCancel(ctx)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		fn(bg)
	}()
}

func (r *Relay) authorize(ctx context.Context, chatID int64, userIDs ...int64) error {
	for _, uid := range userIDs {
		ok, err := r.chats.IsParticipant(ctx, chatID, uid)
		if err != nil {
			return model.Persistence("participant check", err)
		}
		if !ok {
			return fmt.Errorf("user %d in chat %d: %w", uid, chatID, model.ErrAccessDenied)
		}
	}
	return nil
}

func (r *Relay) otherParticipants(ctx context.Context, chatID, senderID int64) ([]int64, error) {
	ids, err := r.chats.ParticipantIDs(ctx, chatID)
	if err != nil {
		return nil, model.Persistence("participant lookup", err)
	}
	others := make([]int64, 0, len(ids))
	member := false
	for _, id := range ids {
		if id == senderID {
			member = true
			continue
		}
		others = append(others, id)
	}
	if !member {
		return nil, fmt.Errorf("user %d in chat %d: %w", senderID, chatID, model.ErrAccessDenied)
	}
	return others, nil
}

func (r *Relay) cachedCallUUID(chatID, a, b int64) string {
	k := OfferKey{ChatID: chatID, CallerID: a, CalleeID: b}
	if o, ok := r.cache.Get(k); ok {
		return o.CallUUID
	}
	if o, ok := r.cache.Get(k.Reverse()); ok {
		return o.CallUUID
	}
	return ""
}

func (r *Relay) displayName(ctx context.Context, userID int64) string {
	u, err := r.users.GetUserByID(ctx, userID)
	if err != nil || u == nil {
		r.logger.Warn().Err(err).Int64("user", userID).Msg("caller lookup failed")
		return "Someone"
	}
	return u.Name()
}

func (r *Relay) chatName(ctx context.Context, chatID int64) string {
	c, err := r.chats.GetChat(ctx, chatID)
	if err != nil || c == nil || c.Name == nil {
		return ""
	}
	return *c.Name
}

func (r *Relay) logReport(rep push.Report) {
	if rep.Err != nil || rep.Suppressed {
		return
	}
	if len(rep.Attempts) > 0 && rep.Delivered() == 0 {
		r.logger.Warn().Int64("user", rep.RecipientID).Str("kind", string(rep.Kind)).
			Str("correlation_id", rep.CorrelationID).Msg("call push reached no device")
	}
}

func validTarget(to, chatID int64) error {
	if to <= 0 {
		return model.Invalid("to is required")
	}
	if chatID <= 0 {
		return model.Invalid("chatId is required")
	}
	return nil
}

func outboundOffer(o PendingOffer, replayed bool) model.OutboundCallOffer {
	return model.OutboundCallOffer{
		From:          o.Key.CallerID,
		ChatID:        o.Key.ChatID,
		Offer:         o.Offer,
		CallType:      o.CallType,
		CallerName:    o.CallerName,
		CallUUID:      o.CallUUID,
		CorrelationID: o.CorrelationID,
		Replayed:      replayed,
	}
}
