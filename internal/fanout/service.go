// Package fanout delivers a newly created message to every participant: the
// chat topic, each participant's personal topic and their push devices.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chatcall_realtime/internal/clock"
	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/push"
	"chatcall_realtime/internal/realtime"
)

type MessageStore interface {
	CreateMessage(ctx context.Context, m *model.Message) error
	MarkRead(ctx context.Context, chatID, messageID, userID int64, at time.Time) error
}

type ChatStore interface {
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error)
}

type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

type Publisher interface {
	Publish(topic, event string, data any) int
}

type Notifier interface {
	NotifyMessage(ctx context.Context, n push.MessageNotice) push.Report
}

const lockStripes = 64

// Service persists and fans out messages. Creation and topic publish for one
// chat happen under the same stripe lock so the chat topic sees messages in
// persistence order; different chats interleave freely.
type Service struct {
	messages MessageStore
	chats    ChatStore
	users    UserStore
	pub      Publisher
	notifier Notifier
	clock    clock.Clock

	stripes  [lockStripes]sync.Mutex
	inflight sync.WaitGroup
	logger   zerolog.Logger
}

func NewService(messages MessageStore, chats ChatStore, users UserStore, pub Publisher, notifier Notifier, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		messages: messages,
		chats:    chats,
		users:    users,
		pub:      pub,
		notifier: notifier,
		clock:    clk,
		logger:   logger.With().Str("component", "MessageFanout").Logger(),
	}
}

// Send validates, persists and broadcasts a message. Only validation, access
// and the initial save surface as errors; pushes run after Send returns.
func (s *Service) Send(ctx context.Context, senderID int64, p model.SendMessagePayload) (*model.Message, error) {
	msg, err := validate(senderID, p)
	if err != nil {
		return nil, err
	}

	participants, err := s.chats.ParticipantIDs(ctx, p.ChatID)
	if err != nil {
		return nil, model.Persistence("participant lookup", err)
	}
	if !slices.Contains(participants, senderID) {
		if len(participants) == 0 {
			if _, err := s.chats.GetChat(ctx, p.ChatID); errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
		}
		return nil, fmt.Errorf("user %d in chat %d: %w", senderID, p.ChatID, model.ErrAccessDenied)
	}

	mu := s.stripe(p.ChatID)
	mu.Lock()
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		mu.Unlock()
		return nil, model.Persistence("create message", err)
	}
	s.pub.Publish(realtime.ChatTopic(msg.ChatID), model.EventNewMessage, msg)
	mu.Unlock()

	summary := model.MessageSummary{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		Preview:   SummaryPreview(msg, p.PreviewText),
		CreatedAt: msg.CreatedAt,
	}
	for _, uid := range participants {
		s.pub.Publish(realtime.UserTopic(uid), model.EventChatUpdated, summary)
	}

	s.background(ctx, func(ctx context.Context) {
		s.pushAll(ctx, msg, p.PreviewText, participants)
	})
	return msg, nil
}

// MarkRead broadcasts the receipt first, then persists it. A failed write is
// logged and does not reach the reader.
func (s *Service) MarkRead(ctx context.Context, readerID int64, p model.MarkReadPayload) error {
	if p.ChatID <= 0 || p.MessageID <= 0 {
		return model.Invalid("chatId and messageId are required")
	}
	now := s.clock.Now().UTC()
	s.pub.Publish(realtime.ChatTopic(p.ChatID), model.EventMessageRead, model.MessageReadEvent{
		ChatID:    p.ChatID,
		MessageID: p.MessageID,
		UserID:    readerID,
		ReadAt:    now,
	})
	if err := s.messages.MarkRead(ctx, p.ChatID, p.MessageID, readerID, now); err != nil {
		s.logger.Error().Err(model.Persistence("mark read", err)).Int64("user", readerID).
			Int64("chat", p.ChatID).Int64("message", p.MessageID).Msg("read receipt not saved")
	}
	return nil
}

// Wait blocks until background pushes started by Send finish.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) pushAll(ctx context.Context, msg *model.Message, clientPreview string, participants []int64) {
	chat, err := s.chats.GetChat(ctx, msg.ChatID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("chat", msg.ChatID).Msg("chat lookup failed, preview without key")
		chat = &model.Chat{ID: msg.ChatID}
	}

	senderName := "Someone"
	if u, err := s.users.GetUserByID(ctx, msg.SenderID); err == nil && u != nil {
		senderName = u.Name()
	}

	title, preview := senderName, NotificationPreview(msg, clientPreview, chat.EncryptionKey)
	if chat.IsGroup && chat.Name != nil && *chat.Name != "" {
		title = *chat.Name
		preview = senderName + ": " + preview
	}

	var g errgroup.Group
	for _, uid := range participants {
		if uid == msg.SenderID {
			continue
		}
		g.Go(func() error {
			rep := s.notifier.NotifyMessage(ctx, push.MessageNotice{
				RecipientID:   uid,
				SenderID:      msg.SenderID,
				ChatID:        msg.ChatID,
				MessageID:     msg.ID,
				Title:         title,
				Preview:       preview,
				MessageType:   msg.Type,
				CorrelationID: msg.CorrelationID,
			})
			if rep.Err == nil && len(rep.Attempts) > 0 && rep.Delivered() == 0 {
				s.logger.Warn().Int64("user", uid).Int64("message", msg.ID).Msg("message push reached no device")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) background(ctx context.Context, fn func(context.Context)) {
	bg := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		fn(bg)
	}()
}

func (s *Service) stripe(chatID int64) *sync.Mutex {
	return &s.stripes[uint64(chatID)%lockStripes]
}

func validate(senderID int64, p model.SendMessagePayload) (*model.Message, error) {
	if p.ChatID <= 0 {
		return nil, model.Invalid("chatId is required")
	}
	typ := p.Type
	if typ == "" {
		typ = model.MessageTypeText
	}
	if !model.ValidMessageType(typ) {
		return nil, model.Invalid("unknown message type %q", p.Type)
	}
	if typ == model.MessageTypeText && strings.TrimSpace(p.Content) == "" {
		return nil, model.Invalid("content is required")
	}
	if typ != model.MessageTypeText && (p.File == nil || p.File.URL == "") {
		return nil, model.Invalid("file is required for %s messages", typ)
	}
	if p.Encryption != nil {
		switch p.Encryption.Algorithm {
		case model.AlgorithmAESGCM, model.AlgorithmXChaCha20Poly1305:
		default:
			return nil, model.Invalid("unsupported encryption algorithm %q", p.Encryption.Algorithm)
		}
		if p.Encryption.Nonce == "" {
			return nil, model.Invalid("encryption nonce is required")
		}
	}
	return &model.Message{
		ChatID:        p.ChatID,
		SenderID:      senderID,
		Type:          typ,
		Content:       p.Content,
		File:          p.File,
		Encryption:    p.Encryption,
		CorrelationID: uuid.NewString(),
	}, nil
}
