package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"app/internal/domain/model"
	"app/internal/realtime"
	"app/internal/repository"
	auth "app/internal/usecase/auth_usecase"
)

var (
	//400 入力不足
	ErrValidation = errors.New("validation error")
	//404 対象なし
	ErrNotFound = errors.New("not found")
	//500 保存失敗（自動リトライしない。呼び出し側がリクエストごとやり直す）
	ErrPersistence = errors.New("persistence error")
)

// write pathが見る配送口の約束。実体はrealtime.Gateway。
type FanoutGateway interface {
	Emit(ctx context.Context, room string, event string, payload any)
}

// chat_updated のペイロード
type ChatUpdatedPayload struct {
	SessionID   string    `json:"session_id"`
	LastMessage string    `json:"last_message"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AppendMessageInput struct {
	SessionID  string
	AuthorID   *string // nilなら顧客からの受信
	Body       string
	Files      []AppendFileInput
	Platform   model.Platform
	ExternalID *string
}

type AppendFileInput struct {
	URL  string
	Name string
}

// MessageUsecase はメッセージの書き込み経路。
// 永続化が確定してから、配送はfire-and-forgetで投げる。
type MessageUsecase struct {
	messages repository.MessageRepository
	clients  repository.ClientRepository
	users    repository.UserRepository
	gateway  FanoutGateway
	idGen    auth.IDGenerator
	log      *slog.Logger
}

// gatewayは先に組み立ててここに渡す（後からセットしない）
func NewMessageUsecase(
	messages repository.MessageRepository,
	clients repository.ClientRepository,
	users repository.UserRepository,
	gateway FanoutGateway,
	idGen auth.IDGenerator,
	log *slog.Logger,
) *MessageUsecase {
	return &MessageUsecase{
		messages: messages,
		clients:  clients,
		users:    users,
		gateway:  gateway,
		idGen:    idGen,
		log:      log,
	}
}

// Append はメッセージを保存して正規レコードを同期的に返す。
// 配送の成否は戻り値に影響しない。
func (u *MessageUsecase) Append(ctx context.Context, in AppendMessageInput) (*model.Message, error) {
	// 本文も添付も無いのは不正
	if in.Body == "" && len(in.Files) == 0 {
		return nil, ErrValidation
	}
	if in.SessionID == "" {
		return nil, ErrValidation
	}

	// external_id付きは冪等。既存ならその行をそのまま返す。
	if in.ExternalID != nil && *in.ExternalID != "" {
		existing, err := u.messages.FindByExternalID(ctx, *in.ExternalID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrMessageNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	} else {
		in.ExternalID = nil
	}

	// 会話（=顧客）の存在確認
	client, err := u.clients.FindByID(ctx, in.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// 送信者の表示名を解決する
	authorName := ""
	if in.AuthorID != nil {
		author, err := u.users.FindByID(ctx, *in.AuthorID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		authorName = author.Name
	}

	platform := in.Platform
	if platform == "" {
		platform = client.Platform
	}

	msg := &model.Message{
		ID:         u.idGen.NewID(),
		SessionID:  in.SessionID,
		AuthorID:   in.AuthorID,
		AuthorName: authorName,
		Body:       in.Body,
		Platform:   platform,
		ExternalID: in.ExternalID,
		// 顧客からの受信だけが未読対象
		IsRead: in.AuthorID != nil,
	}
	for _, f := range in.Files {
		msg.Files = append(msg.Files, model.MessageFile{
			ID:        u.idGen.NewID(),
			MessageID: msg.ID,
			URL:       f.URL,
			Name:      f.Name,
		})
	}

	if err := u.messages.Create(ctx, msg); err != nil {
		// 同時投入でunique違反になったら、勝った方の行を返す
		if errors.Is(err, repository.ErrDuplicateExternalID) && in.ExternalID != nil {
			existing, ferr := u.messages.FindByExternalID(ctx, *in.ExternalID)
			if ferr != nil {
				return nil, fmt.Errorf("%w: %v", ErrPersistence, ferr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// 配送はfire-and-forget。リクエストのctxに縛らない。
	go u.fanout(client, msg)

	return msg, nil
}

// 会話roomと所属チームのroomへ配る
func (u *MessageUsecase) fanout(client *model.Client, msg *model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u.gateway.Emit(ctx, realtime.ClientRoom(msg.SessionID), realtime.EventNewMessage, msg)
	u.gateway.Emit(ctx, realtime.TeamRoom(client.TeamID), realtime.EventTeamMessage, msg)
	u.gateway.Emit(ctx, realtime.TeamRoom(client.TeamID), realtime.EventChatUpdated, ChatUpdatedPayload{
		SessionID:   msg.SessionID,
		LastMessage: msg.Body,
		UpdatedAt:   msg.CreatedAt,
	})
}

// MarkRead は会話の未読受信メッセージを一括既読化する。
// ローカルな状態変更だけなので配送は無い。
func (u *MessageUsecase) MarkRead(ctx context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, ErrValidation
	}

	n, err := u.messages.MarkRead(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return n, nil
}

// List は会話のメッセージを正規順で返す（resyncの取得元）。
func (u *MessageUsecase) List(ctx context.Context, sessionID string) ([]model.Message, error) {
	if sessionID == "" {
		return nil, ErrValidation
	}

	// 会話の存在確認（無い会話は404にする）
	if _, err := u.clients.FindByID(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	msgs, err := u.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return msgs, nil
}
