package auth

import (
	"context"
	"errors"

	"app/internal/domain/model"
	"app/internal/repository"
)

// handlerからusecaseに渡す入力
type LoginInput struct {
	Email    string
	Password string
}

// handlerがJSONにして返す
type LoginOutput struct {
	User  model.User `json:"user"`
	Token TokenPair  `json:"token"`
}

// メールまたはパスワードが違う
var ErrInvalidCredentials = errors.New("invalid credentials")

type LoginUsecase struct {
	userRepo  repository.UserRepository
	authority *TokenAuthority
	verifier  PasswordVerifier
	clock     Clock
}

func NewLoginUsecase(
	userRepo repository.UserRepository,
	authority *TokenAuthority,
	verifier PasswordVerifier,
	clock Clock,
) *LoginUsecase {
	return &LoginUsecase{
		userRepo:  userRepo,
		authority: authority,
		verifier:  verifier,
		clock:     clock,
	}
}

// ログイン処理を実行する
func (u *LoginUsecase) Execute(ctx context.Context, in LoginInput) (LoginOutput, error) {
	var out LoginOutput

	//emailでユーザー取得
	user, err := u.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return out, ErrInvalidCredentials
		}
		return out, err
	}

	//停止ユーザーはログイン不可
	if !user.IsActive {
		return out, ErrUserInactive
	}

	//パスワード照合
	if ok := u.verifier.Verify(in.Password, user.Password); !ok {
		return out, ErrInvalidCredentials
	}

	//access/refreshペア発行（セッション1件作成）
	pair, err := u.authority.Issue(ctx, user)
	if err != nil {
		return out, err
	}

	//最終ログイン時刻更新
	now := u.clock.Now()
	user.LastLoginAt = &now
	if err := u.userRepo.Update(ctx, user); err != nil {
		return out, err
	}

	//出力（passwordはjsonタグで落ちるが念のため空にする）
	safeUser := *user
	safeUser.Password = ""

	out.User = safeUser
	out.Token = pair
	return out, nil
}
