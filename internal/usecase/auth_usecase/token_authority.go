package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"app/internal/domain/model"
	"app/internal/infra/sharedstore"
	"app/internal/repository"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// 署名は正しいが期限切れ（呼び出し側はrefreshを試せる）
	ErrTokenExpired = errors.New("token expired")
	// 署名不正・形式不正・ローテーション済みなど
	ErrTokenInvalid = errors.New("token invalid")
	// claimsのユーザーが存在しない
	ErrUserNotFound = errors.New("user not found")
	// 停止済みユーザー
	ErrUserInactive = errors.New("user is inactive")
)

// accesstokenの有効期限
const AccessTokenTTL = 15 * time.Minute

// refreshtokenの有効期限
const RefreshTokenTTL = 7 * 24 * time.Hour

// 検証済みトークンから得る本人情報
type Identity struct {
	UserID string
	Email  string
	Name   string
	Role   model.Role
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenAuthority はトークンの発行・検証・ローテーション・失効を行う。
// refreshtokenは平文を保存せず、sha256ダイジェストのキー
// refresh:<userID>:<digest> の存在だけで有効性を判断する。
type TokenAuthority struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      sharedstore.Store
	users      repository.UserRepository
	clock      Clock
	idGen      IDGenerator
}

func NewTokenAuthority(
	secret string,
	store sharedstore.Store,
	users repository.UserRepository,
	clock Clock,
	idGen IDGenerator,
) *TokenAuthority {
	return &TokenAuthority{
		secret:     []byte(secret),
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
		store:      store,
		users:      users,
		clock:      clock,
		idGen:      idGen,
	}
}

// Issue はaccess/refreshのペアを発行し、refreshのダイジェストを
// TTL付きで保存する（セッション1件分）。
func (a *TokenAuthority) Issue(ctx context.Context, user *model.User) (TokenPair, error) {
	var pair TokenPair

	now := a.clock.Now()

	access, err := a.signAccessToken(user, now)
	if err != nil {
		return pair, err
	}

	refresh, err := a.signRefreshToken(user.ID, now)
	if err != nil {
		return pair, err
	}

	// 平文は保存しない。ダイジェストの存在＝有効。
	key := refreshKey(user.ID, digest(refresh))
	if err := a.store.Set(ctx, key, "valid", a.refreshTTL); err != nil {
		return pair, fmt.Errorf("store refresh digest: %w", err)
	}

	pair.AccessToken = access
	pair.RefreshToken = refresh
	pair.ExpiresIn = int(a.accessTTL.Seconds())
	return pair, nil
}

// Authenticate はaccesstokenを検証して本人情報を返す。
// 署名・期限だけでなく、ユーザーが今も有効かを毎回DBで確認する。
func (a *TokenAuthority) Authenticate(ctx context.Context, bearer string) (*Identity, error) {
	claims, err := a.parse(bearer)
	if err != nil {
		return nil, err
	}

	// refreshtokenをaccessとして使わせない
	if typ, _ := claims["type"].(string); typ == "refresh" {
		return nil, ErrTokenInvalid
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrTokenInvalid
	}

	user, err := a.users.FindByID(ctx, sub)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	return &Identity{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	}, nil
}

// Refresh はローテーションする。古いダイジェストが存在しなければ
// （使用済み・失効済み・偽造）Invalid。成功時は古いダイジェストを
// 消してから新しいペアを発行するので、同じtokenでの2回目は必ず失敗する。
func (a *TokenAuthority) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var pair TokenPair

	claims, err := a.parse(refreshToken)
	if err != nil {
		return pair, err
	}

	if typ, _ := claims["type"].(string); typ != "refresh" {
		return pair, ErrTokenInvalid
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return pair, ErrTokenInvalid
	}

	// 有効性チェックは削除そのもの。消せた1回だけが勝者になるので、
	// 同じtokenで同時に来てもローテーションは1度しか起きない。
	key := refreshKey(sub, digest(refreshToken))
	removed, err := a.store.Del(ctx, key)
	if err != nil {
		return pair, err
	}
	if removed == 0 {
		// 使用済み・失効済み・偽造のいずれか
		return pair, ErrTokenInvalid
	}

	user, err := a.users.FindByID(ctx, sub)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return pair, ErrUserNotFound
		}
		return pair, err
	}
	if !user.IsActive {
		return pair, ErrUserInactive
	}

	return a.Issue(ctx, user)
}

// Revoke はrefreshtokenを失効させる。検証に失敗しても
// 「すでに失効済み」とみなしてエラーにしない。
func (a *TokenAuthority) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := a.parse(refreshToken)
	if err != nil {
		return nil
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil
	}

	_, err = a.store.Del(ctx, refreshKey(sub, digest(refreshToken)))
	return err
}

// RevokeAll はユーザーの全セッションを失効させる。
func (a *TokenAuthority) RevokeAll(ctx context.Context, userID string) error {
	_, err := a.store.DelPrefix(ctx, refreshPrefix(userID))
	return err
}

func (a *TokenAuthority) signAccessToken(user *model.User, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  string(user.Role),
		"iat":   now.Unix(),
		"exp":   now.Add(a.accessTTL).Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(a.secret)
}

func (a *TokenAuthority) signRefreshToken(userID string, now time.Time) (string, error) {
	// jtiで同時刻発行のtokenも必ず別物になる（ダイジェストが衝突しない）
	claims := jwt.MapClaims{
		"sub":  userID,
		"type": "refresh",
		"jti":  a.idGen.NewID(),
		"iat":  now.Unix(),
		"exp":  now.Add(a.refreshTTL).Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(a.secret)
}

// 期限切れと形式不正を区別してパースする
func (a *TokenAuthority) parse(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func digest(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func refreshKey(userID string, digest string) string {
	return refreshPrefix(userID) + digest
}

func refreshPrefix(userID string) string {
	return "refresh:" + userID + ":"
}
