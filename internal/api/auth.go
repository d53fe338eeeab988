package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/hitoshi/careportal/internal/model"
)

// authResource は認証エンドポイントのメトリクス・エラー分類用のラベル。
const authResource = "auth"

var (
	errInvalidJSON = errors.New("response is not valid JSON")
	errNotAList    = errors.New("response does not contain a list")
	errMissingUser = errors.New("auth response does not contain a user")
)

// トークンを探すパス。先頭から順に評価する。
var (
	accessTokenPaths  = []string{"accessToken", "access", "access_token", "tokens.access"}
	refreshTokenPaths = []string{"refreshToken", "refresh", "refresh_token", "tokens.refresh"}
)

// AuthClient は/auth配下の認証エンドポイントのクライアント。
type AuthClient struct {
	client *Client
}

// NewAuthClient はAuthClientを生成する。
func NewAuthClient(client *Client) *AuthClient {
	return &AuthClient{client: client}
}

// Login はメールアドレスとパスワードで認証する。
func (a *AuthClient) Login(ctx context.Context, creds model.Credentials) (model.AuthResponse, error) {
	body, err := a.client.do(ctx, authResource, "", http.MethodPost, "/auth/login", creds)
	if err != nil {
		return model.AuthResponse{}, err
	}
	return parseAuthResponse(body)
}

// Register は新規ユーザーを登録する。
func (a *AuthClient) Register(ctx context.Context, reg model.Registration) (model.AuthResponse, error) {
	body, err := a.client.do(ctx, authResource, "", http.MethodPost, "/auth/register", reg)
	if err != nil {
		return model.AuthResponse{}, err
	}
	return parseAuthResponse(body)
}

// RequestPasswordReset はパスワードリセット用のワンタイムパスワード送信を要求する。
func (a *AuthClient) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := a.client.do(ctx, authResource, "", http.MethodPost, "/auth/password-reset",
		model.PasswordResetRequest{Email: email})
	return err
}

// ConfirmPasswordReset はワンタイムパスワードを検証して新しいパスワードを設定する。
func (a *AuthClient) ConfirmPasswordReset(ctx context.Context, email, otp, newPassword string) error {
	_, err := a.client.do(ctx, authResource, "", http.MethodPost, "/auth/password-reset/confirm",
		model.PasswordResetConfirmation{Email: email, OTP: otp, NewPassword: newPassword})
	return err
}

// parseAuthResponse は認証レスポンスからユーザーとトークンを取り出す。
// トークンのフィールド名はaccessToken/refreshTokenとaccess/refreshの両方を受け付ける。
func parseAuthResponse(body []byte) (model.AuthResponse, error) {
	if !gjson.ValidBytes(body) {
		return model.AuthResponse{}, decodeError(http.StatusOK, errInvalidJSON)
	}
	root := gjson.ParseBytes(body)
	if data := root.Get("data"); data.IsObject() && !root.Get("user").Exists() {
		root = data
	}

	userJSON := root.Get("user")
	if !userJSON.IsObject() {
		return model.AuthResponse{}, decodeError(http.StatusOK, errMissingUser)
	}
	var user model.User
	if err := json.Unmarshal([]byte(userJSON.Raw), &user); err != nil {
		return model.AuthResponse{}, decodeError(http.StatusOK, err)
	}

	return model.AuthResponse{
		User:         &user,
		AccessToken:  firstString(root, accessTokenPaths),
		RefreshToken: firstString(root, refreshTokenPaths),
	}, nil
}

func firstString(root gjson.Result, paths []string) string {
	for _, path := range paths {
		if r := root.Get(path); r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}
