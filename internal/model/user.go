// Package model はドメインモデルを定義する。
package model

// Role はポータル利用者のロールを表す。
type Role string

const (
	// RoleAdmin は管理者ロール。
	RoleAdmin Role = "admin"
	// RoleDoctor は医師ロール。
	RoleDoctor Role = "doctor"
	// RolePatient は患者ロール。
	RolePatient Role = "patient"
)

// User はポータルにログインするユーザーを表す。
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// UserPatch はユーザー情報の部分更新を表す。
// nilのフィールドは変更せず、既存の値を維持する。
type UserPatch struct {
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Role      *Role   `json:"role,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// Apply はパッチの非nilフィールドをユーザーにマージした新しいUserを返す。
// 元のUserは変更しない。
func (p UserPatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	return u
}

// Credentials はログイン認証情報を表す。
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration は新規ユーザー登録の入力を表す。
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	Role     Role   `json:"role,omitempty"`
}

// AuthResponse はログイン・登録成功時に認証APIが返すレスポンスを表す。
type AuthResponse struct {
	User         *User  `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// PasswordResetRequest はパスワードリセット用ワンタイムパスワードの送信要求を表す。
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmation はワンタイムパスワードによる新しいパスワードの設定を表す。
type PasswordResetConfirmation struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password"`
}
