// Package models defines the GORM row shapes for the credential & quota
// store: flat indexed columns for the fields queries filter on, plus an
// encrypted-ciphertext column for everything else.
package models

import "gorm.io/datatypes"

// Account is the durable record for one credential. At most one row may
// have IsActive = true at any time (the active-singleton invariant),
// enforced transactionally by the store package, not here.
type Account struct {
	ID       string `gorm:"primaryKey"`
	Provider string `gorm:"index;not null"` // google, anthropic, local-ollama, local-lmstudio, ...
	Email    string `gorm:"index"`
	Name     string
	AvatarURL string

	Status   string `gorm:"index;default:active"` // active, refreshing, rate_limited, error
	IsActive bool   `gorm:"index;default:false"`

	// SelectedModels is a JSON array of canonical model IDs chosen by the
	// user; empty means "no filter".
	SelectedModels datatypes.JSON `gorm:"type:text"`

	// TokenCipher and QuotaCipher hold opaque, self-describing ciphertext
	// (nonce + tag + payload, base64). A value beginning with '{' instead
	// is legacy plaintext JSON, healed on load (see store.Migrate).
	TokenCipher string `gorm:"type:text"`
	QuotaCipher string `gorm:"type:text"`

	CreatedAt  int64 `gorm:"autoCreateTime"`
	LastUsedAt int64
	UpdatedAt  int64 `gorm:"autoUpdateTime"`
}

// Token is the plaintext shape serialized into Account.TokenCipher. For
// local-provider accounts RefreshToken carries the upstream base URL and
// ProjectID carries the local model identifier, so one row shape serves
// both OAuth-backed and local providers.
type Token struct {
	AccessToken     string            `json:"access_token"`
	RefreshToken    string            `json:"refresh_token"`
	ExpiresIn       int64             `json:"expires_in"`
	ExpiryTimestamp int64             `json:"expiry_timestamp"`
	TokenType       string            `json:"token_type"`
	ProjectID       string            `json:"project_id,omitempty"`
	SessionID       string            `json:"session_id,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// ModelQuota is one entry of the quota map keyed by canonical model ID.
type ModelQuota struct {
	Percentage          float64 `json:"percentage"`
	ResetTime           string  `json:"resetTime"`
	DisplayName         string  `json:"displayName,omitempty"`
	MaxTokenAllowed     *int    `json:"maxTokenAllowed,omitempty"`
	MaxCompletionTokens *int    `json:"maxCompletionTokens,omitempty"`
}

// Quota is the plaintext shape serialized into Account.QuotaCipher.
type Quota map[string]ModelQuota
