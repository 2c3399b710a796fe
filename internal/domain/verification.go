package domain

import "time"

// TokenType names the purpose a verification token was issued for.
type TokenType string

const (
	TokenEmailVerification TokenType = "email_verification"
	TokenPasswordReset     TokenType = "password_reset"
	TokenPhoneVerification TokenType = "phone_verification"
	TokenPhoneLogin        TokenType = "phone_login"
)

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	switch t {
	case TokenEmailVerification, TokenPasswordReset, TokenPhoneVerification, TokenPhoneLogin:
		return true
	}
	return false
}

// CodeStyle reports whether a token of type t bound to identifier is a short
// numeric code with an attempt budget. Phone-bound tokens are codes; password
// resets are codes when requested for a phone number and links otherwise.
func (t TokenType) CodeStyle(identifier string) bool {
	switch t {
	case TokenPhoneVerification, TokenPhoneLogin:
		return true
	case TokenPasswordReset:
		return IsPhoneIdentifier(identifier)
	}
	return false
}

// VerificationToken stores one live code or link per (identifier, type).
// PK: identifier, SK: type. ExpiresAt is a Unix timestamp used as DynamoDB TTL.
type VerificationToken struct {
	Identifier string     `json:"identifier" dynamodbav:"identifier"`
	Type       TokenType  `json:"type" dynamodbav:"type"`
	Value      string     `json:"-" dynamodbav:"value"`
	ExpiresAt  int64      `json:"expires_at" dynamodbav:"expires_at"`
	Used       bool       `json:"used" dynamodbav:"used"`
	Exhausted  bool       `json:"exhausted" dynamodbav:"exhausted"`
	Attempts   int        `json:"attempts" dynamodbav:"attempts"`
	OwnerID    string     `json:"owner_id,omitempty" dynamodbav:"owner_id,omitempty"`
	CreatedAt  time.Time  `json:"created" dynamodbav:"created_at"`
	UsedAt     *time.Time `json:"used_at,omitempty" dynamodbav:"used_at,omitempty"`
}

// ExpiredAt reports whether the token is past its expiry at now.
func (v *VerificationToken) ExpiredAt(now time.Time) bool {
	return v.ExpiresAt <= now.Unix()
}

// ProviderLink records an external-auth linkage. Rows are written by the
// OAuth handshake; unlinking a provider deletes them.
type ProviderLink struct {
	IdentityID        string    `json:"identity_id" dynamodbav:"identity_id"`
	ProviderName      string    `json:"provider_name" dynamodbav:"provider_name"`
	ProviderAccountID string    `json:"provider_account_id" dynamodbav:"provider_account_id"`
	CreatedAt         time.Time `json:"created" dynamodbav:"created_at"`
}
