package domain

import (
	"slices"
	"strings"
	"time"
)

// AccountStatus values.
const (
	AccountActive = "active"
	AccountMerged = "merged"
)

// Identity is one authenticatable account record.
// Set-valued attributes are stored as DynamoDB string sets; empty sets are omitted
// because DynamoDB rejects them.
type Identity struct {
	ID              string     `json:"id" dynamodbav:"identity_id"`
	Email           string     `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Phone           string     `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	Name            string     `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Image           string     `json:"image,omitempty" dynamodbav:"image,omitempty"`
	LinkedEmails    []string   `json:"linked_emails,omitempty" dynamodbav:"linked_emails,stringset,omitempty"`
	LinkedPhones    []string   `json:"linked_phones,omitempty" dynamodbav:"linked_phones,stringset,omitempty"`
	LinkedProviders []string   `json:"linked_providers,omitempty" dynamodbav:"linked_providers,stringset,omitempty"`
	VerifiedEmails  []string   `json:"verified_emails,omitempty" dynamodbav:"verified_emails,stringset,omitempty"`
	VerifiedPhones  []string   `json:"verified_phones,omitempty" dynamodbav:"verified_phones,stringset,omitempty"`
	GroupID         string     `json:"group_id,omitempty" dynamodbav:"group_id,omitempty"`
	IsActive        bool       `json:"is_active" dynamodbav:"is_active"`
	IsMaster        bool       `json:"is_master" dynamodbav:"is_master"`
	MergedInto      string     `json:"merged_into,omitempty" dynamodbav:"merged_into,omitempty"`
	MergedAccounts  []string   `json:"merged_accounts,omitempty" dynamodbav:"merged_accounts,omitempty"`
	AccountStatus   string     `json:"account_status" dynamodbav:"account_status"`
	CredentialHash  string     `json:"-" dynamodbav:"credential_hash,omitempty"`
	CreatedAt       time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt       time.Time  `json:"updated" dynamodbav:"updated_at"`
	MergedAt        *time.Time `json:"merged_at,omitempty" dynamodbav:"merged_at,omitempty"`
}

// Merged reports whether the identity is a tombstone.
func (i *Identity) Merged() bool { return i.AccountStatus == AccountMerged }

// HasPassword reports whether the identity can log in with a password.
func (i *Identity) HasPassword() bool { return i.CredentialHash != "" }

// AllEmails returns the primary email followed by the linked ones, without duplicates.
func (i *Identity) AllEmails() []string { return withPrimary(i.Email, i.LinkedEmails) }

// AllPhones returns the primary phone followed by the linked ones, without duplicates.
func (i *Identity) AllPhones() []string { return withPrimary(i.Phone, i.LinkedPhones) }

// HasEmail reports whether email is the primary or a linked email.
func (i *Identity) HasEmail(email string) bool {
	return i.Email == email || slices.Contains(i.LinkedEmails, email)
}

// HasPhone reports whether phone is the primary or a linked phone.
func (i *Identity) HasPhone(phone string) bool {
	return i.Phone == phone || slices.Contains(i.LinkedPhones, phone)
}

// AuthMethodCount counts the verified ways this identity can authenticate.
// extraProviders are provider names known from provider-link rows; they are
// unioned with LinkedProviders.
func (i *Identity) AuthMethodCount(extraProviders []string) int {
	n := len(i.VerifiedEmails) + len(i.VerifiedPhones)
	providers := Union(i.LinkedProviders, extraProviders)
	n += len(providers)
	if i.HasPassword() {
		n++
	}
	return n
}

func withPrimary(primary string, linked []string) []string {
	out := make([]string, 0, len(linked)+1)
	if primary != "" {
		out = append(out, primary)
	}
	for _, v := range linked {
		if v != primary {
			out = append(out, v)
		}
	}
	return out
}

// Union returns the set union of a and b, preserving first-seen order.
func Union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range [][]string{a, b} {
		for _, v := range s {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone keeps a leading '+' and the digits of a phone number.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsPhoneIdentifier reports whether identifier looks like a phone number
// rather than an email address.
func IsPhoneIdentifier(identifier string) bool {
	return identifier != "" && !strings.Contains(identifier, "@")
}
