package domain

// MatchReason explains why a candidate was returned.
type MatchReason string

const (
	ReasonPrimaryEmail MatchReason = "primary_email"
	ReasonLinkedEmail  MatchReason = "linked_email"
	ReasonPrimaryPhone MatchReason = "primary_phone"
	ReasonLinkedPhone  MatchReason = "linked_phone"
)

// Primary reports whether the reason is an exact match on a primary identifier.
func (r MatchReason) Primary() bool {
	return r == ReasonPrimaryEmail || r == ReasonPrimaryPhone
}

// Auth methods reported on candidates.
const (
	AuthMethodPassword = "password"
	AuthMethodPhone    = "phone"
	AuthMethodEmail    = "email"
)

// Candidate is an existing identity judged as a possible match.
type Candidate struct {
	IdentityID   string        `json:"identity_id"`
	MatchedEmail string        `json:"matched_email,omitempty"`
	MatchedPhone string        `json:"matched_phone,omitempty"`
	Name         string        `json:"name,omitempty"`
	AuthMethod   string        `json:"auth_method"`
	Confidence   int           `json:"confidence"`
	Reasons      []MatchReason `json:"reasons"`
}

// HasPrimaryReason reports whether any reason is a primary-identifier match.
func (c *Candidate) HasPrimaryReason() bool {
	for _, r := range c.Reasons {
		if r.Primary() {
			return true
		}
	}
	return false
}

// Suggestion is the outcome of a linking suggestion.
type Suggestion struct {
	ShouldSuggest bool        `json:"should_suggest"`
	Confidence    int         `json:"confidence"`
	Candidates    []Candidate `json:"candidates"`
}

// AutoLinkResult is the outcome of an unattended linking attempt.
type AutoLinkResult struct {
	Linked  bool   `json:"linked"`
	GroupID string `json:"group_id,omitempty"`
	Message string `json:"message"`
}

// MergeResult is the outcome of a merge.
type MergeResult struct {
	Success        bool     `json:"success"`
	GroupID        string   `json:"group_id,omitempty"`
	MergedAccounts []string `json:"merged_accounts,omitempty"`
	MergedUserID   string   `json:"merged_user_id"`
}

// GroupResult is the outcome of a group creation.
type GroupResult struct {
	Success bool   `json:"success"`
	GroupID string `json:"group_id"`
	Created bool   `json:"created"`
}
