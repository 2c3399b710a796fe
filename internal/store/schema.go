package store

// Schema describes the key layout of a collection. Indexes maps an attribute
// to the name of a secondary index that can serve equality lookups on it.
type Schema struct {
	HashKey  string
	RangeKey string
	Indexes  map[string]string
}

// Schemas is the key layout of every collection this service uses.
var Schemas = map[Collection]Schema{
	Identities: {
		HashKey: "identity_id",
		Indexes: map[string]string{
			"email":       "email-index",
			"phone":       "phone-index",
			"group_id":    "group_id-index",
			"merged_into": "merged_into-index",
		},
	},
	VerificationTokens: {
		HashKey:  "identifier",
		RangeKey: "type",
		Indexes: map[string]string{
			"value": "value-index",
		},
	},
	ProviderLinks: {
		HashKey:  "identity_id",
		RangeKey: "provider_name",
	},
}

// KeyFields returns the hash and, when present, range key attribute names.
func (s Schema) KeyFields() []string {
	if s.RangeKey == "" {
		return []string{s.HashKey}
	}
	return []string{s.HashKey, s.RangeKey}
}
