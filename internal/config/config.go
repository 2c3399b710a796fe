package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string
	// LogLevel is one of debug, info, warn or error.
	LogLevel string
	// StoreBackend selects the record store: "dynamo" or "memory".
	StoreBackend      string
	AWSRegion         string
	AWSEndpointURL    string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID    string
	AWSSecretKey      string
	DynamoTables      DynamoTables
	AuditBucket       string // merge snapshots; empty disables archiving
	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration
	SMTPHost          string
	SMTPPort          int
	SMTPFrom          string
	SMTPUsername      string
	SMTPPassword      string
	SMTPTLS           bool
	SNSRegion         string
	AllowedOrigins    []string // CORS allowed origins
	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-Ip. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
	PublicBaseURL     string   // prefix for links sent by email
	Tokens            TokenPolicy
	Match             MatchPolicy
}

// DynamoTables holds the DynamoDB table name for each collection.
type DynamoTables struct {
	Identities         string
	VerificationTokens string
	ProviderLinks      string
}

// TokenPolicy holds verification token lifetimes and the code attempt budget.
type TokenPolicy struct {
	EmailVerificationTTL time.Duration
	PhoneVerificationTTL time.Duration
	PhoneLoginTTL        time.Duration
	PasswordResetTTL     time.Duration
	MaxCodeAttempts      int
}

// MatchPolicy holds the confidence tiers and thresholds used by candidate
// matching and linking.
type MatchPolicy struct {
	EmailConfidence    int
	PhoneConfidence    int
	CombinedConfidence int
	SuggestThreshold   int
	AutoLinkThreshold  int
	MaxCandidates      int
}

// DefaultMatchPolicy returns the production tiers.
func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{
		EmailConfidence:    85,
		PhoneConfidence:    90,
		CombinedConfidence: 99,
		SuggestThreshold:   70,
		AutoLinkThreshold:  98,
		MaxCandidates:      5,
	}
}

// DefaultTokenPolicy returns the production token lifetimes.
func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{
		EmailVerificationTTL: 24 * time.Hour,
		PhoneVerificationTTL: 15 * time.Minute,
		PhoneLoginTTL:        5 * time.Minute,
		PasswordResetTTL:     30 * time.Minute,
		MaxCodeAttempts:      3,
	}
}

// Load reads all configuration from environment variables.
func Load() *Config {
	match := DefaultMatchPolicy()
	tokens := DefaultTokenPolicy()
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		StoreBackend:   getEnv("STORE_BACKEND", "dynamo"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Identities:         getEnv("DYNAMO_TABLE_IDENTITIES", "identities"),
			VerificationTokens: getEnv("DYNAMO_TABLE_VERIFICATION_TOKENS", "verification_tokens"),
			ProviderLinks:      getEnv("DYNAMO_TABLE_PROVIDER_LINKS", "external_provider_links"),
		},
		AuditBucket:       getEnv("AUDIT_BUCKET_NAME", ""),
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_DAYS", 7)) * 24 * time.Hour,
		SMTPHost:          getEnv("SMTP_HOST", "localhost"),
		SMTPPort:          getEnvInt("SMTP_PORT", 1025),
		SMTPFrom:          getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		SMTPTLS:           getEnv("SMTP_TLS", "false") == "true",
		SNSRegion:         getEnv("SNS_REGION", "us-east-1"),
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustProxyHeaders: getEnv("TRUST_PROXY_HEADERS", "false") == "true",
		PublicBaseURL:     getEnv("PUBLIC_BASE_URL", "http://localhost:3000"),
		Tokens: TokenPolicy{
			EmailVerificationTTL: getEnvDuration("EMAIL_VERIFICATION_TTL", tokens.EmailVerificationTTL),
			PhoneVerificationTTL: getEnvDuration("PHONE_VERIFICATION_TTL", tokens.PhoneVerificationTTL),
			PhoneLoginTTL:        getEnvDuration("PHONE_LOGIN_TTL", tokens.PhoneLoginTTL),
			PasswordResetTTL:     getEnvDuration("PASSWORD_RESET_TTL", tokens.PasswordResetTTL),
			MaxCodeAttempts:      getEnvInt("MAX_CODE_ATTEMPTS", tokens.MaxCodeAttempts),
		},
		Match: MatchPolicy{
			EmailConfidence:    getEnvInt("MATCH_EMAIL_CONFIDENCE", match.EmailConfidence),
			PhoneConfidence:    getEnvInt("MATCH_PHONE_CONFIDENCE", match.PhoneConfidence),
			CombinedConfidence: getEnvInt("MATCH_COMBINED_CONFIDENCE", match.CombinedConfidence),
			SuggestThreshold:   getEnvInt("MATCH_SUGGEST_THRESHOLD", match.SuggestThreshold),
			AutoLinkThreshold:  getEnvInt("MATCH_AUTO_LINK_THRESHOLD", match.AutoLinkThreshold),
			MaxCandidates:      getEnvInt("MATCH_MAX_CANDIDATES", match.MaxCandidates),
		},
	}
}

// Development reports whether the service runs in a local environment.
func (c *Config) Development() bool {
	return c.AppEnv == "development" || c.AppEnv == "local"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
