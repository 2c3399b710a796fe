package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-identity-nosql/internal/application/group"
	"github.com/go-identity-nosql/internal/application/identity"
	"github.com/go-identity-nosql/internal/application/linking"
	"github.com/go-identity-nosql/internal/application/matching"
	"github.com/go-identity-nosql/internal/application/merge"
	"github.com/go-identity-nosql/internal/application/token"
	"github.com/go-identity-nosql/internal/application/verification"
	"github.com/go-identity-nosql/internal/config"
	jwtinfra "github.com/go-identity-nosql/internal/infrastructure/jwt"
	"github.com/go-identity-nosql/internal/metrics"
	"github.com/go-identity-nosql/internal/store"
	"github.com/go-identity-nosql/internal/transport/http/handler"
	appmiddleware "github.com/go-identity-nosql/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	Store       store.Store
	Archive     AuditArchive // nil disables merge snapshots
	Mailer      Mailer
	SMSSender   SMSSender
	JWTProvider *jwtinfra.Provider
	Metrics     *metrics.Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10, for public endpoints that send messages
	// or accept codes.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	matchSvc := matching.NewService(matching.ServiceDeps{Store: deps.Store, Policy: cfg.Match, Metrics: deps.Metrics})
	groupSvc := group.NewService(group.ServiceDeps{Store: deps.Store})
	linkSvc := linking.NewService(linking.ServiceDeps{Matcher: matchSvc, Groups: groupSvc, Policy: cfg.Match, Metrics: deps.Metrics})
	identitySvc := identity.NewService(identity.ServiceDeps{Store: deps.Store, Suggester: linkSvc})
	mergeDeps := merge.ServiceDeps{Store: deps.Store, Metrics: deps.Metrics}
	if deps.Archive != nil {
		mergeDeps.Archive = deps.Archive
	}
	mergeSvc := merge.NewService(mergeDeps)
	tokenSvc := token.NewService(token.ServiceDeps{Store: deps.Store, MaxAttempts: cfg.Tokens.MaxCodeAttempts, Metrics: deps.Metrics})
	verificationSvc := verification.NewService(verification.ServiceDeps{
		Tokens:  tokenSvc,
		Store:   deps.Store,
		Mailer:  deps.Mailer,
		SMS:     deps.SMSSender,
		Policy:  cfg.Tokens,
		BaseURL: cfg.PublicBaseURL,
	})

	healthH := handler.NewHealthHandler()
	identityH := handler.NewIdentityHandler(identitySvc)
	linkingH := handler.NewLinkingHandler(matchSvc, linkSvc, identitySvc, cfg.Match.AutoLinkThreshold)
	groupH := handler.NewGroupHandler(groupSvc)
	var (
		mergeH  *handler.MergeHandler
		verifyH *handler.VerificationHandler
	)
	if deps.JWTProvider != nil {
		mergeH = handler.NewMergeHandler(mergeSvc, deps.JWTProvider)
		verifyH = handler.NewVerificationHandler(verificationSvc, deps.JWTProvider)
	} else {
		mergeH = handler.NewMergeHandler(mergeSvc, nil)
		verifyH = handler.NewVerificationHandler(verificationSvc, nil)
	}

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/identities", identityH.Register)
		r.Get("/verification/email/confirm", verifyH.ConfirmEmail)
		r.With(sensitiveRL.Limit).Post("/phone-login/request", verifyH.RequestPhoneLogin)
		r.With(sensitiveRL.Limit).Post("/phone-login/confirm", verifyH.ConfirmPhoneLogin)
		r.With(sensitiveRL.Limit).Post("/password-reset/request", verifyH.RequestPasswordReset)
		r.With(sensitiveRL.Limit).Post("/password-reset/confirm", verifyH.ResetPassword)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Route("/identities/{id}", func(r chi.Router) {
				r.Use(appmiddleware.RequireOwner("id"))

				r.Get("/", identityH.Get)
				r.Post("/emails", identityH.AddEmail)
				r.Delete("/emails/{value}", identityH.RemoveEmail)
				r.Post("/phones", identityH.AddPhone)
				r.Delete("/phones/{value}", identityH.RemovePhone)
				r.Delete("/providers/{value}", identityH.RemoveProvider)
			})

			r.Post("/verification/email/request", verifyH.RequestEmail)
			r.With(sensitiveRL.Limit).Post("/verification/phone/request", verifyH.RequestPhone)
			r.With(sensitiveRL.Limit).Post("/verification/phone/confirm", verifyH.ConfirmPhone)

			r.Post("/linking/candidates", linkingH.Candidates)
			r.Post("/linking/suggest", linkingH.Suggest)
			r.Post("/linking/auto-link", linkingH.AutoLink)

			r.Post("/merge", mergeH.Merge)
			r.Post("/merge/group", mergeH.MergeWithGroup)

			r.Post("/groups", groupH.Create)
			r.Get("/groups/{groupID}/accounts", groupH.Accounts)
		})
	})

	return r
}
