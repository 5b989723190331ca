package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"clientdesk.org/internal/account"
	"clientdesk.org/internal/auth"
	"clientdesk.org/internal/authz"
	"clientdesk.org/internal/captcha"
	"clientdesk.org/internal/config"
	"clientdesk.org/internal/httpapi"
	"clientdesk.org/internal/obs"
	"clientdesk.org/internal/security"
	"clientdesk.org/internal/store/memory"
	"clientdesk.org/internal/store/pg"
	"clientdesk.org/internal/store/redislog"
)

var (
	version = "0.1.0"
	commit  = ""
)

// pruner drops request log rows older than the retention window.
type pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type userDirectory interface {
	account.UserStore
	authz.RoleFinder
}

func main() {
	log := obs.Logger()
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Warn("invalid log level, keeping info")
	}
	obs.Init()
	obs.SetBuildInfo(version, commit)

	var (
		requests security.RequestStore
		users    userDirectory
		ready    []httpapi.Pinger
		closers  []func() error
	)

	if cfg.Storage.PGDSN != "" {
		openCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := pg.Open(openCtx, cfg.Storage.PGDSN, pg.DefaultPool)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("open postgres")
		}
		requests, users = store, store
		ready = append(ready, store)
		closers = append(closers, store.Close)
	} else {
		log.Warn("CLIENTDESK_PG_DSN not set, using in-memory user directory")
		users = memory.NewUsers()
	}

	if cfg.Storage.RedisURL != "" {
		rl, err := redislog.Dial(cfg.Storage.RedisURL, redislog.WithRetention(cfg.Storage.RequestLogRetention))
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		requests = rl
		ready = append(ready, rl)
		closers = append(closers, rl.Close)
	}
	if requests == nil {
		log.Warn("no request log backend configured, using memory")
		requests = memory.NewRequestLog()
	}

	var opts []security.Option
	if cfg.Captcha.Secret != "" {
		copts := []captcha.Option{captcha.WithMinScore(cfg.Captcha.MinScore)}
		if cfg.Captcha.VerifyURL != "" {
			copts = append(copts, captcha.WithVerifyURL(cfg.Captcha.VerifyURL))
		}
		rv, err := captcha.NewRecaptchaVerifier(cfg.Captcha.Secret, copts...)
		if err != nil {
			log.WithError(err).Fatal("captcha verifier")
		}
		guarded, err := captcha.NewReplayGuard(rv, cfg.Captcha.ReplaySize)
		if err != nil {
			log.WithError(err).Fatal("captcha replay guard")
		}
		opts = append(opts, security.WithCaptcha(guarded))
	}

	loginChecker, err := security.NewLoginChecker(requests, cfg.Security, opts...)
	if err != nil {
		log.WithError(err).Fatal("login checker")
	}
	emailChecker, err := security.NewEmailChecker(requests, cfg.Security, opts...)
	if err != nil {
		log.WithError(err).Fatal("email checker")
	}
	issuer, err := auth.NewIssuer(cfg.Auth.Secret, auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		log.WithError(err).Fatal("token issuer")
	}
	verifiers, err := authz.NewSet(authz.DefaultHierarchy())
	if err != nil {
		log.WithError(err).Fatal("authorization policies")
	}

	dispatcher := account.NewDispatcher(emailChecker, account.LogMailer{}, requests)
	api := httpapi.New(httpapi.Deps{
		Login:     account.NewAuthenticator(loginChecker, users, requests, issuer),
		Recovery:  account.NewPasswordRecovery(users, dispatcher),
		Tokens:    issuer,
		Roles:     users,
		Verifiers: verifiers,
		Ready:     ready,
		Version:   version,
	},
		httpapi.WithRateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		httpapi.WithTrustedProxies(cfg.Server.TrustedProxies),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if p, ok := requests.(pruner); ok {
		go pruneLoop(ctx, log, p, cfg.Storage.RequestLogRetention)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithFields(logrus.Fields{"version": version, "addr": srv.Addr}).Info("starting clientdesk-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close store")
		}
	}
	log.Info("stopped")
}

func pruneLoop(ctx context.Context, log *logrus.Logger, p pruner, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				log.WithError(err).Warn("prune request log")
				continue
			}
			log.WithField("rows", n).Debug("request log pruned")
		}
	}
}
