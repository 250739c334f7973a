package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"psp.com/species-quiz/backend/internal/config"
	"psp.com/species-quiz/backend/internal/events"
	"psp.com/species-quiz/backend/internal/hints"
	"psp.com/species-quiz/backend/internal/images"
	"psp.com/species-quiz/backend/internal/quiz"
	"psp.com/species-quiz/backend/internal/species"
	"psp.com/species-quiz/backend/internal/wikimedia"
)

var (
	httpClient = &http.Client{Timeout: 8 * time.Second}
	settings   = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "species-quiz",
	Short: "serve the species flashcard quiz",
	RunE:  run,
}

func init() {
	if err := config.BindFlags(settings, rootCmd.Flags()); err != nil {
		logrus.Fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("could not load .env: %w", err)
	}
	cfg := config.Load(settings)
	setupLogging(cfg.LogLevel)

	ctx := cmd.Context()
	srv := newServer(newSession(ctx, cfg), hints.NewProvider(httpClient, cfg.WikipediaURL, cfg.UserAgent, cfg.HintTTL),
		events.NewHub(originChecker(cfg.AllowedOrigins)))
	defer srv.hub.Close()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes(srv, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	var err error
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		logrus.Infof("backend listening on :%s (HTTPS)", cfg.Port)
		err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
	} else {
		logrus.Infof("backend listening on :%s (HTTP)", cfg.Port)
		err = httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithError(err).Warn("unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// newSession loads the species table and wires the image lookup chain. A load
// failure leaves the session unplayable but the server still starts.
func newSession(ctx context.Context, cfg config.Config) *quiz.Session {
	data, err := species.Load(cfg.DataFile)
	if err != nil {
		logrus.WithError(err).Error("could not load species data")
		data = nil
	} else {
		logrus.Infof("loaded %d species from %s", data.Len(), cfg.DataFile)
	}

	catalog := wikimedia.New(httpClient,
		wikimedia.WithWikidataAPI(cfg.WikidataAPI),
		wikimedia.WithCommonsAPI(cfg.CommonsAPI),
		wikimedia.WithUserAgent(cfg.UserAgent))
	resolver := images.NewResolver(catalog, images.Config{
		Width:       cfg.ImageWidth,
		MaxFiles:    cfg.ImageMaxFiles,
		Concurrency: cfg.ImageConcurrency,
	}, nil)

	return quiz.NewSession(data,
		quiz.WithContext(ctx),
		quiz.WithImages(resolver),
		quiz.WithScientificField(cfg.ScientificField),
		quiz.WithPlaceholder(cfg.PlaceholderURL),
		quiz.WithImageTimeout(cfg.ImageTimeout),
		quiz.WithShowImages(cfg.ShowImages))
}

func routes(s *server, cfg config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(securityHeaders)
	r.Use(newRateLimiter(cfg.RateLimit).middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })

	r.Route("/api", func(r chi.Router) {
		r.Get("/fields", s.handleFields)
		r.Put("/fields/{field}", s.handleToggleField)
		r.Get("/fields/{field}/values", s.handleFieldValues)
		r.Put("/filter", s.handleFilter)
		r.Post("/next", s.handleNext)
		r.Get("/question", s.handleQuestion)
		r.Post("/grade", s.handleGrade)
		r.Get("/score", s.handleScore)
		r.Get("/reveal/{field}", s.handleReveal)
		r.Get("/hint", s.handleHint)
		r.Get("/image", s.handleImage)
		r.Put("/image/show", s.handleShowImages)
		r.Post("/image/failed", s.handleImageFailed)
		r.Get("/report", s.handleReport)
	})
	r.Handle("/ws", s.hub)
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data: https:; connect-src 'self' ws: wss:")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter allows limit requests per client IP in any one minute window.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	recent map[string][]time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, recent: map[string][]time.Time{}}
}

func (l *rateLimiter) allow(clientIP string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []time.Time
	for _, t := range l.recent[clientIP] {
		if now.Sub(t) < time.Minute {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.recent[clientIP] = kept
		return false
	}
	l.recent[clientIP] = append(kept, now)
	return true
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.limit <= 0 || r.URL.Path == "/healthz" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		clientIP := r.RemoteAddr
		if i := strings.LastIndex(clientIP, ":"); i > 0 {
			clientIP = clientIP[:i]
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			clientIP = strings.TrimSpace(strings.Split(xff, ",")[0])
		}
		if !l.allow(clientIP, time.Now()) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originChecker accepts websocket upgrades from the configured origins, the
// server's own host and clients that send no Origin header.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}
