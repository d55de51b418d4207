package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"echopay/internal/aggregate"
	"echopay/internal/notify"
	"echopay/internal/storage"
)

const serviceName = "echopay-backend"

// Config holds the public URLs the API links to.
type Config struct {
	PublicBase string
	PayWebBase string
	Explorer   string
}

// Server serves receipt verification, QR codes and merchant dashboards.
type Server struct {
	cfg        Config
	links      notify.Links
	receipts   storage.ReceiptStore
	summarizer *aggregate.Summarizer
	logger     *zap.Logger
	router     http.Handler
}

func New(cfg Config, receipts storage.ReceiptStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.PayWebBase = strings.TrimRight(cfg.PayWebBase, "/")
	srv := &Server{
		cfg:        cfg,
		links:      notify.Links{PublicBase: cfg.PublicBase, Explorer: cfg.Explorer},
		receipts:   receipts,
		summarizer: aggregate.NewSummarizer(receipts, logger),
		logger:     logger,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors)

	r.Get("/", s.Health)
	r.Get("/verify/{code}", s.Verify)
	r.Get("/qr/{code}", s.ReceiptQR)
	r.Route("/api/merchant/{wallet}", func(m chi.Router) {
		m.Get("/summary", s.MerchantSummary)
		m.Get("/receipts", s.MerchantReceipts)
		m.Post("/qr", s.PaymentLink)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
