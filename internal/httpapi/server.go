package httpapi

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/watrall/echotrace-whispering-objects/internal/accessibility"
	"github.com/watrall/echotrace-whispering-objects/internal/content"
	"github.com/watrall/echotrace-whispering-objects/internal/hub"
)

// pushConfigTimeout bounds every config push the operator surface
// triggers as a side effect of a preset/override/pack change.
const pushConfigTimeout = 5 * time.Second

// Server is the operator HTTP surface over a running hub.Coordinator,
// accessibility.Store, and content.Resolver. It holds no package-level
// state; every dependency is constructed once by the caller (cmd/hub)
// and threaded in here, per spec.md §9's "global mutable state" note.
type Server struct {
	coordinator     *hub.Coordinator
	accessibility   *accessibility.Store
	content         *content.Resolver
	defaultLanguage string
	auth            *BasicAuth
	logger          *logrus.Logger
}

// NewServer wires a Server over its dependencies.
func NewServer(coordinator *hub.Coordinator, accessibilityStore *accessibility.Store, contentResolver *content.Resolver, defaultLanguage string, auth *BasicAuth, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		coordinator:     coordinator,
		accessibility:   accessibilityStore,
		content:         contentResolver,
		defaultLanguage: defaultLanguage,
		auth:            auth,
		logger:          logger,
	}
}

// Handler builds the routed mux. /health and /transcripts/* are the
// only unauthenticated routes, matching spec.md §4.8.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /transcripts/{pack}/{file...}", s.handleTranscript)

	mux.HandleFunc("GET /api/state", s.auth.RequireAuthFunc(s.handleState))
	mux.HandleFunc("POST /api/reset-state", s.auth.RequireAuthFunc(s.handleResetState))
	mux.HandleFunc("GET /api/health", s.auth.RequireAuthFunc(s.handleNodeHealth))
	mux.HandleFunc("POST /api/push-config", s.auth.RequireAuthFunc(s.handlePushConfig))
	mux.HandleFunc("POST /api/apply-preset", s.auth.RequireAuthFunc(s.handleApplyPreset))
	mux.HandleFunc("POST /api/accessibility/override", s.auth.RequireAuthFunc(s.handleAccessibilityOverride))
	mux.HandleFunc("POST /api/select-pack", s.auth.RequireAuthFunc(s.handleSelectPack))
	mux.HandleFunc("GET /api/export-csv", s.auth.RequireAuthFunc(s.handleExportCSV))
	mux.HandleFunc("GET /api/analytics/summary", s.auth.RequireAuthFunc(s.handleAnalyticsSummary))

	return mux
}
