package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/drblury/connectflow/internal/runtime/jsoncodec"
	"github.com/drblury/connectflow/internal/runtime/metrics"
)

// Stats is the document served by the stats API.
type Stats struct {
	Decoder  metrics.Snapshot `json:"decoder"`
	Resource ResourceUsage    `json:"resource"`
	Uptime   string           `json:"uptime,omitempty"`
}

var processStart = time.Now()

func (s *Service) registerStatsAPI(port int) {
	s.RegisterHTTPHandler(port, "/api/stats", http.HandlerFunc(s.handleGetStats))
}

func (s *Service) handleGetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.StatsCORSAllowedOrigins) > 0 {
		if allowed := s.getAllowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	stats := Stats{
		Decoder:  s.metrics.Snapshot(),
		Resource: s.resourceTracker.Snapshot(),
		Uptime:   time.Since(processStart).Round(time.Second).String(),
	}
	if err := jsoncodec.Encode(w, stats); err != nil {
		s.Logger.Error("Failed to encode stats", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.StatsCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
