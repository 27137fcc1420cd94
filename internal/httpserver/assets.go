package httpserver

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	captivePaths = map[string]bool{
		"/generate_204":        true,
		"/hotspot-detect.html": true,
	}
	captiveHosts = map[string]bool{
		"captive.apple.com":        true,
		"detectportal.firefox.com": true,
		"www.msftconnecttest.com":  true,
	}
)

func isCaptiveProbe(r *http.Request) bool {
	if captivePaths[r.URL.Path] {
		return true
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return captiveHosts[strings.ToLower(host)]
}

// handleRoot answers captive-portal probes and otherwise serves assets.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, appPrefix) {
		http.NotFound(w, r)
		return
	}
	cfg := s.cfg.Load()

	if isCaptiveProbe(r) {
		if ip, ok := s.apIP(); ok {
			w.Header().Set("Location", "http://"+ip+cfg.Captive.Page)
			w.WriteHeader(http.StatusFound)
			s.deps.Metrics.CaptiveRedirect()
			return
		}
		s.log.Warn("captive-portal probe without active access point",
			zap.String("host", r.Host), zap.String("path", r.URL.Path))
	}

	s.serveAsset(w, r, cfg.UI.DefaultAsset)
}

func (s *Server) apIP() (string, bool) {
	if s.deps.AP == nil {
		return "", false
	}
	ip, ok := s.deps.AP.IP()
	if !ok {
		return "", false
	}
	return ip.String(), true
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, fallback string) {
	tbl := s.deps.Assets
	if tbl == nil {
		s.assetStatus(w, r, http.StatusNotFound)
		return
	}
	a, ok := tbl.Lookup(r.URL.Path)
	if !ok && fallback != "" && !strings.HasSuffix(r.URL.Path, ".ico") {
		a, ok = tbl.Lookup(fallback)
	}
	if !ok {
		s.assetStatus(w, r, http.StatusNotFound)
		return
	}

	if a.ETag != "" && r.Header.Get("If-None-Match") == a.ETag {
		w.Header().Set("ETag", a.ETag)
		w.WriteHeader(http.StatusNotModified)
		s.deps.Metrics.Asset(http.StatusNotModified)
		return
	}

	h := w.Header()
	h.Set("Content-Type", a.ContentType)
	if a.ContentEncoding != "" {
		h.Set("Content-Encoding", a.ContentEncoding)
	}
	if a.ETag != "" {
		h.Set("ETag", a.ETag)
		h.Set("Cache-Control", "no-cache")
	}
	h.Set("Content-Length", strconv.Itoa(a.Size()))
	w.WriteHeader(http.StatusOK)
	s.deps.Metrics.Asset(http.StatusOK)
	if _, err := w.Write(tbl.Bytes(a)); err != nil {
		s.log.Debug("asset write failed", zap.String("uri", a.URI), zap.Error(err))
	}
}

func (s *Server) assetStatus(w http.ResponseWriter, r *http.Request, code int) {
	s.deps.Metrics.Asset(code)
	if code == http.StatusNotFound {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(code)
}
