// Package server exposes a Session over HTTP on a unix socket so the
// command-line client and host integrations can drive it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/user-none/reshadeck/session"
	"github.com/user-none/reshadeck/shader"
	"github.com/user-none/reshadeck/storage"
)

// EffectReader reports the effect gamescope has loaded
type EffectReader interface {
	Current(ctx context.Context) string
}

// UniformReader reads uniform values from a shader source
type UniformReader interface {
	Read(path, uniform string) (float64, error)
}

// ShaderLister lists installed shaders
type ShaderLister interface {
	List() ([]string, error)
}

// ProfileLister returns every stored profile by application id
type ProfileLister interface {
	LoadAll() (map[string]storage.Profile, error)
}

// Config wires the server to the session and its read-only helpers
type Config struct {
	Session   *session.Session
	Catalog   ShaderLister
	Effects   EffectReader
	Uniforms  UniformReader
	Profiles  ProfileLister
	ShaderDir string
	Tunable   shader.TunableInfo
	Logger    hclog.Logger
}

// Server handles control requests
type Server struct {
	sess      *session.Session
	catalog   ShaderLister
	effects   EffectReader
	uniforms  UniformReader
	profiles  ProfileLister
	shaderDir string
	tunable   shader.TunableInfo
	log       hclog.Logger
	mux       *http.ServeMux
}

// New creates a server and registers its routes
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	tunable := cfg.Tunable
	if tunable.File == "" {
		tunable = shader.CAS
	}
	s := &Server{
		sess:      cfg.Session,
		catalog:   cfg.Catalog,
		effects:   cfg.Effects,
		uniforms:  cfg.Uniforms,
		profiles:  cfg.Profiles,
		shaderDir: cfg.ShaderDir,
		tunable:   tunable,
		log:       logger,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /state", s.handleState)
	s.mux.HandleFunc("GET /shaders", s.handleShaders)
	s.mux.HandleFunc("PUT /enabled", s.handleEnabled)
	s.mux.HandleFunc("PUT /shader", s.handleShader)
	s.mux.HandleFunc("PUT /contrast", s.handleUniform(shader.UniformContrast, s.sess.SetContrast))
	s.mux.HandleFunc("PUT /sharpness", s.handleUniform(shader.UniformSharpness, s.sess.SetSharpness))
	s.mux.HandleFunc("POST /apply", s.handleApply)
	s.mux.HandleFunc("POST /toggle", s.handleToggle)
	s.mux.HandleFunc("PUT /app", s.handleApp)
	s.mux.HandleFunc("GET /effect", s.handleEffect)
	s.mux.HandleFunc("GET /uniforms", s.handleUniforms)
	s.mux.HandleFunc("POST /install", s.handleInstall)
	s.mux.HandleFunc("GET /profiles", s.handleProfiles)
	return s
}

// Handler returns the HTTP handler with request logging
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.mux.ServeHTTP(w, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// Serve listens on the unix socket at path until ctx is done.
// A stale socket file left by a previous run is removed first.
func (s *Server) Serve(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	defer os.Remove(path)

	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", "socket", path)
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server failed: %w", err)
	}
	return nil
}

// Request bodies
type (
	enabledRequest struct {
		Enabled *bool `json:"enabled"`
	}
	nameRequest struct {
		Name string `json:"name"`
	}
	valueRequest struct {
		Value *float64 `json:"value"`
	}
	applyRequest struct {
		Force *bool `json:"force"`
	}
	appRequest struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	installRequest struct {
		Path string `json:"path"`
	}
)

// EffectResponse is the body of GET /effect
type EffectResponse struct {
	Effect string `json:"effect"`
}

// UniformsResponse is the body of GET /uniforms.
// A uniform that could not be read maps to nil.
type UniformsResponse struct {
	File     string              `json:"file"`
	Uniforms map[string]*float64 `json:"uniforms"`
}

// InstallResponse is the body of POST /install
type InstallResponse struct {
	Installed []string `json:"installed"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.State())
}

func (s *Server) handleShaders(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.List()
	if err != nil {
		s.log.Error("failed to list shaders", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New("missing enabled"))
		return
	}
	s.sess.SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, s.sess.State())
}

func (s *Server) handleShader(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing name"))
		return
	}
	s.sess.SetShader(context.WithoutCancel(r.Context()), req.Name)
	writeJSON(w, http.StatusOK, s.sess.State())
}

func (s *Server) handleUniform(name string, set func(float64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req valueRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Value == nil {
			writeError(w, http.StatusBadRequest, errors.New("missing value"))
			return
		}
		if u, ok := s.tunable.Uniform(name); ok && !u.InRange(*req.Value) {
			writeError(w, http.StatusBadRequest,
				fmt.Errorf("%s must be between %g and %g", name, u.Min, u.Max))
			return
		}
		set(*req.Value)
		writeJSON(w, http.StatusOK, s.sess.State())
	}
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	// The body is optional
	var req applyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	force := true
	if req.Force != nil {
		force = *req.Force
	}
	s.sess.Apply(context.WithoutCancel(r.Context()), force)
	writeJSON(w, http.StatusOK, s.sess.State())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing name"))
		return
	}
	s.sess.ToggleTo(context.WithoutCancel(r.Context()), req.Name)
	writeJSON(w, http.StatusOK, s.sess.State())
}

func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	var req appRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing id"))
		return
	}
	s.sess.OnApplicationContextChanged(context.WithoutCancel(r.Context()), req.ID, req.Name)
	writeJSON(w, http.StatusOK, s.sess.State())
}

func (s *Server) handleEffect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EffectResponse{Effect: s.effects.Current(r.Context())})
}

func (s *Server) handleUniforms(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.shaderDir, s.tunable.File)
	resp := UniformsResponse{
		File:     s.tunable.File,
		Uniforms: make(map[string]*float64, len(s.tunable.Uniforms)),
	}
	for _, u := range s.tunable.Uniforms {
		v, err := s.uniforms.Read(path, u.Name)
		if err != nil {
			resp.Uniforms[u.Name] = nil
			continue
		}
		resp.Uniforms[u.Name] = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req installRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !filepath.IsAbs(req.Path) {
		writeError(w, http.StatusBadRequest, errors.New("path must be absolute"))
		return
	}

	names, err := s.sess.InstallPack(req.Path)
	if errors.Is(err, session.ErrNoInstaller) {
		writeError(w, http.StatusNotImplemented, err)
		return
	}
	if err != nil {
		s.log.Warn("pack install failed", "path", req.Path, "error", err)
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, InstallResponse{Installed: names})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if s.profiles == nil {
		writeError(w, http.StatusNotImplemented, errors.New("profiles not available"))
		return
	}
	profiles, err := s.profiles.LoadAll()
	if err != nil {
		s.log.Error("failed to read profiles", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// decodeBody parses the JSON request body into v, answering 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
