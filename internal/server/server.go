// Package server implements the central server: it receives snapshot
// uploads from monitoring stations and hands out operator messages for
// units that are out of coverage.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/models"
	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/store"
)

// DefaultStationID is used when an upload carries no laptop_id.
const DefaultStationID = "Unknown_Laptop"

const defaultMaxUploadBytes = 256 << 20

// Config controls HTTP server settings.
type Config struct {
	Addr           string
	UploadDir      string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger *zap.Logger
	Store  store.Store
	Now    func() time.Time
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs the HTTP server and its routes.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploaded_pcaps"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := mux.NewRouter()
	r.HandleFunc("/", homeHandler()).Methods(http.MethodGet)
	r.HandleFunc("/upload_pcap", uploadHandler(cfg, deps)).Methods(http.MethodPost)
	r.HandleFunc("/get_dummy_message", messageHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/uploads", listUploadsHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

func homeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "Central Server is Running!")
	}
}

func uploadHandler(cfg Config, deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)

		file, hdr, err := r.FormFile("pcap_file")
		if err != nil {
			var tooBig *http.MaxBytesError
			switch {
			case errors.As(err, &tooBig):
				writeMessage(w, http.StatusRequestEntityTooLarge, "File too large")
			case errors.Is(err, http.ErrMissingFile):
				writeMessage(w, http.StatusBadRequest, "No file part in request")
			default:
				writeMessage(w, http.StatusBadRequest, "Invalid multipart request")
			}
			return
		}
		defer file.Close()

		name := baseName(hdr.Filename)
		if name == "" {
			writeMessage(w, http.StatusBadRequest, "No file selected")
			return
		}
		stationID := baseName(r.FormValue("laptop_id"))
		if stationID == "" {
			stationID = DefaultStationID
		}

		size, err := saveUpload(filepath.Join(cfg.UploadDir, stationID), name, file)
		if err != nil {
			deps.Logger.Error("Failed to save upload",
				zap.String("station", stationID),
				zap.String("file", name),
				zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, "Unable to save file")
			return
		}

		rec, err := deps.Store.RecordUpload(r.Context(), models.UploadRecord{
			StationID:  stationID,
			Filename:   name,
			Size:       size,
			ReceivedAt: deps.Now().UTC(),
		})
		if err != nil {
			deps.Logger.Warn("Failed to record upload", zap.String("file", name), zap.Error(err))
		}

		deps.Logger.Info("Upload received",
			zap.String("id", rec.ID),
			zap.String("station", stationID),
			zap.String("file", name),
			zap.String("size", humanize.Bytes(uint64(size))))
		writeMessage(w, http.StatusOK, fmt.Sprintf("File '%s' uploaded successfully", name))
	}
}

func messageHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stationID := r.URL.Query().Get("laptop_id")
		if stationID == "" {
			writeMessage(w, http.StatusBadRequest, "Missing laptop_id")
			return
		}
		msg := fmt.Sprintf("Hello from Central Server! You are currently out of RSU zone.\nYour ID: %s\nTimestamp: %s",
			stationID, deps.Now().Format("2006-01-02 15:04:05"))
		writeMessage(w, http.StatusOK, msg)
	}
}

func listUploadsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeMessage(w, http.StatusBadRequest, "Invalid limit")
				return
			}
			limit = n
		}

		records, err := deps.Store.ListUploads(r.Context(), r.URL.Query().Get("laptop_id"), limit)
		if err != nil {
			deps.Logger.Error("List uploads failed", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"uploads": records})
	}
}

// saveUpload writes src to dir/name through a temp file and returns the
// number of bytes written.
func saveUpload(dir, name string, src io.Reader) (int64, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return 0, fmt.Errorf("creating upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".part-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	size, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("writing upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("renaming upload: %w", err)
	}
	return size, nil
}

// baseName reduces a client-supplied name to its final path element, or
// "" if nothing usable remains.
func baseName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == ".." || base == "/" || strings.HasPrefix(base, ".") {
		return ""
	}
	return base
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.MessageResponse{Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
