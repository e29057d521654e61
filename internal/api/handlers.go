package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/pdfdown/internal/domain"
	"github.com/spherical/pdfdown/internal/history"
	"github.com/spherical/pdfdown/internal/observability"
)

// multipart parts above this size are spooled to disk by net/http
const maxMemory = 32 << 20

// ConvertHandler handles document uploads.
type ConvertHandler struct {
	logger         *observability.Logger
	converter      Converter
	maxUploadBytes int64
}

// NewConvertHandler creates a new convert handler.
func NewConvertHandler(logger *observability.Logger, converter Converter, maxUploadBytes int64) *ConvertHandler {
	return &ConvertHandler{
		logger:         logger,
		converter:      converter,
		maxUploadBytes: maxUploadBytes,
	}
}

// ConvertResponseDTO is the JSON body returned by a successful conversion.
type ConvertResponseDTO struct {
	RunID      string `json:"run_id"`
	Markdown   string `json:"markdown"`
	Pages      int    `json:"pages"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
}

// Convert handles POST /api/v1/convert. The document is sent as multipart field "file".
// With ?format=markdown the body is the Markdown itself.
func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	defer file.Close()

	tmpPath, err := spool(file, header.Filename)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to store upload")
		writeError(w, http.StatusInternalServerError, "failed to store upload", "")
		return
	}
	defer os.Remove(tmpPath)

	h.logger.Info().Str("filename", header.Filename).Int("size", int(header.Size)).Msg("Converting upload")

	result, err := h.converter.Process(r.Context(), tmpPath, nil)
	if err != nil {
		status, message := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("filename", header.Filename).Msg("Conversion failed")
		}
		writeError(w, status, message, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("X-Run-ID", result.Stats.RunID)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, result.Markdown)
		return
	}

	writeJSON(w, http.StatusOK, ConvertResponseDTO{
		RunID:      result.Stats.RunID,
		Markdown:   result.Markdown,
		Pages:      result.Stats.PagesProcessed,
		Successful: result.Stats.SuccessfulPages,
		Failed:     result.Stats.FailedPages,
		DurationMS: result.Stats.TotalTime.Milliseconds(),
	})
}

// spool copies an upload into a temp file, keeping the extension so type detection can use it.
func spool(src io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	tmp, err := os.CreateTemp("", "pdfdown-upload-*"+ext)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func statusFor(err error) (int, string) {
	switch {
	case domain.IsType(err, domain.ErrorTypePageSource):
		return http.StatusUnprocessableEntity, "unsupported or unreadable document"
	case domain.IsType(err, domain.ErrorTypeSetup), domain.IsType(err, domain.ErrorTypeConfig):
		return http.StatusInternalServerError, "server misconfigured"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "conversion timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "conversion cancelled"
	default:
		return http.StatusInternalServerError, "conversion failed"
	}
}

// HistoryHandler serves recorded runs.
type HistoryHandler struct {
	logger *observability.Logger
	runs   HistoryReader
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(logger *observability.Logger, runs HistoryReader) *HistoryHandler {
	return &HistoryHandler{logger: logger, runs: runs}
}

// RunDTO is the JSON form of a recorded run.
type RunDTO struct {
	ID          string          `json:"id"`
	InputPath   string          `json:"input_path"`
	ContentType string          `json:"content_type"`
	Model       string          `json:"model"`
	TotalPages  int             `json:"total_pages"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	DurationMS  int64           `json:"duration_ms"`
	StartedAt   string          `json:"started_at"`
	Pages       []PageRecordDTO `json:"pages,omitempty"`
}

// PageRecordDTO is the JSON form of one page outcome.
type PageRecordDTO struct {
	Page       int    `json:"page"`
	OK         bool   `json:"ok"`
	ErrorKind  string `json:"error_kind,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
}

// List handles GET /api/v1/runs.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", "")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs", "")
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// Get handles GET /api/v1/runs/{runId}.
func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(r.Context(), chi.URLParam(r, "runId"))
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found", "")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get run")
		writeError(w, http.StatusInternalServerError, "failed to get run", "")
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

func toRunDTO(run history.Run) RunDTO {
	dto := RunDTO{
		ID:          run.ID,
		InputPath:   run.InputPath,
		ContentType: run.ContentType,
		Model:       run.Model,
		TotalPages:  run.TotalPages,
		Successful:  run.Successful,
		Failed:      run.Failed,
		DurationMS:  run.Duration.Milliseconds(),
		StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
	}
	for _, p := range run.Pages {
		dto.Pages = append(dto.Pages, PageRecordDTO{
			Page:       p.Index + 1,
			OK:         p.OK,
			ErrorKind:  p.ErrorKind,
			StatusCode: p.StatusCode,
			Attempts:   p.Attempts,
			DurationMS: p.Duration.Milliseconds(),
		})
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}
