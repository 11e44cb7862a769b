package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/erictom97/gender-age/detections"
	"github.com/erictom97/gender-age/logger"
	"github.com/erictom97/gender-age/models"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type DetectResponse struct {
	RequestID   string                   `json:"request_id"`
	FaceCount   int                      `json:"face_count"`
	Message     string                   `json:"message"`
	Results     []models.AttributeResult `json:"results"`
	Lines       []string                 `json:"lines"`
	Image       string                   `json:"image"`
	ContentType string                   `json:"content_type"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(logger.Fields{"error": err.Error()}, "failed to write response")
	}
}

func logTimings(t *models.ProcessingTimings) {
	logger.Debug(logger.Fields{
		logger.RequestIDKey: t.RequestID,
		"decode":            t.ImageDecode.String(),
		"detect":            t.Detect.String(),
		"classify":          t.Classify.String(),
		"render":            t.Render.String(),
		"encode":            t.Encode.String(),
		"total":             t.Total.String(),
	}, "processing times")
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	const operation = "detect"

	startTotal := time.Now()
	ctx := r.Context()
	requestID := logger.RequestID(ctx)
	timings := &models.ProcessingTimings{RequestID: requestID}

	data, err := readImage(w, r, s.maxUploadBytes, s.validate)
	if err != nil {
		sendError(w, r, err, operation)
		return
	}

	decodeStart := time.Now()
	img, err := detections.DecodeImage(data)
	timings.ImageDecode = time.Since(decodeStart)
	defer img.Close()
	if err != nil {
		sendError(w, r, err, operation)
		return
	}

	set, err := s.pool.Acquire(ctx)
	if err != nil {
		sendError(w, r, err, operation)
		return
	}

	result, err := detections.ProcessImage(ctx, img, set, s.options, timings)
	if err != nil {
		if errors.Is(err, detections.ErrInference) || errors.Is(err, models.ErrUnknownClass) {
			s.pool.Discard(set, err)
		} else {
			s.pool.Release(set)
		}
		sendError(w, r, err, operation)
		return
	}
	s.pool.Release(set)
	defer result.Close()

	if skipped := result.Skipped(); skipped > 0 {
		logger.Warn(logger.Fields{
			logger.RequestIDKey: requestID,
			"skipped":           skipped,
		}, "faces with an empty crop were not classified")
	}

	encodeStart := time.Now()
	encoded, err := detections.EncodeImage(result.Annotated, s.format)
	timings.Encode = time.Since(encodeStart)
	if err != nil {
		sendError(w, r, err, operation)
		return
	}

	lines := make([]string, 0, len(result.Attributes))
	for _, a := range result.Attributes {
		lines = append(lines, a.Line())
	}

	timings.Total = time.Since(startTotal)
	logTimings(timings)

	logger.Info(logger.Fields{
		logger.RequestIDKey: requestID,
		"face_count":        len(result.Boxes),
	}, "image processed")

	writeJSON(w, http.StatusOK, DetectResponse{
		RequestID:   requestID,
		FaceCount:   len(result.Boxes),
		Message:     faceMessage(len(result.Boxes)),
		Results:     result.Attributes,
		Lines:       lines,
		Image:       base64.StdEncoding.EncodeToString(encoded),
		ContentType: s.format.ContentType(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"available": s.pool.Metrics().Available,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Metrics())
}
