package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/hannes/groundtag/grounding"
	"github.com/hannes/groundtag/ollama"
	"github.com/hannes/groundtag/processor"
	"github.com/hannes/groundtag/store"
	"github.com/hannes/groundtag/vision"
)

const maxRequestBody = 32 << 20 // base64 images make request bodies large

// encodeRequest is the JSON body of POST /v1/encode. Boxes is indexed
// [text][phrase][box]; each box is either a [ul, lr] patch index pair or an
// [x1, y1, x2, y2] normalized rectangle. A phrase slot may be null.
type encodeRequest struct {
	Texts  []string        `json:"texts"`
	Images []string        `json:"images,omitempty"` // base64 encoded
	Boxes  [][][][]float64 `json:"boxes,omitempty"`

	Padding          string `json:"padding,omitempty"`
	AddSpecialTokens *bool  `json:"add_special_tokens,omitempty"`
	AddEOSToken      *bool  `json:"add_eos_token,omitempty"`
	Truncation       bool   `json:"truncation,omitempty"`
	MaxLength        int    `json:"max_length,omitempty"`
	PadToMultipleOf  int    `json:"pad_to_multiple_of,omitempty"`
	NumImageTokens   int    `json:"num_image_tokens,omitempty"`
}

type encodeResponse struct {
	RequestID string              `json:"request_id"`
	Encoding  *processor.Encoding `json:"encoding"`
}

type decodeRequest struct {
	Text     string  `json:"text,omitempty"`
	TokenIDs []int64 `json:"token_ids,omitempty"`
}

type decodeResponse struct {
	RequestID string             `json:"request_id"`
	Caption   string             `json:"caption"`
	Entities  []grounding.Entity `json:"entities"`
}

type groundRequest struct {
	Image  string `json:"image"` // base64 encoded
	Prompt string `json:"prompt,omitempty"`
}

type groundResponse struct {
	RequestID string             `json:"request_id"`
	Raw       string             `json:"raw"`
	Caption   string             `json:"caption"`
	Entities  []grounding.Entity `json:"entities"`
}

type logsResponse struct {
	Logs  []store.LogEntry `json:"logs"`
	Total int              `json:"total"`
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	requestID := uuid.New().String()

	var req encodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	images, err := decodeImages(req.Images)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	boxGroups, err := parseBoxGroups(req.Boxes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch processor.Padding(req.Padding) {
	case processor.PaddingNone, processor.PaddingLongest, processor.PaddingMaxLength:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported padding strategy %q", req.Padding))
		return
	}

	opts := processor.DefaultOptions()
	if s.config.NumImageTokens > 0 {
		opts.NumImageTokens = s.config.NumImageTokens
	}
	opts.Padding = processor.Padding(req.Padding)
	opts.Truncation = req.Truncation
	opts.MaxLength = req.MaxLength
	opts.PadToMultipleOf = req.PadToMultipleOf
	if req.NumImageTokens > 0 {
		opts.NumImageTokens = req.NumImageTokens
	}
	if req.AddSpecialTokens != nil {
		opts.AddSpecialTokens = *req.AddSpecialTokens
	}
	if req.AddEOSToken != nil {
		opts.AddEOSToken = *req.AddEOSToken
	}

	enc, err := s.processor.Process(r.Context(), processor.Request{
		Texts:     req.Texts,
		Images:    images,
		BoxGroups: boxGroups,
		Options:   opts,
	})
	if err != nil {
		if isClientError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, requestID, "encode failed", err)
		return
	}

	s.logRequest(requestID, "encode", firstText(req.Texts), 0)
	writeJSON(w, http.StatusOK, encodeResponse{RequestID: requestID, Encoding: enc})
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	requestID := uuid.New().String()

	var req decodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	text := req.Text
	if text == "" && len(req.TokenIDs) > 0 {
		text = s.processor.Decode(req.TokenIDs, false)
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, "either text or token_ids is required")
		return
	}

	caption, entities := s.processor.PostProcessGeneration(text)
	if s.config.Logging.LogEntities {
		log.Printf("[Server] Extracted %d entities (request %s)", len(entities), requestID)
	}

	s.logRequest(requestID, "decode", caption, len(entities))
	writeJSON(w, http.StatusOK, decodeResponse{
		RequestID: requestID,
		Caption:   caption,
		Entities:  entities,
	})
}

func (s *Server) handleGround(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "grounded generation is not configured")
		return
	}
	requestID := uuid.New().String()

	var req groundRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	imageData, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid image encoding: %v", err))
		return
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = ollama.DefaultPrompt
	}

	raw, err := s.generator.Ground(r.Context(), prompt, imageData)
	if err != nil {
		s.internalError(w, requestID, "generation failed", err)
		return
	}

	caption, entities := s.processor.PostProcessGeneration(raw)
	if s.config.Logging.LogEntities {
		log.Printf("[Server] Extracted %d entities (request %s)", len(entities), requestID)
	}

	s.logRequest(requestID, "ground", caption, len(entities))
	writeJSON(w, http.StatusOK, groundResponse{
		RequestID: requestID,
		Raw:       raw,
		Caption:   caption,
		Entities:  entities,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := queryInt(r, "limit", 100)
		offset := queryInt(r, "offset", 0)

		logs, err := s.logs.GetLogs(r.Context(), limit, offset)
		if err != nil {
			s.internalError(w, "", "failed to read logs", err)
			return
		}
		total, err := s.logs.GetLogsCount(r.Context())
		if err != nil {
			s.internalError(w, "", "failed to count logs", err)
			return
		}
		writeJSON(w, http.StatusOK, logsResponse{Logs: logs, Total: total})
	case http.MethodDelete:
		if err := s.logs.ClearLogs(r.Context()); err != nil {
			s.internalError(w, "", "failed to clear logs", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// logRequest records the request asynchronously so logging never slows down
// or fails a response.
func (s *Server) logRequest(requestID, operation, text string, entityCount int) {
	if s.config.Logging.LogVerbose {
		log.Printf("[Server] %s request %s: %q", operation, requestID, text)
	}
	if !s.config.Logging.LogRequests {
		return
	}
	entry := store.LogEntry{
		RequestID:   requestID,
		Operation:   operation,
		Text:        text,
		EntityCount: entityCount,
	}
	go func() {
		if err := s.logs.InsertLog(context.Background(), entry); err != nil {
			log.Printf("[Server] Failed to store request log: %v", err)
		}
	}()
}

func (s *Server) internalError(w http.ResponseWriter, requestID, message string, err error) {
	log.Printf("[Server] %s (request %s): %v", message, requestID, err)
	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, message)
}

// parseBoxGroups converts the wire representation into typed bounding boxes.
func parseBoxGroups(raw [][][][]float64) ([][]grounding.BoxGroup, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([][]grounding.BoxGroup, len(raw))
	for i, groups := range raw {
		if groups == nil {
			continue
		}
		out[i] = make([]grounding.BoxGroup, len(groups))
		for j, group := range groups {
			if group == nil {
				continue
			}
			boxes := make(grounding.BoxGroup, 0, len(group))
			for _, box := range group {
				switch len(box) {
				case 2:
					boxes = append(boxes, grounding.PatchIndexBox{
						UpperLeft:  int(box[0]),
						LowerRight: int(box[1]),
					})
				case 4:
					boxes = append(boxes, grounding.CoordinateBox{
						X1: box[0], Y1: box[1], X2: box[2], Y2: box[3],
					})
				default:
					return nil, fmt.Errorf("box must have 2 or 4 values, got %d", len(box))
				}
			}
			out[i][j] = boxes
		}
	}
	return out, nil
}

func decodeImages(encoded []string) ([]image.Image, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	images := make([]image.Image, len(encoded))
	for i, b64 := range encoded {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("invalid encoding for image %d: %v", i, err)
		}
		img, err := vision.DecodeImage(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %d: %v", i, err)
		}
		images[i] = img
	}
	return images, nil
}

func isClientError(err error) bool {
	return errors.Is(err, processor.ErrNoInput) ||
		errors.Is(err, processor.ErrBatchLengthMismatch) ||
		errors.Is(err, processor.ErrBadReturnTensors) ||
		errors.Is(err, grounding.ErrPhraseCountMismatch) ||
		errors.Is(err, grounding.ErrInvalidBox)
}

func firstText(texts []string) string {
	if len(texts) == 0 {
		return ""
	}
	return texts[0]
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func readJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[Server] Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
