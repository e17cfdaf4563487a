package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/hannes/groundtag/config"
	"github.com/hannes/groundtag/grounding"
	"github.com/hannes/groundtag/processor"
	"github.com/hannes/groundtag/store"
)

// wordTokenizer is a fixed-vocabulary tokenizer for handler tests. Tags and
// words map to stable ids; unknown words map to the unk id.
type wordTokenizer struct{}

var wordVocab = map[string]int64{
	"<s>":       0,
	"</s>":      2,
	"<image>":   9,
	"</image>":  10,
	"<phrase>":  11,
	"</phrase>": 12,
	"<object>":  13,
	"</object>": 14,
	"a":         21,
	"dog":       22,
	"cat":       23,
}

var wordPattern = regexp.MustCompile(`<[^<>]+>|[^\s<>]+`)

func (wordTokenizer) Tokenize(texts []string, opts processor.TokenizeOptions) (*processor.TokenizedText, error) {
	out := &processor.TokenizedText{}
	for _, text := range texts {
		var ids []int64
		if opts.AddSpecialTokens {
			ids = append(ids, 0)
		}
		for _, token := range wordPattern.FindAllString(text, -1) {
			id, ok := wordVocab[token]
			if !ok {
				id = 3
			}
			ids = append(ids, id)
		}
		if opts.AddSpecialTokens {
			ids = append(ids, 2)
		}
		mask := make([]int64, len(ids))
		for i := range mask {
			mask[i] = 1
		}
		out.InputIDs = append(out.InputIDs, ids)
		out.AttentionMask = append(out.AttentionMask, mask)
	}
	return out, nil
}

func (wordTokenizer) Decode(ids []int64, skipSpecialTokens bool) string { return "" }
func (wordTokenizer) BOSToken() string                                  { return "<s>" }
func (wordTokenizer) BOSTokenID() int64                                 { return 0 }
func (wordTokenizer) UnknownTokenID() int64                             { return 3 }
func (wordTokenizer) PadTokenID() int64                                 { return 1 }
func (wordTokenizer) ImageTokenID() int64                               { return 9 }
func (wordTokenizer) PaddingSide() processor.PaddingSide                { return processor.PaddingSideRight }
func (wordTokenizer) TagTokens() []string                               { return grounding.TagVocabulary(1024) }
func (wordTokenizer) NumPatchIndexTokens() int                          { return 1024 }

type stubImages struct{}

func (stubImages) ProcessImages(ctx context.Context, images []image.Image) (map[string]any, error) {
	return map[string]any{"pixel_values": len(images)}, nil
}

func pngBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode image: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RateLimitRPS = 0
	proc := processor.New(wordTokenizer{}, nil)
	srv, err := NewServer(cfg, proc, nil, store.NewMemoryLogDB(100))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return srv
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", body["status"])
	}
}

func TestEncodeText(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/v1/encode", encodeRequest{Texts: []string{"a dog"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp encodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("Expected a request id, got empty string")
	}
	if len(resp.Encoding.InputIDs) != 1 {
		t.Fatalf("Expected 1 sequence, got %d", len(resp.Encoding.InputIDs))
	}
	expected := []int64{0, 21, 22, 2}
	got := resp.Encoding.InputIDs[0]
	if len(got) != len(expected) {
		t.Fatalf("Expected %d ids, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected id %d at position %d, got %d", expected[i], i, got[i])
		}
	}
}

func TestEncodeUsesConfiguredImageTokenCount(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimitRPS = 0
	cfg.NumImageTokens = 2
	proc := processor.New(wordTokenizer{}, stubImages{})
	srv, err := NewServer(cfg, proc, nil, store.NewMemoryLogDB(100))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	rec := postJSON(t, srv.Handler(), "/v1/encode", encodeRequest{
		Texts:  []string{"a dog"},
		Images: []string{pngBase64(t)},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp encodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	// The placeholder expands into the configured two latent ids (4, 5).
	expected := []int64{0, 9, 4, 5, 10, 21, 22, 2}
	got := resp.Encoding.InputIDs[0]
	if len(got) != len(expected) {
		t.Fatalf("Expected %d ids, got %d: %v", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected id %d at position %d, got %d", expected[i], i, got[i])
		}
	}
	mask := resp.Encoding.ImageFeaturesMask[0]
	for i, want := range []bool{false, false, true, true, false, false, false, false} {
		if mask[i] != want {
			t.Errorf("Expected mask %v at position %d, got %v", want, i, mask[i])
		}
	}
}

func TestEncodeBadPadding(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/v1/encode", encodeRequest{
		Texts:   []string{"a dog"},
		Padding: "weird",
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestEncodePhraseCountMismatch(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/v1/encode", encodeRequest{
		Texts: []string{"<phrase>a dog</phrase>"},
		Boxes: [][][][]float64{{{{12, 34}}, {{56, 78}}}},
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestEncodeBadBox(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/v1/encode", encodeRequest{
		Texts: []string{"<phrase>a dog</phrase>"},
		Boxes: [][][][]float64{{{{1, 2, 3}}}},
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestEncodeNoInput(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/v1/encode", encodeRequest{})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestDecode(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/v1/decode", decodeRequest{
		Text: "<image> garbage </image><phrase>a dog</phrase><object><patch_index_0012><patch_index_0045></object>",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp decodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Caption != "a dog" {
		t.Errorf("Expected caption 'a dog', got '%s'", resp.Caption)
	}
	if len(resp.Entities) != 1 {
		t.Fatalf("Expected 1 entity, got %d", len(resp.Entities))
	}
	entity := resp.Entities[0]
	if entity.Name != "a dog" {
		t.Errorf("Expected entity name 'a dog', got '%s'", entity.Name)
	}
	if entity.Start != 0 || entity.End != 5 {
		t.Errorf("Expected entity span (0, 5), got (%d, %d)", entity.Start, entity.End)
	}
	if len(entity.Boxes) != 1 {
		t.Errorf("Expected 1 box, got %d", len(entity.Boxes))
	}
}

func TestDecodeRequiresInput(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/v1/decode", decodeRequest{})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestGroundWithoutGenerator(t *testing.T) {
	srv := newTestServer(t)
	rec := postJSON(t, srv.Handler(), "/v1/ground", groundRequest{Image: "aGVsbG8="})

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestLogsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	for _, op := range []string{"encode", "decode"} {
		err := srv.logs.InsertLog(t.Context(), store.LogEntry{RequestID: op, Operation: op})
		if err != nil {
			t.Fatalf("Failed to insert log: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/logs?limit=10", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var resp logsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("Expected total 2, got %d", resp.Total)
	}
	if len(resp.Logs) != 2 {
		t.Errorf("Expected 2 logs, got %d", len(resp.Logs))
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/logs", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 on clear, got %d", rec.Code)
	}

	count, err := srv.logs.GetLogsCount(t.Context())
	if err != nil {
		t.Fatalf("Failed to count logs: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 logs after clear, got %d", count)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	proc := processor.New(wordTokenizer{}, nil)
	srv, err := NewServer(cfg, proc, nil, store.NewMemoryLogDB(100))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	first := postJSON(t, srv.Handler(), "/v1/encode", encodeRequest{Texts: []string{"a dog"}})
	if first.Code != http.StatusOK {
		t.Errorf("Expected first request to pass, got %d", first.Code)
	}
	second := postJSON(t, srv.Handler(), "/v1/encode", encodeRequest{Texts: []string{"a dog"}})
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", second.Code)
	}
}

func TestParseBoxGroups(t *testing.T) {
	groups, err := parseBoxGroups([][][][]float64{
		{{{12, 34}}, nil, {{0.25, 0.25, 0.75, 0.75}}},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(groups) != 1 || len(groups[0]) != 3 {
		t.Fatalf("Expected 1 text with 3 phrase slots, got %v", groups)
	}

	patch, ok := groups[0][0][0].(grounding.PatchIndexBox)
	if !ok {
		t.Fatalf("Expected a patch index box, got %T", groups[0][0][0])
	}
	if patch.UpperLeft != 12 || patch.LowerRight != 34 {
		t.Errorf("Expected patch pair (12, 34), got (%d, %d)", patch.UpperLeft, patch.LowerRight)
	}

	if groups[0][1] != nil {
		t.Errorf("Expected nil phrase slot, got %v", groups[0][1])
	}

	coord, ok := groups[0][2][0].(grounding.CoordinateBox)
	if !ok {
		t.Fatalf("Expected a coordinate box, got %T", groups[0][2][0])
	}
	if coord.X1 != 0.25 || coord.Y2 != 0.75 {
		t.Errorf("Expected coordinates (0.25, 0.75), got (%f, %f)", coord.X1, coord.Y2)
	}

	if _, err := parseBoxGroups([][][][]float64{{{{1, 2, 3}}}}); err == nil {
		t.Error("Expected error for 3-value box, got nil")
	}
}
