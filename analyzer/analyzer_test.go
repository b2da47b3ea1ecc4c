package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestModerateSendsTextAndMessageID(t *testing.T) {
	var moderateReq, sentimentReq moderateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/moderate":
			json.NewDecoder(r.Body).Decode(&moderateReq)
			json.NewEncoder(w).Encode(moderateResponse{Flagged: false, Confidence: 0.9})
		case "/sentiment":
			json.NewDecoder(r.Body).Decode(&sentimentReq)
			json.NewEncoder(w).Encode(sentimentResponse{Sentiment: "neutral", Confidence: 0.8})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := c.Moderate(context.Background(), "msg-123", "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if moderateReq.Text != "hello world" || moderateReq.MessageID != "msg-123" {
		t.Fatalf("expected /moderate body {text, messageId}, got %+v", moderateReq)
	}
	if sentimentReq.Text != "hello world" || sentimentReq.MessageID != "msg-123" {
		t.Fatalf("expected /sentiment body {text, messageId}, got %+v", sentimentReq)
	}
}
