package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quenchlab/aqualog/internal/config"
)

func testConfig(url string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = "test-key"
	cfg.Provider.BaseURL = url
	cfg.Provider.Model = "gpt-test"
	return cfg
}

func completionResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{"content": content},
		}},
	}
}

func TestClassify_RequestAndResponseParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("auth header mismatch")
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["temperature"].(float64) != 0.1 {
			t.Fatalf("expected temperature 0.1")
		}
		msgs := body["messages"].([]any)
		if len(msgs) != 2 {
			t.Fatalf("expected system + user message, got %d", len(msgs))
		}

		_ = json.NewEncoder(w).Encode(completionResponse(
			`{"intent":"log","amount_ml":500,"relative_time":"2 hours ago","ambiguous":false}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	out := c.Classify(context.Background(), "500ml 2 hours ago")

	if out.Intent != IntentLog {
		t.Fatalf("intent = %s", out.Intent)
	}
	if out.AmountMl == nil || *out.AmountMl != 500 {
		t.Fatalf("amount = %v", out.AmountMl)
	}
	if out.RelativeTime == nil || *out.RelativeTime != "2 hours ago" {
		t.Fatalf("relative_time = %v", out.RelativeTime)
	}
}

func TestClassify_OfflineWithoutCredential(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = ""

	c := NewClient(cfg)
	out := c.Classify(context.Background(), "I didn't drink 500ml")

	if out.Intent != IntentClarify || !out.Ambiguous {
		t.Fatalf("offline outcome = %+v, want ambiguous clarify", out)
	}
}

func TestClassify_TransportFailuresDegrade(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		out := NewClient(testConfig(srv.URL)).Classify(context.Background(), "500ml earlier")
		if out.Intent != IntentClarify || !out.Ambiguous {
			t.Fatalf("outcome = %+v", out)
		}
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		out := NewClient(testConfig(srv.URL)).Classify(context.Background(), "500ml earlier")
		if out.Intent != IntentClarify || !out.Ambiguous {
			t.Fatalf("outcome = %+v", out)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(completionResponse(""))
		}))
		defer srv.Close()

		out := NewClient(testConfig(srv.URL)).Classify(context.Background(), "hm")
		if out.Intent != IntentClarify || !out.Ambiguous {
			t.Fatalf("outcome = %+v", out)
		}
	})

	t.Run("unparseable content", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(completionResponse("sorry, I cannot help with that"))
		}))
		defer srv.Close()

		out := NewClient(testConfig(srv.URL)).Classify(context.Background(), "hm")
		if out.Intent != IntentClarify || !out.Ambiguous {
			t.Fatalf("outcome = %+v", out)
		}
	})
}

func TestClassify_FencedAndEmbeddedJSON(t *testing.T) {
	t.Run("fenced block", func(t *testing.T) {
		content := "Here you go:\n```json\n{\"intent\":\"undo\",\"undo_count\":3}\n```"
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(completionResponse(content))
		}))
		defer srv.Close()

		out := NewClient(testConfig(srv.URL)).Classify(context.Background(), "undo last 3")
		if out.Intent != IntentUndo || out.UndoCount == nil || *out.UndoCount != 3 {
			t.Fatalf("outcome = %+v", out)
		}
	})

	t.Run("embedded object", func(t *testing.T) {
		content := `The classification is {"intent":"query","ambiguous":false} as requested.`
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(completionResponse(content))
		}))
		defer srv.Close()

		out := NewClient(testConfig(srv.URL)).Classify(context.Background(), "how much today?")
		if out.Intent != IntentQuery {
			t.Fatalf("outcome = %+v", out)
		}
	})
}

func TestClassify_TruncatesLongMessages(t *testing.T) {
	var gotLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotLen = len(body.Messages[1].Content)
		_ = json.NewEncoder(w).Encode(completionResponse(`{"intent":"chitchat"}`))
	}))
	defer srv.Close()

	long := strings.Repeat("a", 2000)
	NewClient(testConfig(srv.URL)).Classify(context.Background(), long)
	if gotLen != maxMessageChars {
		t.Fatalf("sent %d chars, want %d", gotLen, maxMessageChars)
	}
}

func TestNormalize_UnknownIntent(t *testing.T) {
	out := normalize(Outcome{Intent: "banana", Ambiguous: true})
	if out.Intent != IntentClarify {
		t.Fatalf("ambiguous unknown intent = %s, want clarify", out.Intent)
	}
	out = normalize(Outcome{Intent: "banana"})
	if out.Intent != IntentLog {
		t.Fatalf("unknown intent = %s, want log", out.Intent)
	}
	out = normalize(Outcome{Intent: " LOG "})
	if out.Intent != IntentLog {
		t.Fatalf("intent = %s, want log", out.Intent)
	}
}

func TestFirstJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{`x {"a":{"b":2}} y {"c":3}`, `{"a":{"b":2}}`, true},
		{`{"s":"br}ace"}`, `{"s":"br}ace"}`, true},
		{`no object here`, ``, false},
		{`{"unterminated":`, ``, false},
	}
	for _, tc := range cases {
		got, ok := firstJSONObject(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("firstJSONObject(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
