package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/crisisconnect/internal/triage"
)

func sampleRequest() *triage.HelpRequest {
	return &triage.HelpRequest{
		ID:           "01JN123",
		Description:  "Water at the first floor ceiling, grandmother cannot climb",
		Location:     triage.Location{Lat: 9.9312, Lng: 76.2673},
		PhoneNumber:  "+91-9000000000",
		Source:       triage.SourceApp,
		Status:       triage.StatusPending,
		Urgency:      triage.UrgencyCritical,
		RequestTypes: []string{"Rescue", "Medical"},
		ReporterName: "Meera",
		NumPeople:    3,
		CreatedAt:    time.Date(2026, 10, 19, 14, 23, 0, 0, time.UTC),
	}
}

func blockText(t *testing.T, block any) string {
	t.Helper()
	b, ok := block.(map[string]any)
	if !ok {
		t.Fatalf("block is %T, want object", block)
	}
	txt, ok := b["text"].(map[string]any)
	if !ok {
		t.Fatalf("block %v has no text object", b)
	}
	return txt["text"].(string)
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	if err := n.Notify(context.Background(), sampleRequest()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, description, fields, divider, context
	if len(blocks) != 5 {
		t.Fatalf("blocks count = %d, want 5", len(blocks))
	}

	header := blockText(t, blocks[0])
	if !strings.Contains(header, "CRITICAL") || !strings.Contains(header, "3 people") {
		t.Errorf("header = %q, want urgency and head count", header)
	}
	if !strings.Contains(header, "\U0001f534") {
		t.Errorf("header should contain red circle for critical urgency")
	}

	if desc := blockText(t, blocks[1]); !strings.Contains(desc, "grandmother") {
		t.Errorf("description block = %q", desc)
	}

	fields := blocks[2].(map[string]any)["fields"].([]any)
	var all []string
	for _, f := range fields {
		all = append(all, f.(map[string]any)["text"].(string))
	}
	joined := strings.Join(all, "\n")
	for _, want := range []string{"Rescue, Medical", "+91-9000000000", "Meera", "query=9.9312%2C76.2673"} {
		if !strings.Contains(joined, want) {
			t.Errorf("fields missing %q:\n%s", want, joined)
		}
	}

	if fallback, _ := got["text"].(string); !strings.HasPrefix(fallback, "CRITICAL help request:") {
		t.Errorf("fallback text = %q", fallback)
	}
}

func TestNotify_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", nil)
	if err := n.Notify(context.Background(), &triage.HelpRequest{}); err != nil {
		t.Fatalf("Notify with empty URL should be no-op, got: %v", err)
	}
}

func TestNotify_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).Notify(context.Background(), sampleRequest())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want status code in message", err)
	}
}

func TestNotify_HonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(srv.URL, log.Nop()).Notify(ctx, sampleRequest()); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestBuildMessage_OptionalFields(t *testing.T) {
	t.Parallel()

	r := sampleRequest()
	r.PhoneNumber = ""
	r.ReporterName = ""
	r.RequestTypes = []string{}
	r.NumPeople = 1

	msg := buildMessage(r)
	blocks := msg["blocks"].([]map[string]any)

	header := blocks[0]["text"].(map[string]any)["text"].(string)
	if !strings.Contains(header, "1 person") {
		t.Errorf("header = %q, want singular head count", header)
	}

	fields := blocks[2]["fields"].([]map[string]any)
	for i, want := range []string{"_none given_", "", "_not provided_", "_anonymous_"} {
		if want == "" {
			continue
		}
		if got := fields[i]["text"].(string); !strings.Contains(got, want) {
			t.Errorf("field %d = %q, want placeholder %q", i, got, want)
		}
	}
}

func TestBuildMessage_EscapesReporterText(t *testing.T) {
	t.Parallel()

	r := sampleRequest()
	r.Description = "<!channel> water & mud <http://evil|click>"

	desc := buildMessage(r)["blocks"].([]map[string]any)[1]["text"].(map[string]any)["text"].(string)
	if strings.ContainsAny(desc, "<>") {
		t.Errorf("description not escaped: %q", desc)
	}
	if !strings.Contains(desc, "&amp;") {
		t.Errorf("ampersand not escaped: %q", desc)
	}
}

func TestUrgencyEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		urgency triage.Urgency
		want    string
	}{
		{triage.UrgencyCritical, "\U0001f534"},
		{triage.UrgencyUrgent, "\U0001f7e0"},
		{triage.UrgencyRequest, "\U0001f7e1"},
		{triage.UrgencyLow, "\U0001f7e2"},
		{"", "\U0001f7e2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.urgency), func(t *testing.T) {
			t.Parallel()
			if got := urgencyEmoji(tt.urgency); got != tt.want {
				t.Errorf("urgencyEmoji(%q) = %q, want %q", tt.urgency, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"long", "abcdefghij", 6, "abc..."},
		{"multibyte", "ബോട്ട് വേണം ഉടൻ", 8, "ബോട്ട..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tt.in, tt.limit)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate produced invalid UTF-8: %q", got)
			}
		})
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("Trapped on roof", "critical", "Rescue", "Meera", 3)
	f.Add("", "", "", "", 0)
	f.Add("<@U123> mention", "urgent", "*bold*", "_italic_", 1)
	f.Add("desc\x00\x01\x02", "low\nline", "food\ttab", "n\x00me", -5)
	f.Add(strings.Repeat("A", 5000), "request", strings.Repeat("x", 10000), "name", 1<<20)

	f.Fuzz(func(t *testing.T, desc, urgency, reqType, reporter string, people int) {
		r := &triage.HelpRequest{
			ID:           "fuzz-id",
			Description:  desc,
			Urgency:      triage.Urgency(urgency),
			RequestTypes: []string{reqType},
			ReporterName: reporter,
			NumPeople:    people,
			CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}

		// Must not panic
		msg := buildMessage(r)

		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		blocks, ok := decoded["blocks"].([]any)
		if !ok {
			t.Fatal("expected blocks array")
		}
		if len(blocks) != 5 {
			t.Fatalf("blocks count = %d, want 5", len(blocks))
		}
	})
}
