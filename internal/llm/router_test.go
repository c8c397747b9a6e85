package llm

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nousworks/nous/internal/audit"
)

// fakeProvider returns canned responses or errors in sequence.
type fakeProvider struct {
	name      ProviderID
	available bool
	responses []*Response
	errs      []error
	calls     int
	models    []string
}

func (f *fakeProvider) Name() ProviderID { return f.name }
func (f *fakeProvider) Available() bool  { return f.available }

func (f *fakeProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	i := f.calls
	f.calls++
	f.models = append(f.models, req.Model)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		resp := *f.responses[i]
		if resp.Model == "" {
			resp.Model = req.Model
		}
		resp.Provider = f.name
		return &resp, nil
	}
	return &Response{Content: "ok", Provider: f.name, Model: req.Model, FinishReason: FinishStop}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan Chunk, 1)
	ch <- Chunk{Text: resp.Content}
	close(ch)
	return ch, nil
}

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestCompletePreferredProvider(t *testing.T) {
	openai := &fakeProvider{name: ProviderOpenAI, available: true}
	anthropic := &fakeProvider{name: ProviderAnthropic, available: true}
	r := NewRouter([]Provider{openai, anthropic}, nil)

	resp, err := r.Complete(context.Background(), &Request{Provider: ProviderAnthropic})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != ProviderAnthropic {
		t.Errorf("served by %s", resp.Provider)
	}
	if openai.calls != 0 {
		t.Errorf("non-preferred provider called %d times", openai.calls)
	}
	if resp.Model != "claude-sonnet-4" {
		t.Errorf("model %q", resp.Model)
	}
}

func TestCompleteFallbackOnFailure(t *testing.T) {
	dir := t.TempDir()
	auditLog := audit.NewLogger(filepath.Join(dir, "audit.jsonl"), nil)

	primary := &fakeProvider{
		name: ProviderOpenAI, available: true,
		errs: []error{&TransientError{Provider: ProviderOpenAI, Err: errors.New("503 server error")}},
	}
	secondary := &fakeProvider{name: ProviderAnthropic, available: true}
	r := NewRouter([]Provider{primary, secondary}, nil, WithAudit(auditLog))

	resp, err := r.Complete(context.Background(), &Request{Provider: ProviderOpenAI})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != ProviderAnthropic {
		t.Errorf("served by %s, want fallback", resp.Provider)
	}
	if r.CooldownRemaining(ProviderOpenAI) <= 0 {
		t.Error("failed provider not in cooldown")
	}
	if r.CooldownRemaining(ProviderAnthropic) != 0 {
		t.Error("successful provider should not be in cooldown")
	}

	entries, err := auditLog.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	actions := make(map[string]bool)
	for _, e := range entries {
		if a, ok := e["action"].(string); ok {
			actions[a] = true
		}
	}
	if !actions["llm_provider_failed"] || !actions["llm_fallback_used"] {
		t.Errorf("audit actions missing: %v", actions)
	}
}

func TestCompleteCooledProviderTriedLast(t *testing.T) {
	now, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	primary := &fakeProvider{
		name: ProviderOpenAI, available: true,
		errs: []error{errors.New("429 too many requests")},
	}
	secondary := &fakeProvider{name: ProviderAnthropic, available: true}
	r := NewRouter([]Provider{primary, secondary}, nil, WithClock(now))

	if _, err := r.Complete(context.Background(), &Request{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Within cooldown, the preferred-but-cooled provider moves behind the
	// healthy one.
	if _, err := r.Complete(context.Background(), &Request{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("cooled provider called %d times, want 1", primary.calls)
	}
	if secondary.calls != 2 {
		t.Errorf("healthy provider called %d times, want 2", secondary.calls)
	}

	// After the cooldown expires the order is restored.
	advance(ProviderCooldown + time.Second)
	if _, err := r.Complete(context.Background(), &Request{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if primary.calls != 2 {
		t.Errorf("recovered provider called %d times, want 2", primary.calls)
	}
	if r.CooldownRemaining(ProviderOpenAI) != 0 {
		t.Error("cooldown not cleared on success")
	}
}

func TestCompleteSkipsUnavailable(t *testing.T) {
	down := &fakeProvider{name: ProviderOpenAI, available: false}
	up := &fakeProvider{name: ProviderGoogle, available: true}
	r := NewRouter([]Provider{down, up}, nil)

	resp, err := r.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != ProviderGoogle {
		t.Errorf("served by %s", resp.Provider)
	}
	if down.calls != 0 {
		t.Error("unavailable provider was called")
	}
}

func TestCompleteAllExhausted(t *testing.T) {
	boom := errors.New("500 internal server")
	a := &fakeProvider{name: ProviderOpenAI, available: true, errs: []error{boom}}
	b := &fakeProvider{name: ProviderAnthropic, available: true, errs: []error{boom}}
	r := NewRouter([]Provider{a, b}, nil)

	_, err := r.Complete(context.Background(), &Request{})
	var exhausted *AllProvidersExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error %v, want AllProvidersExhaustedError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("exhaustion error should carry the last underlying error")
	}
}

func TestCompleteNoProviders(t *testing.T) {
	r := NewRouter(nil, nil)
	_, err := r.Complete(context.Background(), &Request{})
	var exhausted *AllProvidersExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error %v, want AllProvidersExhaustedError", err)
	}
}

func TestFallbackUsesSameComplexityModel(t *testing.T) {
	primary := &fakeProvider{
		name: ProviderOpenAI, available: true,
		errs: []error{errors.New("503")},
	}
	secondary := &fakeProvider{name: ProviderAnthropic, available: true}
	r := NewRouter([]Provider{primary, secondary}, nil)

	_, err := r.Complete(context.Background(), &Request{
		Provider:   ProviderOpenAI,
		Model:      "gpt-4o-mini",
		Complexity: ComplexitySimple,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if primary.models[0] != "gpt-4o-mini" {
		t.Errorf("preferred model %q", primary.models[0])
	}
	if secondary.models[0] != "claude-3-5-haiku" {
		t.Errorf("fallback model %q, want simple tier", secondary.models[0])
	}
}

func TestSelectModel(t *testing.T) {
	r := NewRouter(nil, nil)
	tests := []struct {
		provider   ProviderID
		complexity Complexity
		want       string
	}{
		{ProviderOpenAI, ComplexitySimple, "gpt-4o-mini"},
		{ProviderOpenAI, ComplexityComplex, "gpt-4o"},
		{ProviderAnthropic, ComplexityStandard, "claude-sonnet-4"},
		{ProviderGoogle, ComplexitySimple, "gemini-2.0-flash"},
		{ProviderOpenRouter, ComplexityStandard, "anthropic/claude-sonnet-4"},
		{ProviderOpenAI, "", "gpt-4o"},
	}
	for _, tt := range tests {
		if got := r.SelectModel(tt.provider, tt.complexity); got != tt.want {
			t.Errorf("SelectModel(%s, %s) = %q, want %q", tt.provider, tt.complexity, got, tt.want)
		}
	}
}

func TestAvailableProviders(t *testing.T) {
	r := NewRouter([]Provider{
		&fakeProvider{name: ProviderOpenAI, available: true},
		&fakeProvider{name: ProviderAnthropic, available: false},
		&fakeProvider{name: ProviderGoogle, available: true},
	}, nil)
	got := r.AvailableProviders()
	if len(got) != 2 || got[0] != ProviderOpenAI || got[1] != ProviderGoogle {
		t.Errorf("AvailableProviders = %v", got)
	}
}

func TestQuick(t *testing.T) {
	p := &fakeProvider{
		name: ProviderOpenAI, available: true,
		responses: []*Response{{Content: "four", FinishReason: FinishStop}},
	}
	r := NewRouter([]Provider{p}, nil)
	out, err := r.Quick(context.Background(), "2+2?", "be brief", "")
	if err != nil {
		t.Fatalf("Quick: %v", err)
	}
	if out != "four" {
		t.Errorf("Quick = %q", out)
	}
	if p.models[0] != "gpt-4o-mini" {
		t.Errorf("Quick should default to the simple tier, got %q", p.models[0])
	}
}

func TestEstimateCost(t *testing.T) {
	got := EstimateCost("gpt-4o", 1000, 1000)
	if got != 0.0025+0.01 {
		t.Errorf("known model cost = %f", got)
	}
	got = EstimateCost("mystery-model", 1000, 1000)
	if got != 0.001+0.002 {
		t.Errorf("default rate cost = %f", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       string
		transient bool
	}{
		{"429 too many requests", true},
		{"connection reset by peer", true},
		{"502 bad gateway", true},
		{"401 unauthorized", false},
		{"quota exceeded for billing", false},
	}
	for _, tt := range tests {
		err := Classify(ProviderOpenAI, errors.New(tt.err))
		if got := IsTransient(err); got != tt.transient {
			t.Errorf("%q: transient = %v, want %v", tt.err, got, tt.transient)
		}
		if !strings.Contains(err.Error(), tt.err) {
			t.Errorf("wrapped error lost cause: %v", err)
		}
	}
}

func TestIsTransientContextErrors(t *testing.T) {
	if IsTransient(context.Canceled) {
		t.Error("context.Canceled must not be transient")
	}
	if IsTransient(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded must not be transient")
	}
}
