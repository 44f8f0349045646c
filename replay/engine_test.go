package replay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oselotti/capreplay/rule"
	"github.com/oselotti/capreplay/trail"
)

func testEngine() *Engine {
	return New(Config{
		PollInterval:   time.Millisecond,
		ResolveTimeout: 10 * time.Millisecond,
		SettleDelay:    time.Millisecond,
	})
}

func run(t *testing.T, doc *HTMLDocument, steps []rule.Step) Result {
	t.Helper()
	r := &rule.Rule{ID: "rule_test", Steps: steps}
	return testEngine().Run(context.Background(), doc, r)
}

func TestRun_CompletesFormFill(t *testing.T) {
	doc := sampleDoc(t)
	res := run(t, doc, []rule.Step{
		{Kind: rule.StepNavigate, URL: "https://example.com/app#section"}, // same destination, no-op
		{Kind: rule.StepInput, Target: "#q", Value: "capybara facts"},
		{Kind: rule.StepClick, Target: `button[name="Send"]`},
	})

	if !res.OK || res.Status != StatusCompleted {
		t.Fatalf("result = %+v", res)
	}
	if res.StepsRun != 3 {
		t.Fatalf("StepsRun = %d", res.StepsRun)
	}
	if got := doc.Value("#q"); got != "capybara facts" {
		t.Fatalf("input value = %q", got)
	}
	if clicks := doc.Clicks(); len(clicks) != 1 || clicks[0] != "button" {
		t.Fatalf("clicks = %v", clicks)
	}
}

func TestRun_NavigateIsTerminalSuccess(t *testing.T) {
	doc := sampleDoc(t)
	res := run(t, doc, []rule.Step{
		{Kind: rule.StepNavigate, URL: "https://example.com/other"},
		{Kind: rule.StepClick, Target: "#q"}, // must never run
	})

	if !res.OK || res.Status != StatusNavigated || res.Note != "navigated" {
		t.Fatalf("result = %+v", res)
	}
	if res.StepsRun != 1 {
		t.Fatalf("StepsRun = %d", res.StepsRun)
	}
	if doc.NavigatedTo() != "https://example.com/other" {
		t.Fatalf("NavigatedTo = %q", doc.NavigatedTo())
	}
	if len(doc.Clicks()) != 0 {
		t.Fatalf("steps ran past navigation: %v", doc.Clicks())
	}
}

func TestRun_FailureCarriesStepIndex(t *testing.T) {
	doc := sampleDoc(t)
	res := run(t, doc, []rule.Step{
		{Kind: rule.StepClick, Target: `button[name="Send"]`},
		{Kind: rule.StepClick, Target: "#missing"},
		{Kind: rule.StepClick, Target: "#q"}, // aborted
	})

	if res.OK || res.Status != StatusFailed {
		t.Fatalf("result = %+v", res)
	}
	if res.FailedStep != 1 {
		t.Fatalf("FailedStep = %d", res.FailedStep)
	}
	if !errors.Is(res.Err, ErrTargetNotFound) {
		t.Fatalf("Err = %v", res.Err)
	}
	if res.StepsRun != 1 {
		t.Fatalf("StepsRun = %d, remaining steps must not run", res.StepsRun)
	}
}

func TestRun_SubmitUsesFocusedForm(t *testing.T) {
	doc := sampleDoc(t)
	res := run(t, doc, []rule.Step{
		{Kind: rule.StepInput, Target: "input[name=email]", Value: "a@b.example"},
		{Kind: rule.StepSubmit},
	})

	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if subs := doc.Submits(); len(subs) != 1 || subs[0] != "form[name=main]" {
		t.Fatalf("submits = %v", subs)
	}
}

func TestRun_SubmitFallsBackToFirstForm(t *testing.T) {
	doc := sampleDoc(t)
	res := run(t, doc, []rule.Step{{Kind: rule.StepSubmit}})

	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if subs := doc.Submits(); len(subs) != 1 {
		t.Fatalf("submits = %v", subs)
	}
}

func TestRun_SubmitWithoutFormFails(t *testing.T) {
	doc, err := ParseHTML("https://example.com", strings.NewReader(`<html><body><p>bare</p></body></html>`))
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	res := run(t, doc, []rule.Step{{Kind: rule.StepSubmit}})

	if res.OK || !errors.Is(res.Err, ErrNoFormFound) {
		t.Fatalf("result = %+v", res)
	}
}

func TestRun_OpenTabCapSkipsNotFails(t *testing.T) {
	doc := sampleDoc(t)
	eng := New(Config{
		PollInterval:   time.Millisecond,
		ResolveTimeout: 10 * time.Millisecond,
		SettleDelay:    time.Millisecond,
		MaxOpenTabs:    2,
	})

	var steps []rule.Step
	for i := 0; i < 5; i++ {
		steps = append(steps, rule.Step{Kind: rule.StepOpenTab, URL: "https://example.com/tab"})
	}
	res := eng.Run(context.Background(), doc, &rule.Rule{ID: "rule_tabs", Steps: steps})

	if !res.OK {
		t.Fatalf("result = %+v, capped openTab must not be fatal", res)
	}
	if res.OpenedTabs != 2 {
		t.Fatalf("OpenedTabs = %d, want 2", res.OpenedTabs)
	}
	if got := doc.OpenedTabs(); len(got) != 2 {
		t.Fatalf("opened = %v", got)
	}
}

func TestRun_WaitDelays(t *testing.T) {
	doc := sampleDoc(t)
	start := time.Now()
	res := run(t, doc, []rule.Step{{Kind: rule.StepWait, WaitMS: 30}})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("elapsed = %v, want >= 30ms", elapsed)
	}
}

func TestRun_Cancellation(t *testing.T) {
	doc := sampleDoc(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &rule.Rule{ID: "rule_c", Steps: []rule.Step{{Kind: rule.StepClick, Target: "#q"}}}
	res := testEngine().Run(ctx, doc, r)
	if res.OK || res.Status != StatusFailed {
		t.Fatalf("result = %+v", res)
	}
}

func TestRun_DeriveRoundTrip(t *testing.T) {
	// WHAT: deriving a rule from a trail and replaying it on an
	// equivalent page reproduces the final field values and the click.
	events := []trail.Event{
		{Kind: trail.KindNavigate, URL: "https://example.com/app"},
		{Kind: trail.KindInput, Target: trail.Target{Role: "textbox", Selector: "#q"}, Value: "cap"},
		{Kind: trail.KindInput, Target: trail.Target{Role: "textbox", Selector: "#q"}, Value: "capybara"},
		{Kind: trail.KindClick, Target: trail.Target{Role: "button", Name: "Send", Selector: "div > button"}},
	}
	steps := rule.Derive(events)

	doc := sampleDoc(t)
	res := testEngine().Run(context.Background(), doc, &rule.Rule{ID: "rule_rt", Steps: steps})
	if !res.OK || res.Status != StatusCompleted {
		t.Fatalf("result = %+v", res)
	}
	if got := doc.Value("#q"); got != "capybara" {
		t.Fatalf("final value = %q", got)
	}
	if clicks := doc.Clicks(); len(clicks) != 1 {
		t.Fatalf("clicks = %v", clicks)
	}
}

func TestRun_FailedStepZeroSerializes(t *testing.T) {
	// WHAT: A failure at the very first step reports FailedStep 0 and
	// the JSON carries failed_step explicitly; successful runs report -1.
	// WHY: HTTP callers distinguish "failed at step 0" from "no failure"
	// only through this field.
	doc := sampleDoc(t)
	res := run(t, doc, []rule.Step{
		{Kind: rule.StepClick, Target: "#missing"},
	})
	if res.FailedStep != 0 {
		t.Fatalf("FailedStep = %d, want 0", res.FailedStep)
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"failed_step":0`) {
		t.Fatalf("failed_step missing from %s", data)
	}

	res = run(t, doc, []rule.Step{
		{Kind: rule.StepClick, Target: `button[name="Send"]`},
	})
	if res.FailedStep != -1 {
		t.Fatalf("FailedStep after success = %d, want -1", res.FailedStep)
	}
}
