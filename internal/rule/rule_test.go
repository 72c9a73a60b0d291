package rule

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/inboxkit/mailflow/internal/condition"
)

// stubVocab accepts a fixed action type set and never rejects params.
type stubVocab struct{ types map[string]bool }

func (s stubVocab) Known(t string) bool { return s.types[t] }
func (s stubVocab) ValidateParams(string, map[string]interface{}) error {
	return nil
}

var vocab = stubVocab{types: map[string]bool{
	"star": true, "add_tag": true, "notify": true, "archive": true,
}}

func validRule() *Rule {
	return &Rule{
		ID:   "r1",
		Name: "star urgent",
		Condition: &condition.Condition{
			Field: "subject", Operator: condition.OpContains, Value: "urgent",
		},
		Actions: []Action{{Type: "star"}},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Rule)
		wantErr string // substring of the offending path; "" = valid
	}{
		{"valid rule", func(r *Rule) {}, ""},
		{"missing name", func(r *Rule) { r.Name = "" }, "name"},
		{"no actions", func(r *Rule) { r.Actions = nil }, "actions"},
		{"unknown field", func(r *Rule) { r.Condition.Field = "bogus" }, "condition.field"},
		{
			"operator not allowed for field",
			func(r *Rule) {
				r.Condition = &condition.Condition{
					Field: "read", Operator: condition.OpContains, Value: "x",
				}
			},
			"condition.operator",
		},
		{
			"custom field allows any operator",
			func(r *Rule) {
				r.Condition = &condition.Condition{
					Field: "custom_fields.tier", Operator: condition.OpGreaterThan, Value: 3,
				}
			},
			"",
		},
		{
			"bad combinator",
			func(r *Rule) {
				r.Condition = &condition.Condition{
					Combinator: "xor",
					Children:   []*condition.Condition{{Field: "subject", Operator: condition.OpContains, Value: "x"}},
				}
			},
			"combinator",
		},
		{
			"confidence out of range",
			func(r *Rule) { r.Condition.Confidence = 1.5 },
			"confidence",
		},
		{
			"nested child error path",
			func(r *Rule) {
				r.Condition = &condition.Condition{
					Combinator: condition.And,
					Children: []*condition.Condition{
						{Field: "subject", Operator: condition.OpContains, Value: "ok"},
						{Field: "nope", Operator: condition.OpEquals, Value: "x"},
					},
				}
			},
			"children[1].field",
		},
		{"unknown action type", func(r *Rule) { r.Actions = []Action{{Type: "teleport"}} }, "actions[0].type"},
		{"empty action type", func(r *Rule) { r.Actions = []Action{{}} }, "actions[0].type"},
		{"negative delay", func(r *Rule) { r.Actions[0].DelayMs = -1 }, "delay_ms"},
		{
			"retry attempts below one",
			func(r *Rule) { r.Actions[0].Retry = &RetryPolicy{MaxAttempts: 0} },
			"max_attempts",
		},
		{
			"conditional without body",
			func(r *Rule) { r.Actions = []Action{{Type: TypeConditional}} },
			"conditional",
		},
		{
			"conditional without then",
			func(r *Rule) {
				r.Actions = []Action{{
					Type: TypeConditional,
					Conditional: &Conditional{
						If: &condition.Condition{Field: "read", Operator: condition.OpEquals, Value: true},
					},
				}}
			},
			"conditional.then",
		},
		{
			"branching unknown mode",
			func(r *Rule) {
				r.Actions = []Action{{
					Type: TypeBranching,
					Branching: &Branching{
						Mode:     "roundrobin",
						Branches: []Branch{{Name: "a", Actions: []Action{{Type: "star"}}}},
					},
				}}
			},
			"branching.mode",
		},
		{
			"duplicate branch names",
			func(r *Rule) {
				r.Actions = []Action{{
					Type: TypeBranching,
					Branching: &Branching{
						Mode: ModeSwitch,
						Branches: []Branch{
							{Name: "a", Actions: []Action{{Type: "star"}}},
							{Name: "a", Actions: []Action{{Type: "archive"}}},
						},
					},
				}}
			},
			"duplicate branch name",
		},
		{
			"bad cron in schedule",
			func(r *Rule) { r.Schedule = &Schedule{Cron: "not a cron"} },
			"schedule",
		},
		{"negative rate cap", func(r *Rule) { r.MaxExecutionsPerHour = -1 }, "max_executions"},
		{"negative timeout", func(r *Rule) { r.TimeoutSeconds = -5 }, "timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule()
			tc.mutate(r)
			errs := Validate(r, vocab)
			if tc.wantErr == "" {
				if len(errs) != 0 {
					t.Fatalf("expected valid, got: %v", errs)
				}
				return
			}
			if len(errs) == 0 {
				t.Fatal("expected validation errors, got none")
			}
			found := false
			for _, e := range errs {
				if containsFold(e.Path+" "+e.Message, tc.wantErr) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("no error mentioning %q in %v", tc.wantErr, errs)
			}
		})
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func TestRule_JSONRoundTrip(t *testing.T) {
	original := &Rule{
		ID:       "round",
		Name:     "full feature rule",
		Active:   true,
		Priority: 7,
		Condition: &condition.Condition{
			Combinator: condition.Or,
			Children: []*condition.Condition{
				{Field: "sender", Operator: condition.OpEndsWith, Value: "@x.com"},
				{Field: "size", Operator: condition.OpGreaterThan, Value: float64(1024)},
			},
		},
		Actions: []Action{
			{Type: "add_tag", Params: map[string]interface{}{"tag": "vip"}},
			{
				Type:    "notify",
				DelayMs: 500,
				Retry:   &RetryPolicy{MaxAttempts: 3, DelayBetweenMs: 100},
				Params:  map[string]interface{}{"channel": "chat", "to": "#ops"},
			},
			{
				Type: TypeBranching,
				Branching: &Branching{
					Mode: ModeParallel,
					Branches: []Branch{
						{Name: "left", Actions: []Action{{Type: "star", Weight: 2}}},
						{Name: "right", Actions: []Action{{Type: "archive", Weight: 1}}},
					},
				},
			},
		},
		Schedule:             &Schedule{Enabled: true, Days: []string{"mon", "fri"}, StartTime: "09:00", EndTime: "17:00"},
		MaxExecutionsPerHour: 10,
		TimeoutSeconds:       30,
		FailFast:             true,
		CreatedAt:            time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:            time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Rule
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(original, &decoded) {
		t.Errorf("round trip mismatch:\n got: %+v\nwant: %+v", &decoded, original)
	}
}

func TestSchedule_Eligible(t *testing.T) {
	// Tuesday 2026-03-10 14:30 UTC.
	tuesday := time.Date(2026, time.March, 10, 14, 30, 0, 0, time.UTC)

	cases := []struct {
		name  string
		sched *Schedule
		now   time.Time
		want  bool
	}{
		{"nil schedule", nil, tuesday, true},
		{"disabled schedule", &Schedule{Enabled: false, Days: []string{"sun"}}, tuesday, true},
		{"day match", &Schedule{Enabled: true, Days: []string{"tue"}}, tuesday, true},
		{"day mismatch", &Schedule{Enabled: true, Days: []string{"sat", "sun"}}, tuesday, false},
		{"inside window", &Schedule{Enabled: true, StartTime: "09:00", EndTime: "17:00"}, tuesday, true},
		{"outside window", &Schedule{Enabled: true, StartTime: "15:00", EndTime: "17:00"}, tuesday, false},
		{"window boundary start", &Schedule{Enabled: true, StartTime: "14:30", EndTime: "17:00"}, tuesday, true},
		{
			"overnight window inside",
			&Schedule{Enabled: true, StartTime: "22:00", EndTime: "15:00"},
			tuesday, true,
		},
		{
			"overnight window outside",
			&Schedule{Enabled: true, StartTime: "22:00", EndTime: "06:00"},
			tuesday, false,
		},
		{"cron minute match", &Schedule{Enabled: true, Cron: "30 14 * * *"}, tuesday, true},
		{"cron minute mismatch", &Schedule{Enabled: true, Cron: "0 9 * * *"}, tuesday, false},
		{"cron every minute", &Schedule{Enabled: true, Cron: "* * * * *"}, tuesday, true},
		{
			"day and window both gate",
			&Schedule{Enabled: true, Days: []string{"tue"}, StartTime: "09:00", EndTime: "12:00"},
			tuesday, false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.sched.Eligible(tc.now); got != tc.want {
				t.Errorf("Eligible(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestSchedule_Validate(t *testing.T) {
	cases := []struct {
		name  string
		sched *Schedule
		bad   bool
	}{
		{"nil", nil, false},
		{"empty", &Schedule{}, false},
		{"good cron", &Schedule{Cron: "*/5 * * * *"}, false},
		{"descriptor cron", &Schedule{Cron: "@hourly"}, false},
		{"bad cron", &Schedule{Cron: "61 * * * *"}, true},
		{"bad day", &Schedule{Days: []string{"funday"}}, true},
		{"bad time of day", &Schedule{StartTime: "25:00", EndTime: "26:00"}, true},
		{"unpaired window", &Schedule{StartTime: "09:00"}, true},
		{"bad timezone", &Schedule{Timezone: "Mars/Olympus"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := tc.sched.Validate()
			if tc.bad && len(errs) == 0 {
				t.Error("expected validation errors, got none")
			}
			if !tc.bad && len(errs) != 0 {
				t.Errorf("expected valid, got %v", errs)
			}
		})
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	r := validRule()
	if err := s.Save(ctx, r); err != nil {
		t.Fatal(err)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Error("Save must stamp timestamps")
	}
	if err := s.Save(ctx, validRule()); err == nil {
		t.Error("duplicate save must fail")
	}

	got, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "star urgent" {
		t.Errorf("Get returned wrong rule: %+v", got)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.IncrementExecutions(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	updated := validRule()
	updated.Name = "renamed"
	if err := s.Update(ctx, updated); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "r1")
	if got.Name != "renamed" {
		t.Error("Update did not apply")
	}
	if got.ExecutionCount != 1 {
		t.Errorf("Update must preserve ExecutionCount, got %d", got.ExecutionCount)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Error("Update must preserve CreatedAt")
	}

	second := validRule()
	second.ID = "r2"
	if err := s.Save(ctx, second); err != nil {
		t.Fatal(err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "r1" || list[1].ID != "r2" {
		t.Errorf("List order wrong: %v", ids(list))
	}

	if err := s.Delete(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func ids(rules []*Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ID
	}
	return out
}
