package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseRecurrence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Recurrence
		wantErr bool
	}{
		{in: "Saturday", want: Saturday},
		{in: "saturday", want: Saturday},
		{in: " SAT ", want: Saturday},
		{in: "sun", want: Sunday},
		{in: "Everyday", want: Everyday},
		{in: "daily", want: Everyday},
		{in: "*", want: Everyday},
		{in: "", wantErr: true},
		{in: "Sa", wantErr: true},
		{in: "Funday", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseRecurrence(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseRecurrence(%q) expected error, got %v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRecurrence(%q) unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseRecurrence(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestRecurrenceWeekdayMapping(t *testing.T) {
	t.Parallel()

	for _, r := range Weekdays {
		wd, ok := r.Weekday()
		if !ok {
			t.Fatalf("%v.Weekday() not ok", r)
		}
		if wd.String() != r.String() {
			t.Fatalf("%v maps to %v", r, wd)
		}
		if FromWeekday(wd) != r {
			t.Fatalf("FromWeekday(%v)=%v want %v", wd, FromWeekday(wd), r)
		}
	}
	if FromWeekday(time.Sunday) != Sunday {
		t.Fatalf("FromWeekday(Sunday)=%v", FromWeekday(time.Sunday))
	}
	if _, ok := Everyday.Weekday(); ok {
		t.Fatalf("Everyday must not map to a weekday")
	}
	if got := Everyday.CronDOW(); got != "*" {
		t.Fatalf("Everyday.CronDOW()=%q", got)
	}
	if got := Sunday.CronDOW(); got != "0" {
		t.Fatalf("Sunday.CronDOW()=%q", got)
	}
}

func TestRecurrencePrev(t *testing.T) {
	t.Parallel()

	cases := map[Recurrence]Recurrence{
		Monday:   Sunday,
		Saturday: Friday,
		Sunday:   Saturday,
		Everyday: Everyday,
	}
	for in, want := range cases {
		if got := in.Prev(); got != want {
			t.Fatalf("%v.Prev()=%v want %v", in, got, want)
		}
	}
}

func TestDefinitionJSONShape(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Definition{Name: "Guild Boss", Recurrence: Saturday, Hour: 20})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"name":"Guild Boss","day":"Saturday","hour":20,"minute":0}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}

	var d Definition
	if err := json.Unmarshal([]byte(`{"name":"x","day":"Funday","hour":1,"minute":2}`), &d); err == nil {
		t.Fatalf("expected unknown day to be rejected")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		def  Definition
		ok   bool
	}{
		{name: "ok", def: Definition{Name: "a", Recurrence: Monday, Hour: 23, Minute: 59}, ok: true},
		{name: "hour", def: Definition{Name: "a", Recurrence: Monday, Hour: 24}},
		{name: "minute", def: Definition{Name: "a", Recurrence: Monday, Minute: -1}},
		{name: "recurrence", def: Definition{Name: "a", Hour: 1}},
		{name: "name", def: Definition{Recurrence: Everyday}},
	}
	for _, tc := range cases {
		err := tc.def.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("%s: error %v does not match ErrInvalid", tc.name, err)
			}
		}
	}
	if err := ValidateAll(Defaults()); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
