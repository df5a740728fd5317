package intent

import "testing"

func TestNeedsAugmentation(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"What's the WEATHER today", true},
		{"search for pizza places", true},
		{"Can you LOOK UP the train times", true},
		{"look   up the train times", true},
		{"what's the latest on the launch", true},
		{"what is the current time in Tokyo", true},
		{"any recent earthquakes", true},
		{"read me the news", true},
		{"what's the price of gold", true},
		{"How much is a ticket to Paris", true},
		{"tell me a joke", false},
		{"", false},
		{"   ", false},
		{"!!!???", false},
		// word boundaries, not bare substrings
		{"my research paper", false},
		{"the newsletter arrived", false},
		{"todays", false},
		{"currently nothing", false},
		{"a lookup table", false},
		{"weather.", true},
	}

	for _, tt := range tests {
		if got := NeedsAugmentation(tt.text); got != tt.want {
			t.Errorf("NeedsAugmentation(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestNeedsAugmentation_EveryTrigger(t *testing.T) {
	for _, phrase := range Triggers {
		if !NeedsAugmentation("please " + phrase + " now") {
			t.Errorf("trigger %q did not match", phrase)
		}
	}
}

func TestTrigger(t *testing.T) {
	if got := Trigger("Give me the NEWS please"); got != "NEWS" {
		t.Errorf("Trigger = %q, want %q", got, "NEWS")
	}
	if got := Trigger("tell me a joke"); got != "" {
		t.Errorf("Trigger = %q, want empty", got)
	}
}
