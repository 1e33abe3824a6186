package ingest

import "testing"

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		want    *Route
		wantNil bool
	}{
		{name: "transcript", topic: "tr-translate/transcripts/radio1", want: &Route{Handler: "transcript", Source: "radio1"}},
		{name: "custom_prefix", topic: "site/a/b/feed", want: &Route{Handler: "transcript", Source: "feed"}},
		{name: "single_segment", topic: "feed", want: &Route{Handler: "transcript", Source: "feed"}},
		{name: "trailing_slash", topic: "tr-translate/transcripts/radio1/", want: &Route{Handler: "transcript", Source: "radio1"}},
		{name: "options", topic: "tr-translate/transcripts/options", want: &Route{Handler: "options"}},
		{name: "translate", topic: "tr-translate/transcripts/translate", want: &Route{Handler: "translate"}},
		{name: "empty", topic: "", wantNil: true},
		{name: "only_slashes", topic: "//", wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTopic(tt.topic)
			if tt.wantNil {
				if got != nil {
					t.Errorf("ParseTopic(%q) = %+v, want nil", tt.topic, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ParseTopic(%q) = nil, want %+v", tt.topic, tt.want)
			}
			if *got != *tt.want {
				t.Errorf("ParseTopic(%q) = %+v, want %+v", tt.topic, got, tt.want)
			}
		})
	}
}
