package mqtt

import (
	"errors"
	"testing"

	"github.com/nerrad567/knx-access/internal/knx"
)

func TestTopicBuilders(t *testing.T) {
	ga := knx.NewGroupAddress(1, 2, 3)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State", Topics{}.State(ga), "knx/state/1/2/3"},
		{"Write", Topics{}.Write(ga), "knx/write/1/2/3"},
		{"Read", Topics{}.Read(ga), "knx/read/1/2/3"},
		{"Response", Topics{}.Response("abc"), "knx/response/abc"},
		{"Event", Topics{}.Event(), "knx/event"},
		{"Status", Topics{}.Status(), "knx/status"},
		{"AllStates", Topics{}.AllStates(), "knx/state/#"},
		{"AllWrites", Topics{}.AllWrites(), "knx/write/#"},
		{"AllReads", Topics{}.AllReads(), "knx/read/#"},
		{"custom prefix", Topics{Prefix: "home/knx"}.State(ga), "home/knx/state/1/2/3"},
		{"trailing slash trimmed", Topics{Prefix: "site/"}.Status(), "site/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	topics := Topics{Prefix: "home/knx"}

	tests := []struct {
		name     string
		topic    string
		category string
		ga       knx.GroupAddress
		wantErr  bool
	}{
		{"write", "home/knx/write/1/2/3", CategoryWrite, knx.NewGroupAddress(1, 2, 3), false},
		{"read", "home/knx/read/31/7/255", CategoryRead, knx.NewGroupAddress(31, 7, 255), false},
		{"state", "home/knx/state/0/0/1", CategoryState, knx.NewGroupAddress(0, 0, 1), false},
		{"other prefix", "knx/write/1/2/3", "", 0, true},
		{"no address", "home/knx/status", "", 0, true},
		{"two levels", "home/knx/write/1/2", "", 0, true},
		{"four levels", "home/knx/write/1/2/3/4", "", 0, true},
		{"out of range", "home/knx/write/1/8/3", "", 0, true},
		{"not a number", "home/knx/write/a/b/c", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, ga, err := topics.ParseAddress(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Fatalf("ParseAddress(%q) error = %v, want ErrInvalidTopic", tt.topic, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error: %v", tt.topic, err)
			}
			if category != tt.category {
				t.Errorf("category = %q, want %q", category, tt.category)
			}
			if ga != tt.ga {
				t.Errorf("ga = %s, want %s", ga, tt.ga)
			}
		})
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	topics := Topics{}
	ga := knx.NewGroupAddress(5, 1, 20)

	for _, topic := range []string{topics.State(ga), topics.Write(ga), topics.Read(ga)} {
		_, got, err := topics.ParseAddress(topic)
		if err != nil {
			t.Fatalf("ParseAddress(%q) error: %v", topic, err)
		}
		if got != ga {
			t.Errorf("ParseAddress(%q) = %s, want %s", topic, got, ga)
		}
	}
}
