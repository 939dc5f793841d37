package topics

import "testing"

func TestBuilders(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{Health("object1"), "ECHOTRACE/health/object1"},
		{Trigger("object1"), "ECHOTRACE/trigger/object1"},
		{Config("object1"), "ECHOTRACE/config/object1"},
		{Ack("object1"), "ECHOTRACE/ack/object1"},
		{HubState, "ECHOTRACE/state/hub"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestParsers(t *testing.T) {
	if got := ParseHealth("ECHOTRACE/health/object1"); got != "object1" {
		t.Errorf("ParseHealth: got %q", got)
	}
	if got := ParseTrigger("ECHOTRACE/trigger/object2"); got != "object2" {
		t.Errorf("ParseTrigger: got %q", got)
	}
	if got := ParseAck("ECHOTRACE/ack/object3"); got != "object3" {
		t.Errorf("ParseAck: got %q", got)
	}
	if got := ParseHealth("ECHOTRACE/trigger/object1"); got != "" {
		t.Errorf("ParseHealth should reject foreign family, got %q", got)
	}
}
