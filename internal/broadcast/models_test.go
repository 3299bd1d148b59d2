package broadcast

import "testing"

func TestReactionMapAddRemove(t *testing.T) {
	r := ReactionMap{}

	if !r.Add("👍", "u1") {
		t.Fatal("first add reported no change")
	}
	if r.Add("👍", "u1") {
		t.Fatal("duplicate add reported a change")
	}
	r.Add("👍", "u2")
	r.Add("🎉", "u1")

	if r.Total() != 3 {
		t.Fatalf("total = %d", r.Total())
	}
	if emoji, count := r.Top(); emoji != "👍" || count != 2 {
		t.Fatalf("top = %s %d", emoji, count)
	}

	if !r.Remove("🎉", "u1") {
		t.Fatal("remove reported no change")
	}
	if _, ok := r["🎉"]; ok {
		t.Fatal("emptied emoji not dropped")
	}
	if r.Remove("🎉", "u1") {
		t.Fatal("second remove reported a change")
	}
}

func TestReactionMapTopStableTie(t *testing.T) {
	r := ReactionMap{}
	r.Add("🎉", "u1")
	r.Add("👍", "u2")

	// Ties resolve by emoji ordering so the rendered button does not
	// flap between updates.
	first, _ := r.Top()
	for i := 0; i < 5; i++ {
		if emoji, _ := r.Top(); emoji != first {
			t.Fatalf("top changed across calls: %s vs %s", emoji, first)
		}
	}
}

func TestMappingCopyFor(t *testing.T) {
	m := &Mapping{Copies: []Copy{
		{ChannelID: "c1", MessageID: "m1"},
		{ChannelID: "c2", MessageID: "m2"},
	}}

	if c := m.CopyFor("c2"); c == nil || c.MessageID != "m2" {
		t.Fatalf("CopyFor(c2) = %+v", c)
	}
	if c := m.CopyFor("c9"); c != nil {
		t.Fatalf("CopyFor(c9) = %+v", c)
	}
}
