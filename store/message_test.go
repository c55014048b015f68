package store

import (
	"encoding/json"
	"testing"
	"time"
)

func TestReadStateShapes(t *testing.T) {
	t.Run("direct starts unread", func(t *testing.T) {
		r := DirectUnread()
		if r.IsGroup() {
			t.Error("expected direct shape")
		}
		if !r.UnreadFor("anyone") {
			t.Error("expected unread")
		}
		if r.Read() {
			t.Error("expected Read() false")
		}
	})

	t.Run("direct flip", func(t *testing.T) {
		r := DirectUnread().WithRead()
		if r.UnreadFor("anyone") {
			t.Error("expected read after flip")
		}
		if !r.Read() {
			t.Error("expected Read() true")
		}
	})

	t.Run("group starts unread for every member", func(t *testing.T) {
		r := GroupUnread([]string{"a", "b", "c"})
		if !r.IsGroup() {
			t.Error("expected group shape")
		}
		for _, id := range []string{"a", "b", "c"} {
			if !r.UnreadFor(id) {
				t.Errorf("expected %s unread", id)
			}
		}
	})

	t.Run("absent member is not unread", func(t *testing.T) {
		r := GroupUnread([]string{"a"})
		if r.UnreadFor("z") {
			t.Error("absent member must not be unread")
		}
		if _, ok := r.MemberRead("z"); ok {
			t.Error("absent member must not be present")
		}
	})

	t.Run("member flip leaves others untouched", func(t *testing.T) {
		r := GroupUnread([]string{"a", "b"}).WithMemberRead("a")
		if r.UnreadFor("a") {
			t.Error("expected a read")
		}
		if !r.UnreadFor("b") {
			t.Error("expected b still unread")
		}
	})

	t.Run("flip for absent member adds nothing", func(t *testing.T) {
		r := GroupUnread([]string{"a"}).WithMemberRead("z")
		if _, ok := r.MemberRead("z"); ok {
			t.Error("flip must not add entries to the snapshot")
		}
	})

	t.Run("clone is independent", func(t *testing.T) {
		orig := GroupUnread([]string{"a", "b"})
		flipped := orig.Clone().WithMemberRead("a")
		if orig.UnreadFor("a") != true {
			t.Error("original must be unaffected by clone mutation")
		}
		if flipped.UnreadFor("a") {
			t.Error("expected clone's a read")
		}
	})
}

func TestReadStateJSON(t *testing.T) {
	t.Run("direct encodes as bare boolean", func(t *testing.T) {
		data, err := json.Marshal(DirectUnread())
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(data) != "false" {
			t.Errorf("expected 'false', got %s", data)
		}

		data, _ = json.Marshal(DirectUnread().WithRead())
		if string(data) != "true" {
			t.Errorf("expected 'true', got %s", data)
		}
	})

	t.Run("group encodes as member map", func(t *testing.T) {
		data, err := json.Marshal(GroupUnread([]string{"a"}).WithMemberRead("a"))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(data) != `{"a":true}` {
			t.Errorf("expected '{\"a\":true}', got %s", data)
		}
	})

	t.Run("decodes either shape", func(t *testing.T) {
		var direct ReadState
		if err := json.Unmarshal([]byte("true"), &direct); err != nil {
			t.Fatalf("unmarshal bool: %v", err)
		}
		if direct.IsGroup() || !direct.Read() {
			t.Error("expected read direct shape")
		}

		var group ReadState
		if err := json.Unmarshal([]byte(`{"a":false,"b":true}`), &group); err != nil {
			t.Fatalf("unmarshal map: %v", err)
		}
		if !group.IsGroup() {
			t.Fatal("expected group shape")
		}
		if !group.UnreadFor("a") || group.UnreadFor("b") {
			t.Error("unexpected flags after decode")
		}
	})

	t.Run("rejects other shapes", func(t *testing.T) {
		var r ReadState
		if err := json.Unmarshal([]byte(`"yes"`), &r); err == nil {
			t.Error("expected error for string shape")
		}
	})
}

func TestMessageJSON(t *testing.T) {
	msg := Message{
		ID:        "m1",
		SenderID:  "u1",
		Body:      "hi",
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		GroupID:   "g1",
		ReadState: GroupUnread([]string{"u1", "u2"}),
	}
	if !msg.IsGroup() {
		t.Error("expected group message")
	}

	data, err := json.Marshal(&msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != "m1" || decoded.GroupID != "g1" || decoded.ReceiverID != "" {
		t.Errorf("unexpected round trip: %+v", decoded)
	}
	if !decoded.ReadState.IsGroup() || !decoded.ReadState.UnreadFor("u2") {
		t.Error("read state lost its shape in the round trip")
	}
}

func TestReadStateSQL(t *testing.T) {
	t.Run("valuer emits JSON", func(t *testing.T) {
		v, err := GroupUnread([]string{"a"}).Value()
		if err != nil {
			t.Fatalf("value: %v", err)
		}
		if string(v.([]byte)) != `{"a":false}` {
			t.Errorf("unexpected value: %s", v)
		}
	})

	t.Run("scanner accepts bytes and bools", func(t *testing.T) {
		var r ReadState
		if err := r.Scan([]byte(`{"a":true}`)); err != nil {
			t.Fatalf("scan bytes: %v", err)
		}
		if !r.IsGroup() {
			t.Error("expected group shape")
		}

		if err := r.Scan(true); err != nil {
			t.Fatalf("scan bool: %v", err)
		}
		if r.IsGroup() || !r.Read() {
			t.Error("expected read direct shape")
		}

		if err := r.Scan(42); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
