package tunnel

import "testing"

func TestPatternListMatchFirstWins(t *testing.T) {
	pl, err := Compile([][2]string{
		{`^db\.staging\.example\.com$`, "jump@staging-bastion"},
		{`\.example\.com$`, "jump@prod-bastion"},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	target, ok := pl.Match("db.staging.example.com")
	if !ok || target != "jump@staging-bastion" {
		t.Errorf("Match(staging) = %q, %v, want jump@staging-bastion, true", target, ok)
	}

	target, ok = pl.Match("other.example.com")
	if !ok || target != "jump@prod-bastion" {
		t.Errorf("Match(other) = %q, %v, want jump@prod-bastion, true", target, ok)
	}

	if _, ok := pl.Match("unrelated.internal"); ok {
		t.Error("expected no match for an unrelated host")
	}
}

func TestPatternListMatchCanonicalizesHost(t *testing.T) {
	pl, err := Compile([][2]string{{`^db\.example\.com$`, "jump@bastion"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := pl.Match("DB.Example.Com."); !ok {
		t.Error("expected host matching to be case-insensitive and trailing-dot-insensitive")
	}
}

func TestCompileRejectsInvalidRegex(t *testing.T) {
	if _, err := Compile([][2]string{{"[", "target"}}); err == nil {
		t.Error("expected an error for an invalid regex pattern")
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		spec     string
		wantUser string
		wantHost string
		wantPort string
	}{
		{"bastion.example.com", "", "bastion.example.com", "22"},
		{"jump@bastion.example.com", "jump", "bastion.example.com", "22"},
		{"jump@bastion.example.com:2222", "jump", "bastion.example.com", "2222"},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.spec)
		if err != nil {
			t.Fatalf("ParseTarget(%q): %v", tt.spec, err)
		}
		if got.User != tt.wantUser || got.Host != tt.wantHost || got.Port != tt.wantPort {
			t.Errorf("ParseTarget(%q) = %+v, want {%q %q %q}", tt.spec, got, tt.wantUser, tt.wantHost, tt.wantPort)
		}
	}
}

func TestPoolReusesTunnelByKey(t *testing.T) {
	p := NewPool()
	opens := 0
	open := func() (*Tunnel, error) {
		opens++
		return &Tunnel{}, nil
	}

	first, err := p.Get("key-a", open)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := p.Get("key-a", open)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("expected the same tunnel instance to be returned for the same key")
	}
	if opens != 1 {
		t.Errorf("open() called %d times, want 1", opens)
	}
}
