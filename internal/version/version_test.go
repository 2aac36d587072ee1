package version

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Semver
		wantErr bool
	}{
		{"1.2.3", Semver{1, 2, 3}, false},
		{"1.2", Semver{1, 2, 0}, false},
		{"1", Semver{1, 0, 0}, false},
		{"", Semver{}, true},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got none", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Parse(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestCheckExactMatch(t *testing.T) {
	c := Check("1.2.3", "1.2.3")
	if c.Warning != "" || c.Error != "" {
		t.Fatalf("expected no warning or error for exact match, got %+v", c)
	}
}

func TestCheckMajorMismatchIsError(t *testing.T) {
	c := Check("1.0.0", "2.0.0")
	if c.Error == "" {
		t.Fatal("expected a major version mismatch to be an error")
	}
	c = Check("3.0.0", "2.0.0")
	if c.Error == "" {
		t.Fatal("expected a newer client major version to also error")
	}
}

func TestCheckMinorMismatchIsWarning(t *testing.T) {
	c := Check("1.1.0", "1.2.0")
	if c.Error != "" {
		t.Fatalf("expected no hard error on minor mismatch, got %q", c.Error)
	}
	if c.Warning == "" {
		t.Fatal("expected a warning on minor mismatch")
	}
}

func TestCheckMissingClientVersionWarns(t *testing.T) {
	c := Check("", "1.0.0")
	if c.Error != "" {
		t.Fatalf("expected missing client version to not hard-error, got %q", c.Error)
	}
	if c.Warning == "" {
		t.Fatal("expected a warning when client reports no version")
	}
}
