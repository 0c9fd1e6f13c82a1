package nodedriver

import "testing"

func TestNumericSuffix(t *testing.T) {
	cases := []struct {
		name    string
		want    int
		wantOK  bool
	}{
		{"project-0", 0, true},
		{"project-17", 17, true},
		{"project", 0, false},
		{"project-abc", 0, false},
		{"project-", 0, false},
	}
	for _, c := range cases {
		got, ok := NumericSuffix(c.name)
		if ok != c.wantOK || (ok && got != c.want) {
			t.Errorf("NumericSuffix(%q) = (%d, %v), want (%d, %v)", c.name, got, ok, c.want, c.wantOK)
		}
	}
}

func TestBuildCommand(t *testing.T) {
	got := buildCommand([]string{"export A=1", "export B=2"}, "run.sh")
	want := "export A=1; export B=2; run.sh"
	if got != want {
		t.Errorf("buildCommand = %q, want %q", got, want)
	}

	if got := buildCommand(nil, "run.sh"); got != "run.sh" {
		t.Errorf("buildCommand with no env = %q, want %q", got, "run.sh")
	}
}
