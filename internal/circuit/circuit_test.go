package circuit

import "testing"

func TestParseOutputs_ExtractsOutputLines(t *testing.T) {
	stdout := "compiling...\nOUTPUT: 0xabc\nrunning\nOUTPUT: 0xdef\ndone\n"
	got := parseOutputs(stdout)
	if len(got) != 2 || got[0] != "0xabc" || got[1] != "0xdef" {
		t.Fatalf("unexpected outputs: %v", got)
	}
}

func TestParseOutputs_NoneFound(t *testing.T) {
	if got := parseOutputs("nothing here\n"); got != nil {
		t.Fatalf("expected nil outputs, got %v", got)
	}
}
