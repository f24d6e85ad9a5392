package factor

import "testing"

func TestParsePrintRoundTrip(t *testing.T) {
	cases := []string{
		"close",
		"roc(close,20)",
		"trend_score(close,25)*0.2+ma(volume,5)/ma(volume,19)",
		"close>ma(close,5)",
		"close>ma(close,5) and close<ma(close,20)",
	}
	for _, expr := range cases {
		ast, err := Parse(expr)
		if err != nil {
			t.Fatalf("parse %q: %v", expr, err)
		}
		printed := Print(ast)
		ast2, err := Parse(printed)
		if err != nil {
			t.Fatalf("reparse %q (from %q): %v", printed, expr, err)
		}
		if Print(ast2) != printed {
			t.Fatalf("round-trip mismatch: %q -> %q -> %q", expr, printed, Print(ast2))
		}
	}
}

func TestParseUnknownCharacter(t *testing.T) {
	if _, err := Parse("close ~ 1"); err == nil {
		t.Fatalf("expected parse error for invalid character")
	}
}

func TestParseCallArity(t *testing.T) {
	ast, err := Parse("roc(close, 20, 5)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ast.Kind != NodeCall || len(ast.Args) != 3 {
		t.Fatalf("expected 3-arg call, got %+v", ast)
	}
}
