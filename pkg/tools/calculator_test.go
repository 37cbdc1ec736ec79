package tools

import (
	"context"
	"math"
	"testing"
)

func TestCalculatorRespectsPrecedence(t *testing.T) {
	r := NewRegistry(NewCalculatorTool())
	res := r.Execute(context.Background(), "calculator", map[string]any{"expression": "2 + 3 * 4"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	data := res.Data.(map[string]any)
	if data["result"] != 14.0 {
		t.Fatalf("expected 14, got %v", data["result"])
	}
}

func TestEvaluate(t *testing.T) {
	cases := map[string]float64{
		"1 + 2 - 3":          0,
		"(2 + 3) * 4":        20,
		"2 ** 3 ** 2":        512,
		"-2 ** 2":            -4,
		"10 % 4":             2,
		"7 // 2":             3,
		"sqrt(16) + abs(-2)": 6,
		"max(1, 5, 3)":       5,
		"log(8, 2)":          3,
		"2 * pi / tau":       1,
		"1.5e2":              150,
	}
	for expr, want := range cases {
		got, err := Evaluate(expr)
		if err != nil {
			t.Fatalf("Evaluate(%q) returned error: %v", expr, err)
		}
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("Evaluate(%q) = %v, want %v", expr, got, want)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	for _, expr := range []string{"", "1 / 0", "2 +", "(1 + 2", "foo(1)", "x + 1", "1 $ 2", "sqrt(-1)"} {
		if _, err := Evaluate(expr); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}

func TestCalculatorReportsFailures(t *testing.T) {
	res := NewCalculatorTool().Execute(context.Background(), map[string]any{"expression": "1 / 0"})
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestStatisticsTool(t *testing.T) {
	tool := NewStatisticsTool()
	res := tool.Execute(context.Background(), map[string]any{
		"numbers":      []any{1.0, 2.0, 2.0, 5.0},
		"calculations": []any{"mean", "median", "mode", "sum", "count", "var"},
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	stats := res.Data.(map[string]any)["statistics"].(map[string]any)
	if stats["mean"] != 2.5 || stats["median"] != 2.0 || stats["mode"] != 2.0 || stats["sum"] != 10.0 || stats["count"] != 4 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
	if v := stats["var"].(float64); math.Abs(v-3.0) > 1e-9 {
		t.Fatalf("unexpected variance: %v", v)
	}

	if res := tool.Execute(context.Background(), map[string]any{"numbers": []any{}}); res.Success {
		t.Fatalf("expected failure for empty input")
	}
	if res := tool.Execute(context.Background(), map[string]any{"numbers": []any{1.0}, "calculations": []any{"kurtosis"}}); res.Success {
		t.Fatalf("expected failure for unsupported calculation")
	}
}
