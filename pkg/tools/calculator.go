package tools

import (
	"context"
	"math"
	"sort"
	"strings"
)

// CalculatorTool evaluates arithmetic expressions such as "2 + 3 * 4" or
// "sqrt(16) + sin(pi/2)".
type CalculatorTool struct{}

func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (c *CalculatorTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "calculator",
		Description: "Evaluate mathematical expressions and perform calculations",
		Parameters: []Parameter{{
			Name:        "expression",
			Type:        TypeString,
			Description: "Mathematical expression to evaluate (e.g., '2 + 3 * 4', 'sqrt(16)', 'sin(pi/2)')",
			Required:    true,
		}},
	}
}

func (c *CalculatorTool) Execute(_ context.Context, args map[string]any) Result {
	var in struct {
		Expression string `mapstructure:"expression"`
	}
	if err := Decode(args, &in); err != nil {
		return FromError(err)
	}
	expression := strings.TrimSpace(in.Expression)
	if expression == "" {
		return Fail("expression parameter is required")
	}
	value, err := Evaluate(expression)
	if err != nil {
		return Fail("calculation failed: %v", err)
	}
	return OK(map[string]any{
		"expression": expression,
		"result":     value,
	})
}

var defaultStatistics = []string{"mean", "median", "std", "min", "max", "count"}

// StatisticsTool computes descriptive statistics over a list of numbers.
type StatisticsTool struct{}

func NewStatisticsTool() *StatisticsTool { return &StatisticsTool{} }

func (s *StatisticsTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "statistics",
		Description: "Calculate basic statistics for a list of numbers",
		Parameters: []Parameter{
			{
				Name:        "numbers",
				Type:        TypeArray,
				Items:       TypeNumber,
				Description: "List of numbers to analyze",
				Required:    true,
			},
			{
				Name:        "calculations",
				Type:        TypeArray,
				Items:       TypeString,
				Description: "List of calculations to perform (mean, median, mode, std, var, min, max, sum, count)",
				Default:     defaultStatistics,
			},
		},
	}
}

func (s *StatisticsTool) Execute(_ context.Context, args map[string]any) Result {
	var in struct {
		Numbers      []float64 `mapstructure:"numbers"`
		Calculations []string  `mapstructure:"calculations"`
	}
	if err := Decode(args, &in); err != nil {
		return Fail("all numbers must be numeric: %v", err)
	}
	if len(in.Numbers) == 0 {
		return Fail("numbers parameter is required")
	}
	calcs := in.Calculations
	if len(calcs) == 0 {
		calcs = defaultStatistics
	}

	nums := in.Numbers
	stats := make(map[string]any, len(calcs))
	for _, calc := range calcs {
		switch strings.ToLower(strings.TrimSpace(calc)) {
		case "count":
			stats["count"] = len(nums)
		case "sum":
			stats["sum"] = sum(nums)
		case "mean":
			stats["mean"] = mean(nums)
		case "median":
			stats["median"] = median(nums)
		case "min":
			stats["min"] = minOf(nums)
		case "max":
			stats["max"] = maxOf(nums)
		case "std":
			if len(nums) > 1 {
				stats["std"] = math.Sqrt(variance(nums))
			}
		case "var":
			if len(nums) > 1 {
				stats["var"] = variance(nums)
			}
		case "mode":
			stats["mode"] = mode(nums)
		default:
			return Fail("unsupported calculation %q", calc)
		}
	}
	return OK(map[string]any{
		"input_numbers": nums,
		"statistics":    stats,
	})
}

func sum(nums []float64) float64 {
	var total float64
	for _, n := range nums {
		total += n
	}
	return total
}

func mean(nums []float64) float64 { return sum(nums) / float64(len(nums)) }

func median(nums []float64) float64 {
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

func minOf(nums []float64) float64 {
	out := nums[0]
	for _, n := range nums[1:] {
		out = math.Min(out, n)
	}
	return out
}

func maxOf(nums []float64) float64 {
	out := nums[0]
	for _, n := range nums[1:] {
		out = math.Max(out, n)
	}
	return out
}

// variance is the sample variance.
func variance(nums []float64) float64 {
	m := mean(nums)
	var acc float64
	for _, n := range nums {
		acc += (n - m) * (n - m)
	}
	return acc / float64(len(nums)-1)
}

// mode returns the single most frequent value, or every tied value in first
// occurrence order.
func mode(nums []float64) any {
	counts := make(map[float64]int, len(nums))
	var order []float64
	best := 0
	for _, n := range nums {
		if counts[n] == 0 {
			order = append(order, n)
		}
		counts[n]++
		if counts[n] > best {
			best = counts[n]
		}
	}
	var modes []float64
	for _, n := range order {
		if counts[n] == best {
			modes = append(modes, n)
		}
	}
	if len(modes) == 1 {
		return modes[0]
	}
	return modes
}
