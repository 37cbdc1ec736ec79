package tools

// BuiltinOptions selects which optional built-in tools are registered.
type BuiltinOptions struct {
	EnableFileOperations bool
	FileRoot             string
	MaxReadBytes         int64
	EnableWebSearch      bool
}

// Builtins returns the built-in tool set for the given options.
func Builtins(opts BuiltinOptions) []Tool {
	out := []Tool{
		NewCalculatorTool(),
		NewStatisticsTool(),
		NewDateTimeTool(),
		NewTimezoneInfoTool(),
	}
	if opts.EnableFileOperations {
		sandbox := FileSandbox{Root: opts.FileRoot, MaxReadBytes: opts.MaxReadBytes}
		out = append(out,
			NewReadFileTool(sandbox),
			NewWriteFileTool(sandbox),
			NewListDirectoryTool(sandbox),
		)
	}
	if opts.EnableWebSearch {
		out = append(out, NewWebSearchTool(), NewWebScrapeTool())
	}
	return out
}

// NewDefaultRegistry builds a registry holding the built-in tools.
func NewDefaultRegistry(opts BuiltinOptions) *Registry {
	return NewRegistry(Builtins(opts)...)
}
