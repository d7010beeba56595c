package expr

import (
	"path"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// globFunction registers glob(pattern, value) -> bool, a shell-style glob
// matcher used by hostname and path predicates. The string helpers
// (charAt, indexOf, lastIndexOf, join, lowerAscii, upperAscii, trim,
// replace, split, substring) come from cel-go's own ext.Strings() library
// rather than being reimplemented here.
func globFunction() cel.EnvOption {
	return cel.Function("glob",
		cel.Overload("glob_string_string_bool",
			[]*cel.Type{cel.StringType, cel.StringType},
			cel.BoolType,
			cel.BinaryBinding(func(pattern, value ref.Val) ref.Val {
				p, ok := pattern.Value().(string)
				if !ok {
					return types.NewErr("glob: pattern must be a string")
				}
				v, ok := value.Value().(string)
				if !ok {
					return types.NewErr("glob: value must be a string")
				}
				matched, err := path.Match(p, v)
				if err != nil {
					return types.NewErr("glob: %v", err)
				}
				return types.Bool(matched)
			}),
		),
	)
}
