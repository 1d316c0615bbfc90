package util

import (
	"fmt"
	"math"
	"strings"
)

const genSuffix = "_gen"

// NameGeneratedTask creates the name for a generated sub-task. Indices are
// zero-padded to the width of the total sub-task count so lexicographic and
// numeric ordering agree. A nil index produces the "_misc" name used for the
// catch-all sub-task. Sub-tasks generated for an enterprise build variant get
// an "-enterprise" suffix so they can coexist with their community
// counterparts in a single generated configuration.
func NameGeneratedTask(displayName string, index *int, total int, isEnterprise bool) string {
	suffix := ""
	if isEnterprise {
		suffix = "-enterprise"
	}

	if index == nil {
		return fmt.Sprintf("%s_misc%s", displayName, suffix)
	}

	alignment := int(math.Ceil(math.Log10(float64(total))))
	return fmt.Sprintf("%s_%0*d%s", displayName, alignment, *index, suffix)
}

// RemoveGenSuffix strips a single trailing "_gen" from the given task name if
// one is present.
func RemoveGenSuffix(taskName string) string {
	return strings.TrimSuffix(taskName, genSuffix)
}

// IntPtr returns a pointer to the given int.
func IntPtr(i int) *int {
	return &i
}
