package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameGeneratedTask(t *testing.T) {
	for _, test := range []struct {
		name         string
		displayName  string
		index        *int
		total        int
		isEnterprise bool
		expected     string
	}{
		{name: "SingleDigitTotal", displayName: "task", index: IntPtr(0), total: 10, expected: "task_0"},
		{name: "PaddedIndex", displayName: "task", index: IntPtr(42), total: 1001, expected: "task_0042"},
		{name: "MiscTask", displayName: "task", index: nil, total: 1001, expected: "task_misc"},
		{name: "MiscTaskZeroTotal", displayName: "task", index: nil, total: 0, expected: "task_misc"},
		{name: "Enterprise", displayName: "task", index: IntPtr(0), total: 10, isEnterprise: true, expected: "task_0-enterprise"},
		{name: "EnterprisePadded", displayName: "task", index: IntPtr(42), total: 1001, isEnterprise: true, expected: "task_0042-enterprise"},
		{name: "EnterpriseMisc", displayName: "task", index: nil, total: 0, isEnterprise: true, expected: "task_misc-enterprise"},
	} {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, NameGeneratedTask(test.displayName, test.index, test.total, test.isEnterprise))
		})
	}
}

func TestRemoveGenSuffix(t *testing.T) {
	assert.Equal(t, "task_name", RemoveGenSuffix("task_name"))
	assert.Equal(t, "task_name", RemoveGenSuffix("task_name_gen"))
	assert.Equal(t, "task_name_", RemoveGenSuffix("task_name_"))

	// Stripping is idempotent and removes at most one suffix.
	assert.Equal(t, "task_gen", RemoveGenSuffix(RemoveGenSuffix("task_gen_gen")))
}
