package tuner

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"

	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

func TestDetect(t *testing.T) {
	resources, err := Detect()
	require.NoError(t, err)

	assert.Equal(t, runtime.NumCPU(), resources.CPUCores)
	assert.Positive(t, resources.Online.Size())
	assert.Positive(t, resources.TotalRAM)
	assert.LessOrEqual(t, resources.AvailableRAM, resources.TotalRAM)
}

func TestSuggest(t *testing.T) {
	plenty := int64(64 << 30)

	tests := []struct {
		name      string
		resources SystemResources
		mode      types.Mode
		want      Suggestion
	}{
		{
			name:      "single cpu uses fixed depth",
			resources: SystemResources{CPUCores: 16, Online: cpuset.New(0, 1, 2, 3), AvailableRAM: plenty},
			mode:      types.ModeSingleCPU,
			want:      Suggestion{MaxNProc: singleCPUNProc, CPU: 0},
		},
		{
			name:      "multi cpu doubles allowed set",
			resources: SystemResources{CPUCores: 16, Online: cpuset.New(0, 1, 2, 3), Allowed: cpuset.New(2, 3), AvailableRAM: plenty},
			mode:      types.ModeMultiCPU,
			want:      Suggestion{MaxNProc: 4, CPU: 2},
		},
		{
			name:      "multi cpu falls back to core count",
			resources: SystemResources{CPUCores: 3},
			mode:      types.ModeMultiCPU,
			want:      Suggestion{MaxNProc: 6, CPU: 0},
		},
		{
			name:      "capped",
			resources: SystemResources{CPUCores: 256, Online: cpuset.New(makeRange(256)...), AvailableRAM: plenty},
			mode:      types.ModeMultiCPU,
			want:      Suggestion{MaxNProc: maxNProc, CPU: 0},
		},
		{
			name:      "memory bound",
			resources: SystemResources{CPUCores: 8, Online: cpuset.New(1, 2), AvailableRAM: 128 << 20},
			mode:      types.ModeSingleCPU,
			want:      Suggestion{MaxNProc: 2, CPU: 1, MemoryBound: true},
		},
		{
			name:      "never below one",
			resources: SystemResources{CPUCores: 1, AvailableRAM: 1 << 20},
			mode:      types.ModeSingleCPU,
			want:      Suggestion{MaxNProc: 1, CPU: 0, MemoryBound: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Suggest(tt.resources, tt.mode))
		})
	}
}

func makeRange(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}
