package affinity

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"

	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc/sysproctest"
)

func fixedOnline(s cpuset.CPUSet) Option {
	return WithOnline(func() (cpuset.CPUSet, error) { return s, nil })
}

func TestPinToCPU(t *testing.T) {
	fake := sysproctest.New(monoclock.NewManual(0, 0), time.Millisecond)
	c := New(fake, fixedOnline(cpuset.New(0, 1, 2, 3)))

	require.NoError(t, c.PinToCPU(2))

	got, ok := fake.Affinity(sysproc.Self)
	require.True(t, ok)
	assert.Equal(t, []int{2}, got.List())
}

func TestPinRejectsOfflineCPU(t *testing.T) {
	fake := sysproctest.New(monoclock.NewManual(0, 0), time.Millisecond)
	c := New(fake, fixedOnline(cpuset.New(0, 1)))

	err := c.Pin(4242, 7)
	require.ErrorIs(t, err, ErrCPUOffline)
	assert.Contains(t, err.Error(), "0-1")

	_, ok := fake.Affinity(4242)
	assert.False(t, ok)
}

func TestPinPropagatesOnlineError(t *testing.T) {
	boom := errors.New("sysfs unavailable")
	c := New(sysproctest.New(monoclock.NewManual(0, 0), 0), WithOnline(func() (cpuset.CPUSet, error) {
		return cpuset.New(), boom
	}))

	require.ErrorIs(t, c.PinToCPU(0), boom)
	require.ErrorIs(t, c.Unrestrict(), boom)
}

func TestUnrestrictWidensToOnline(t *testing.T) {
	fake := sysproctest.New(monoclock.NewManual(0, 0), 0)
	c := New(fake, fixedOnline(cpuset.New(0, 1, 2, 5)))

	require.NoError(t, c.PinToCPU(1))
	require.NoError(t, c.Unrestrict())

	got, ok := fake.Affinity(sysproc.Self)
	require.True(t, ok)
	assert.Equal(t, "0-2,5", got.String())
}

func TestParseOnline(t *testing.T) {
	tests := []struct {
		input   string
		want    []int
		wantErr bool
	}{
		{"0\n", []int{0}, false},
		{"0-3\n", []int{0, 1, 2, 3}, false},
		{"0-1,4,6-7", []int{0, 1, 4, 6, 7}, false},
		{"zero", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOnline(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.List())
		})
	}
}

func TestFallbackMatchesNumCPU(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), Fallback().Size())
}

func TestOnlineCPUsNonEmpty(t *testing.T) {
	set, err := OnlineCPUs()
	require.NoError(t, err)
	assert.False(t, set.IsEmpty())
}
