package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "empty is unlimited", input: "", want: 0},
		{name: "zero is unlimited", input: "0", want: 0},
		{name: "megabytes", input: "512m", want: 512 << 20},
		{name: "gigabytes", input: "1g", want: 1 << 30},
		{name: "iec suffix", input: "2GiB", want: 2 << 30},
		{name: "fractional", input: "1.5g", want: 3 << 29},
		{name: "bare bytes", input: "4096", want: 4096},
		{name: "whitespace trimmed", input: "  256m ", want: 256 << 20},
		{name: "garbage", input: "lots", wantErr: true},
		{name: "negative", input: "-1g", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := memoryBytes(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNanoCPUs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "empty is unlimited", input: "", want: 0},
		{name: "zero is unlimited", input: "0", want: 0},
		{name: "one core", input: "1", want: 1_000_000_000},
		{name: "half core", input: "0.5", want: 500_000_000},
		{name: "odd fraction", input: "0.1", want: 100_000_000},
		{name: "whitespace trimmed", input: " 2 ", want: 2_000_000_000},
		{name: "garbage", input: "two", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := nanoCPUs(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
