package trace

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TheCacophonyProject/soc-estimator/battery"
	"github.com/TheCacophonyProject/soc-estimator/estimator"
	"github.com/TheCacophonyProject/soc-estimator/polynomial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSamples = []estimator.Sample{
	{Time: 10, Current: -1.6, TrueVoltage: 3.1418, MeasuredVoltage: 3.1502, TrueSoC: 0.0013888888888888889, EstimatedSoC: 0.31, EstimatedRCVoltage: -0.0045},
	{Time: 20, Current: 0, TrueVoltage: 3.2, MeasuredVoltage: 3.19, TrueSoC: 0.002, EstimatedSoC: 0.1, EstimatedRCVoltage: 1e-9},
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	for _, s := range testSamples {
		require.NoError(t, w.Record(s))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Rows())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(Header, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "10,-1.6,3.1418,"))

	samples, err := ReadAll(&buf)
	require.NoError(t, err)
	assert.Equal(t, testSamples, samples)
}

func TestChecksum(t *testing.T) {
	// CRC-8 with polynomial 0x31 and init 0xFF of "\xBE\xEF" is 0x92.
	assert.Equal(t, "92", checksum([]string{"\xBE\xEF"}))
}

func TestTamperedRowIsRejected(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	for _, s := range testSamples {
		require.NoError(t, w.Record(s))
	}

	tampered := strings.Replace(buf.String(), "3.19,", "3.18,", 1)
	require.NotEqual(t, buf.String(), tampered)

	r := NewReader(strings.NewReader(tampered))
	_, err = r.Read()
	require.NoError(t, err)
	_, err = r.Read()
	assert.ErrorIs(t, err, ErrBadCRC)
	assert.Contains(t, err.Error(), "line 3")

	_, err = ReadAll(strings.NewReader(tampered))
	assert.ErrorIs(t, err, ErrBadCRC)
}

func TestBadInput(t *testing.T) {
	header := strings.Join(Header, ",") + "\n"
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrBadHeader},
		{"wrong header", strings.Replace(header, "current", "amps", 1), ErrBadHeader},
		{"short row", header + "1,2,3\n", ErrBadRow},
		{"not a number", header + "x,0,0,0,0,0,0," + checksum([]string{"x", "0", "0", "0", "0", "0", "0"}) + "\n", ErrBadRow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadAll(strings.NewReader(tc.input))
			assert.ErrorIs(t, err, tc.want)
		})
	}

	samples, err := ReadAll(strings.NewReader(header))
	require.NoError(t, err)
	assert.Empty(t, samples)

	_, err = NewReader(strings.NewReader(header)).Read()
	assert.Equal(t, io.EOF, err)
}

func TestRecordsEstimatorRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	w, err := Create(path)
	require.NoError(t, err)

	b, err := battery.New(battery.DefaultParams(), polynomial.DefaultOCV)
	require.NoError(t, err)
	require.NoError(t, b.SetStateOfCharge(0))
	e, err := estimator.New(b, estimator.DefaultFilterConfig(), estimator.NewGaussianNoise(0.015, 5), w)
	require.NoError(t, err)

	var want []estimator.Sample
	for i := 0; i < 25; i++ {
		s, err := e.Step(3.2)
		require.NoError(t, err)
		want = append(want, s)
	}
	require.NoError(t, w.Close())

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
