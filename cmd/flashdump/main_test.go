package main

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/record"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeImage(t *testing.T, records ...record.Record) afero.Fs {
	t.Helper()

	var data []byte
	for _, r := range records {
		data = r.AppendBinary(data)
	}
	data = append(data, bytes.Repeat([]byte{0xFF}, 2*record.Size)...)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/flash.img", data, 0o644))

	return fs
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-f", "yaml", "--sensor", "pressure", "-n", "3", "/dev/mtdblock0"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/mtdblock0", opts.device)
	assert.Equal(t, "yaml", opts.format)
	assert.Equal(t, "pressure", opts.sensor)
	assert.Equal(t, 3, opts.limit)

	_, err = parseFlags(nil)
	assert.True(t, errors.HasCode(err, errors.ErrMissingConfig))

	_, err = parseFlags([]string{"-d", "x", "-f", "csv"})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestDumpYAML(t *testing.T) {
	fs := writeImage(t,
		record.New(record.LoadCell, 0, 1.25),
		record.New(record.Pressure, 20, 4095),
		record.New(record.LoadCell, 24, -0.5),
	)

	var out bytes.Buffer
	require.NoError(t, dump(&out, fs, options{device: "/flash.img", format: "yaml", sensor: "loadcell"}))

	var got dumpOutput
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, 3, got.Total)
	require.Len(t, got.Records, 2)
	assert.Equal(t, uint32(24), got.Records[1].TimestampMs)
	assert.InDelta(t, -0.5, got.Records[1].Value, 0)
}

func TestDumpTable(t *testing.T) {
	fs := writeImage(t,
		record.New(record.LoadCell, 0, 1.25),
		record.New(record.Pressure, 20, 4095),
	)

	var out bytes.Buffer
	require.NoError(t, dump(&out, fs, options{device: "/flash.img", format: "table", limit: 1}))

	s := out.String()
	assert.Contains(t, s, "loadcell")
	assert.Contains(t, s, "1.250")
	assert.NotContains(t, s, "4095.000")
}

func TestDumpMissingDevice(t *testing.T) {
	err := dump(&bytes.Buffer{}, afero.NewMemMapFs(), options{device: "/nope", format: "table"})
	assert.Error(t, err)
}
