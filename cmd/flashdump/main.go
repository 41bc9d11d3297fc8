// Command flashdump decodes a flash image written by loadlogger.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"codeberg.org/mutker/loadlogger/internal/blockdev"
	"codeberg.org/mutker/loadlogger/internal/errors"
	"codeberg.org/mutker/loadlogger/internal/flash"
	"codeberg.org/mutker/loadlogger/internal/record"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type options struct {
	device string
	start  uint64
	format string
	sensor string
	limit  int
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("flashdump", pflag.ContinueOnError)
	fs.StringVarP(&opts.device, "device", "d", "", "Flash image or block device to read")
	fs.Uint64Var(&opts.start, "start", 0, "Address of the first record")
	fs.StringVarP(&opts.format, "format", "f", "table", "Output format (table, yaml)")
	fs.StringVar(&opts.sensor, "sensor", "", "Only show one sensor (loadcell, pressure)")
	fs.IntVarP(&opts.limit, "limit", "n", 0, "Show at most n records (0 shows all)")

	if err := fs.Parse(args); err != nil {
		return opts, errors.New().Wrap(errors.ErrBindFlags, err)
	}

	if opts.device == "" && fs.NArg() > 0 {
		opts.device = fs.Arg(0)
	}
	if opts.device == "" {
		return opts, errors.New().WithData(errors.ErrMissingConfig, "device")
	}

	switch opts.format {
	case "table", "yaml":
	default:
		return opts, errors.New().WithData(errors.ErrInvalidArgument, "format "+opts.format)
	}

	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "flashdump: %v\n", err)
		os.Exit(2)
	}

	if err := dump(os.Stdout, afero.NewOsFs(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "flashdump: %v\n", err)
		os.Exit(1)
	}
}

type dumpOutput struct {
	Device  string          `yaml:"device"`
	Start   uint64          `yaml:"start"`
	Total   int             `yaml:"total"`
	Skipped int             `yaml:"skipped"`
	Records []record.Record `yaml:"records"`
}

// dump writes the records stored in opts.device to w.
func dump(w io.Writer, fs afero.Fs, opts options) error {
	info, err := fs.Stat(opts.device)
	if err != nil {
		return errors.New().Wrap(flash.ErrReadFailed, err)
	}

	size := uint64(info.Size())
	if size == 0 {
		size = record.Size
	}

	dev, err := blockdev.NewFileDevice(fs, opts.device, size)
	if err != nil {
		return err
	}

	records, skipped, err := flash.ReadAll(dev, opts.start)
	if err != nil && !errors.HasCode(err, flash.ErrTrailingBytes) {
		return err
	}

	out := dumpOutput{
		Device:  opts.device,
		Start:   opts.start,
		Total:   len(records),
		Skipped: skipped,
		Records: filter(records, opts),
	}

	if opts.format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return errors.New().Wrap(errors.ErrInternal, err)
		}
		return enc.Close()
	}

	renderTable(w, out)

	return nil
}

func filter(records []record.Record, opts options) []record.Record {
	out := make([]record.Record, 0, len(records))
	for _, r := range records {
		if opts.sensor != "" && !strings.EqualFold(r.ID.String(), opts.sensor) {
			continue
		}
		out = append(out, r)
		if opts.limit > 0 && len(out) == opts.limit {
			break
		}
	}
	return out
}

func renderTable(w io.Writer, out dumpOutput) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(out.Device)
	t.AppendHeader(table.Row{"#", "Sensor", "Time (ms)", "Value"})

	for i, r := range out.Records {
		t.AppendRow(table.Row{i, r.ID.String(), r.TimestampMs, fmt.Sprintf("%.3f", r.Value)})
	}

	t.AppendFooter(table.Row{"", "records", out.Total, fmt.Sprintf("%d skipped", out.Skipped)})
	t.Render()
}
