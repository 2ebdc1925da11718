// Package trace stores the samples of an estimation run as CSV so they can be
// plotted elsewhere. Every row carries a CRC-8 of its fields.
package trace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/TheCacophonyProject/soc-estimator/estimator"
	"github.com/sigurn/crc8"
)

var (
	ErrBadCRC    = errors.New("bad crc")
	ErrBadHeader = errors.New("bad header")
	ErrBadRow    = errors.New("bad row")
)

var Header = []string{
	"time",
	"current",
	"true_voltage",
	"measured_voltage",
	"true_soc",
	"estimated_soc",
	"estimated_rc_voltage",
	"crc",
}

var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31, // Polynomial 1 + x^4 + x^5 + x^8
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

func checksum(fields []string) string {
	return fmt.Sprintf("%02x", crc8.Checksum([]byte(strings.Join(fields, ",")), crcTable))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Writer writes samples as CSV rows. It implements estimator.Recorder.
type Writer struct {
	csv    *csv.Writer
	closer io.Closer
	rows   int
}

// NewWriter writes the header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	tw := &Writer{csv: csv.NewWriter(w)}
	if err := tw.write(Header); err != nil {
		return nil, err
	}
	return tw, nil
}

// Create truncates or creates the file at path and writes the header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

func (w *Writer) Record(s estimator.Sample) error {
	fields := []string{
		formatFloat(s.Time),
		formatFloat(s.Current),
		formatFloat(s.TrueVoltage),
		formatFloat(s.MeasuredVoltage),
		formatFloat(s.TrueSoC),
		formatFloat(s.EstimatedSoC),
		formatFloat(s.EstimatedRCVoltage),
	}
	if err := w.write(append(fields, checksum(fields))); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows is the number of samples written.
func (w *Writer) Rows() int {
	return w.rows
}

func (w *Writer) write(record []string) error {
	if err := w.csv.Write(record); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close closes the underlying file when the Writer was made with Create.
func (w *Writer) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		if w.closer != nil {
			w.closer.Close()
		}
		return err
	}
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// Reader reads samples back from a trace, checking the CRC of every row.
type Reader struct {
	csv        *csv.Reader
	headerRead bool
	line       int
}

func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	cr.ReuseRecord = true
	return &Reader{csv: cr}
}

// Read returns the next sample, or io.EOF when the trace is done.
func (r *Reader) Read() (estimator.Sample, error) {
	if !r.headerRead {
		record, err := r.next()
		if err == io.EOF {
			return estimator.Sample{}, fmt.Errorf("%w: empty trace", ErrBadHeader)
		}
		if err != nil {
			return estimator.Sample{}, err
		}
		for i, h := range Header {
			if record[i] != h {
				return estimator.Sample{}, fmt.Errorf("%w: column %d is %q, expected %q", ErrBadHeader, i, record[i], h)
			}
		}
		r.headerRead = true
	}

	record, err := r.next()
	if err != nil {
		return estimator.Sample{}, err
	}
	fields := record[:len(Header)-1]
	if got, want := record[len(Header)-1], checksum(fields); got != want {
		return estimator.Sample{}, fmt.Errorf("line %d: %w, got %s, expected %s", r.line, ErrBadCRC, got, want)
	}

	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return estimator.Sample{}, fmt.Errorf("line %d: %w: %s: %v", r.line, ErrBadRow, Header[i], err)
		}
		values[i] = v
	}
	return estimator.Sample{
		Time:               values[0],
		Current:            values[1],
		TrueVoltage:        values[2],
		MeasuredVoltage:    values[3],
		TrueSoC:            values[4],
		EstimatedSoC:       values[5],
		EstimatedRCVoltage: values[6],
	}, nil
}

func (r *Reader) next() ([]string, error) {
	record, err := r.csv.Read()
	if err == io.EOF {
		return nil, err
	}
	r.line++
	if err != nil {
		return nil, fmt.Errorf("line %d: %w: %v", r.line, ErrBadRow, err)
	}
	return record, nil
}

// ReadAll reads every sample in the trace.
func ReadAll(r io.Reader) ([]estimator.Sample, error) {
	tr := NewReader(r)
	var samples []estimator.Sample
	for {
		s, err := tr.Read()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
}

// ReadFile reads every sample in the trace file at path.
func ReadFile(path string) ([]estimator.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}
