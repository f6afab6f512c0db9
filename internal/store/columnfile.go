package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/ajitpratap0/backtestcore/internal/candle"
)

// The on-disk series format is a small custom binary layout: a fixed header
// (magic, version, uint32 record count) followed by one record per candle,
// each an int64 ts and five length-prefixed decimal strings, little-endian
// throughout. Records are stored row by row, not column by column, and
// there is no footer. The ".parquet" suffix is kept so paths stay stable for callers even though
// the encoding isn't Apache Parquet.

const (
	fileMagic   = "OHC1"
	fileVersion = uint8(1)
)

// writeSeriesFile atomically (over)writes path with candles, via a temp file
// beside it followed by a rename.
func writeSeriesFile(path string, candles []candle.Candle) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*.parquet")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	w := bufio.NewWriter(tmp)
	if err := encodeSeries(w, candles); err != nil {
		return fmt.Errorf("encode series: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func encodeSeries(w io.Writer, candles []candle.Candle) error {
	if _, err := w.Write([]byte(fileMagic)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, fileVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(candles))); err != nil {
		return err
	}
	for _, c := range candles {
		if err := binary.Write(w, binary.LittleEndian, c.TS); err != nil {
			return err
		}
		for _, d := range []decimal.Decimal{c.Open, c.High, c.Low, c.Close, c.Volume} {
			if err := writeDecimal(w, d); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeDecimal(w io.Writer, d decimal.Decimal) error {
	s := d.String()
	if len(s) > 255 {
		return fmt.Errorf("decimal string too long to encode: %d bytes", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// readSeriesFile reads the full candle series from path.
func readSeriesFile(path string) ([]candle.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeSeries(bufio.NewReader(f))
}

func decodeSeries(r io.Reader) ([]candle.Candle, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != fileMagic {
		return nil, fmt.Errorf("bad magic %q", magic)
	}
	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	out := make([]candle.Candle, count)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i].TS); err != nil {
			return nil, fmt.Errorf("read ts[%d]: %w", i, err)
		}
		fields := make([]*decimal.Decimal, 5)
		fields[0], fields[1], fields[2] = &out[i].Open, &out[i].High, &out[i].Low
		fields[3], fields[4] = &out[i].Close, &out[i].Volume
		for _, f := range fields {
			d, err := readDecimal(r)
			if err != nil {
				return nil, err
			}
			*f = d
		}
	}
	return out, nil
}

func readDecimal(r io.Reader) (decimal.Decimal, error) {
	var n uint8
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return decimal.Zero, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(string(buf))
}

// readLastTS reads the header and scans every record to find the last ts,
// avoiding the full []candle.Candle allocation readSeriesFile makes.
func readLastTS(path string) (int64, bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return 0, false, fmt.Errorf("read magic: %w", err)
	}
	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, false, err
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, false, err
	}
	if count == 0 {
		return 0, true, nil
	}
	// The format has no fixed record width (decimal strings vary in
	// length), so finding the tail means decoding sequentially. TODO: add
	// a footer index with the last ts once series grow large enough for
	// this scan to show up in profiles.
	var lastTS int64
	for i := uint32(0); i < count; i++ {
		var ts int64
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			return 0, false, err
		}
		lastTS = ts
		for k := 0; k < 5; k++ {
			if _, err := readDecimal(r); err != nil {
				return 0, false, err
			}
		}
	}
	return lastTS, true, nil
}
