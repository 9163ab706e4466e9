package archive

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"click-datastreams/internal/domain"
)

// candleRecord is the cold-storage row. Decimals are kept as strings so that
// archived values match the columnar store exactly.
type candleRecord struct {
	Token       string `parquet:"name=token, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timeframe   string `parquet:"name=timeframe, type=BYTE_ARRAY, convertedtype=UTF8"`
	BucketStart int64  `parquet:"name=bucket_start, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	BucketEnd   int64  `parquet:"name=bucket_end, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Open        string `parquet:"name=open, type=BYTE_ARRAY, convertedtype=UTF8"`
	High        string `parquet:"name=high, type=BYTE_ARRAY, convertedtype=UTF8"`
	Low         string `parquet:"name=low, type=BYTE_ARRAY, convertedtype=UTF8"`
	Close       string `parquet:"name=close, type=BYTE_ARRAY, convertedtype=UTF8"`
	Volume      string `parquet:"name=volume, type=BYTE_ARRAY, convertedtype=UTF8"`
	BaseVolume  string `parquet:"name=base_volume, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeCount  int64  `parquet:"name=trade_count, type=INT64"`
	Version     int64  `parquet:"name=version, type=INT64"`
}

func toRecord(c domain.Candle) candleRecord {
	return candleRecord{
		Token:       c.Token,
		Timeframe:   c.Timeframe,
		BucketStart: c.BucketStart,
		BucketEnd:   c.BucketEnd,
		Open:        c.Open.String(),
		High:        c.High.String(),
		Low:         c.Low.String(),
		Close:       c.Close.String(),
		Volume:      c.Volume.String(),
		BaseVolume:  c.BaseVolume.String(),
		TradeCount:  int64(c.TradeCount),
		Version:     int64(c.Version),
	}
}

// memFile is a write-only in-memory parquet target.
type memFile struct {
	buf *bytes.Buffer
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buf.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buf.Write(b) }
func (m *memFile) Close() error                              { return nil }

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// encodeParquet writes candles into one parquet file.
func encodeParquet(candles []domain.Candle, compression string) ([]byte, error) {
	mem := &memFile{buf: &bytes.Buffer{}}
	pw, err := writer.NewParquetWriter(mem, new(candleRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, c := range candles {
		if err := pw.Write(toRecord(c)); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("write candle record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.buf.Bytes(), nil
}
