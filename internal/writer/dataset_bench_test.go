package writer

import (
	"path/filepath"
	"testing"
)

func BenchmarkJSONLSink_Append(b *testing.B) {
	sink, err := NewJSONLSink(filepath.Join(b.TempDir(), DatasetFilename), testLogger())
	if err != nil {
		b.Fatal(err)
	}
	defer sink.Close()

	rec := outputRecord("bench", 0)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec.Offset = int64(i)
		if err := sink.Append(rec); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkJSONLSink_FlushPerChunk(b *testing.B) {
	sink, err := NewJSONLSink(filepath.Join(b.TempDir(), DatasetFilename), testLogger())
	if err != nil {
		b.Fatal(err)
	}
	defer sink.Close()

	rec := outputRecord("bench", 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < 100; j++ {
			if err := sink.Append(rec); err != nil {
				b.Fatal(err)
			}
		}
		if err := sink.Flush(); err != nil {
			b.Fatal(err)
		}
	}
}
