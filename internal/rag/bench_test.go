package rag

import "testing"

func BenchmarkFuse(b *testing.B) {
	kw := make(map[int64]float64)
	sem := make(map[int64]float64)
	for i := int64(0); i < 100; i++ {
		kw[i] = float64(i) / 100
		sem[i] = float64(100-i) / 100
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = fuse(kw, sem, 0.5, 0.5)
	}
}
