package memory

import (
	"testing"

	"tempmail/client/internal/domain"
)

func BenchmarkEnvelopeStore_Prepend(b *testing.B) {
	store := NewEnvelopeStore()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Prepend(domain.Envelope{ID: int64(i), Subject: "bench"})
	}
}

func BenchmarkEnvelopeStore_AppendAll(b *testing.B) {
	page := make([]domain.Envelope, 50)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store := NewEnvelopeStore()
		for p := 0; p < 10; p++ {
			for j := range page {
				page[j] = domain.Envelope{ID: int64(10000 - p*50 - j)}
			}
			store.AppendAll(page)
		}
	}
}

func BenchmarkEnvelopeStore_List(b *testing.B) {
	store := NewEnvelopeStore()
	for i := 0; i < 500; i++ {
		store.Prepend(domain.Envelope{ID: int64(i)})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.List()
	}
}
