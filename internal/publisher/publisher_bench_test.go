package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/Checker-Finance/auction/pkg/model"
)

func BenchmarkPublishEvent(b *testing.B) {
	pub, js := newTestPublisher(false)
	ev := model.NewWinningBid{
		ListingID: 1,
		Amount:    1_000_000,
		Bidder:    "bench-bidder",
		Timestamp: time.Now().UTC(),
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ev.Sequence = uint64(i)
		if err := pub.PublishEvent(context.Background(), ev); err != nil {
			b.Fatal(err)
		}
		js.published = js.published[:0]
	}
}
