package marketcap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		crores float64
		want   Category
	}{
		{250000, Large},
		{20000, Large},
		{19999.99, Mid},
		{5000, Mid},
		{500, Small},
		{499, Micro},
		{0.5, Micro},
		{0, Unknown},
		{-3, Unknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.crores), "crores=%v", tt.crores)
	}
}

func TestParseCrores(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`"1,23,456.78"`, 123456.78},
		{`5432.1`, 5432.1},
		{`""`, 0},
		{`null`, 0},
		{`"n/a"`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseCrores(json.RawMessage(tt.raw)), 0.001)
		})
	}
}

func TestLookup_CachesPerCode(t *testing.T) {
	var hits atomic.Int32
	var down atomic.Bool
	down.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "EQ", r.URL.Query().Get("quotetype"))
		switch r.URL.Query().Get("scripcode") {
		case "500325":
			_, _ = w.Write([]byte(`{"MktCap":"17,45,000.12"}`))
		case "999999":
			if down.Load() {
				http.Error(w, "nope", http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{"MktCap":"12,000"}`))
		case "000000":
			_, _ = w.Write([]byte(`{"MktCap":null}`))
		default:
			_, _ = w.Write([]byte(`{"MktCap":"812.4"}`))
		}
	}))
	defer srv.Close()

	l := NewLookup(srv.URL, "test-agent", time.Second, arbor.NewLogger())
	ctx := context.Background()

	assert.Equal(t, Large, l.Category(ctx, "500325"))
	assert.Equal(t, Large, l.Category(ctx, "500325"))
	assert.Equal(t, Small, l.Category(ctx, "543210"))
	assert.Equal(t, int32(2), hits.Load())

	// failures are retried on the next call
	assert.Equal(t, Unknown, l.Category(ctx, "999999"))
	assert.Equal(t, Unknown, l.Category(ctx, "999999"))
	assert.Equal(t, int32(4), hits.Load())

	down.Store(false)
	assert.Equal(t, Mid, l.Category(ctx, "999999"))
	assert.Equal(t, Mid, l.Category(ctx, "999999"))
	assert.Equal(t, int32(5), hits.Load())

	// an answer without a figure is still an answer
	assert.Equal(t, Unknown, l.Category(ctx, "000000"))
	assert.Equal(t, Unknown, l.Category(ctx, "000000"))
	assert.Equal(t, int32(6), hits.Load())
}
