package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"investia/internal/ratelimit"
	"investia/pkg/model"
)

type fakeProvider struct {
	name      string
	available bool
	candles   []model.Candle
	err       error
	calls     int
}

func (f *fakeProvider) Name() string      { return f.name }
func (f *fakeProvider) IsAvailable() bool { return f.available }
func (f *fakeProvider) RateLimit() int    { return 60 }

func (f *fakeProvider) GetDailyCandles(_ context.Context, _ string, days int) ([]model.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return tail(f.candles, days), nil
}

func bars(n int) []model.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Time: start.AddDate(0, 0, i), Close: float64(100 + i)}
	}
	return out
}

func TestFallbackProvider(t *testing.T) {
	broken := &fakeProvider{name: "broken", available: true, err: &ProviderError{Provider: "broken", Err: errors.New("down"), Retryable: true}}
	offline := &fakeProvider{name: "offline", available: false, candles: bars(5)}
	good := &fakeProvider{name: "good", available: true, candles: bars(5)}

	f := NewFallbackProvider(broken, offline, good)
	if len(f.Providers()) != 2 {
		t.Fatalf("unavailable providers should be dropped, got %d", len(f.Providers()))
	}

	got, err := f.GetDailyCandles(context.Background(), "VOO", 3)
	if err != nil {
		t.Fatalf("GetDailyCandles: %v", err)
	}
	if len(got) != 3 || got[2].Close != 104 {
		t.Errorf("unexpected candles: %+v", got)
	}
	if offline.calls != 0 {
		t.Error("unavailable provider must not be called")
	}
}

func TestFallbackProviderAllFail(t *testing.T) {
	empty := &fakeProvider{name: "empty", available: true}
	f := NewFallbackProvider(empty)

	_, err := f.GetDailyCandles(context.Background(), "VOO", 3)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("empty data is not retryable")
	}

	if _, err := NewFallbackProvider().GetDailyCandles(context.Background(), "VOO", 3); err == nil {
		t.Error("no providers should fail")
	}
}

func TestCachingProvider(t *testing.T) {
	inner := &fakeProvider{name: "inner", available: true, candles: bars(300)}
	c := NewCachingProvider(inner, 250, time.Hour)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	first, _ := c.GetDailyCandles(ctx, "voo", 60)
	second, _ := c.GetDailyCandles(ctx, "VOO", 200)

	if len(first) != 60 || len(second) != 200 {
		t.Fatalf("lengths = %d/%d", len(first), len(second))
	}
	if inner.calls != 1 {
		t.Errorf("expected one upstream call, got %d", inner.calls)
	}

	now = now.Add(2 * time.Hour)
	if _, err := c.GetDailyCandles(ctx, "VOO", 60); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Errorf("stale entry should be refetched, calls = %d", inner.calls)
	}
}

const chartBody = `{"chart":{"result":[{"meta":{"symbol":"%s"},
"timestamp":[1704205800,1704292200,1704378600,1704465000],
"indicators":{"quote":[{
"open":[10,11,null,12],
"high":[10.5,11.5,null,12.5],
"low":[9.5,10.5,null,11.5],
"close":[10.2,11.1,null,12.3],
"volume":[100,200,null,300]}]}}],"error":null}}`

func newTestYahoo(t *testing.T, handler http.HandlerFunc) *YahooProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewYahooProvider(0)
	p.baseURL = srv.URL
	p.client = srv.Client()
	p.limiter = ratelimit.NewLimiter("test", 6000)
	return p
}

func TestYahooDailyCandles(t *testing.T) {
	var path string
	p := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		if r.URL.Query().Get("interval") != "1d" {
			t.Errorf("expected daily interval, got %q", r.URL.RawQuery)
		}
		fmt.Fprintf(w, chartBody, "VOO")
	})

	candles, err := p.GetDailyCandles(context.Background(), "VOO", 10)
	if err != nil {
		t.Fatalf("GetDailyCandles: %v", err)
	}
	if !strings.HasSuffix(path, "/VOO") {
		t.Errorf("unexpected path %q", path)
	}
	if len(candles) != 3 {
		t.Fatalf("null bar should be skipped, got %d candles", len(candles))
	}
	if candles[2].Close != 12.3 || candles[2].Volume != 300 {
		t.Errorf("unexpected last candle %+v", candles[2])
	}
	for i := 1; i < len(candles); i++ {
		if !candles[i].Time.After(candles[i-1].Time) {
			t.Fatalf("candles must be ascending")
		}
	}

	last2, _ := p.GetDailyCandles(context.Background(), "VOO", 2)
	if len(last2) != 2 || last2[1].Close != 12.3 {
		t.Errorf("expected the two most recent bars, got %+v", last2)
	}
}

func TestYahooFearIndex(t *testing.T) {
	p := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.EscapedPath(), "%5EVIX") {
			t.Errorf("fear index symbol not escaped: %q", r.URL.EscapedPath())
		}
		fmt.Fprintf(w, chartBody, "^VIX")
	})

	obs, err := p.FearIndex(context.Background(), 30)
	if err != nil {
		t.Fatalf("FearIndex: %v", err)
	}
	if len(obs) != 3 || obs[0].Value != 10.2 {
		t.Errorf("unexpected observations %+v", obs)
	}
}

func TestYahooErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		noData    bool
	}{
		{"rate limited", http.StatusTooManyRequests, "", true, false},
		{"unknown symbol", http.StatusNotFound, "", false, true},
		{"server error", http.StatusBadGateway, "", true, false},
		{"chart error", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`, false, false},
		{"empty result", http.StatusOK, `{"chart":{"result":[],"error":null}}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestYahoo(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := p.GetDailyCandles(context.Background(), "XYZ", 5)
			if err == nil {
				t.Fatal("expected error")
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("retryable = %v, want %v (%v)", IsRetryable(err), tt.retryable, err)
			}
			if errors.Is(err, ErrNoData) != tt.noData {
				t.Errorf("ErrNoData = %v, want %v (%v)", errors.Is(err, ErrNoData), tt.noData, err)
			}
		})
	}
}
