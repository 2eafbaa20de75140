package gateway

import "testing"

func TestClampInitialBars(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 100},
		{-5, 1},
		{1, 1},
		{100, 100},
		{1000, 1000},
		{1001, 1000},
		{50000, 1000},
	}
	for _, tc := range cases {
		if got := clampInitialBars(tc.in); got != tc.want {
			t.Errorf("clampInitialBars(%d): got %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestInvalidIntervalMsg(t *testing.T) {
	got := invalidIntervalMsg("10m")
	want := "Invalid interval: 10m. Valid: 1m, 5m, 15m, 1h, 4h, 1D, 1W"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestInvalidSymbolMsg(t *testing.T) {
	got := invalidSymbolMsg("DOGE/USDT", []string{"BTC/USDT"})
	want := "Invalid symbol: DOGE/USDT. Only BTC/USDT is supported."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got = invalidSymbolMsg("DOGE/USDT", []string{"BTC/USDT", "ETH/USDT"})
	want = "Invalid symbol: DOGE/USDT. Only BTC/USDT, ETH/USDT is supported."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
