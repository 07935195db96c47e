package clonechat

import "testing"

func TestSelectStrategyTable(t *testing.T) {
	cases := []struct {
		restricted, forceDownload bool
		want                      CloningStrategy
	}{
		{false, false, StrategyForward},
		{true, false, StrategyDownloadUpload},
		{false, true, StrategyDownloadUpload},
		{true, true, StrategyDownloadUpload},
	}
	for _, c := range cases {
		if got := selectStrategy(c.restricted, c.forceDownload); got != c.want {
			t.Errorf("selectStrategy(%v, %v) = %v, want %v", c.restricted, c.forceDownload, got, c.want)
		}
	}
}
