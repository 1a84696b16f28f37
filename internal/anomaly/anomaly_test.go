package anomaly

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spotwatch/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestScoreBands(t *testing.T) {
	cases := []struct {
		name     string
		current  string
		previous string
		pct      string
		score    float64
	}{
		{"above 50", "1.500001", "1", "50.0001", 0.9},
		{"at 50", "1.5", "1", "50", 0.8},
		{"below 50", "1.499999", "1", "49.9999", 0.8},
		{"above 30", "1.300001", "1", "30.0001", 0.8},
		{"at 30", "6.5", "5", "30", 0.7},
		{"below 30", "1.299999", "1", "29.9999", 0.7},
		{"above 20", "1.200001", "1", "20.0001", 0.7},
		{"at 20", "6", "5", "20", 0.5},
		{"below 20", "1.199999", "1", "19.9999", 0.5},
		{"above 10", "1.100001", "1", "10.0001", 0.5},
		{"at 10", "5.5", "5", "10", 0},
		{"below 10", "1.099999", "1", "9.9999", 0},
		{"small drop", "0.9", "1", "-10", 0},
		{"drop above -20", "0.800001", "1", "-19.9999", 0},
		{"drop at -20", "4", "5", "-20", 0},
		{"drop below -20", "0.799999", "1", "-20.0001", 0.3},
		{"one thirty over one", "1.30", "1.00", "30", 0.8},
		{"one twenty over one", "1.20", "1.00", "20", 0.5},
		{"flat", "2.5", "2.5", "0", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Score(d(tc.current), d(tc.previous))
			if !res.PercentChange.Equal(d(tc.pct)) {
				t.Fatalf("expected pct %s, got %s", tc.pct, res.PercentChange)
			}
			if res.Score != tc.score {
				t.Fatalf("expected score %v, got %v", tc.score, res.Score)
			}
		})
	}
}

func TestScoreZeroPrevious(t *testing.T) {
	for _, current := range []string{"0", "0.01", "1000"} {
		res := Score(d(current), decimal.Zero)
		if !res.PercentChange.IsZero() || res.Score != 0 {
			t.Fatalf("previous=0 must yield zero change/score, got %s/%v", res.PercentChange, res.Score)
		}
	}
}

func TestSignificantExcludesBoundary(t *testing.T) {
	if Significant(Score(d("1.2"), d("1")).Score) {
		t.Fatal("20% change must not be significant")
	}
	if Significant(Score(d("1.200001"), d("1")).Score) {
		t.Fatal("20.0001% change scores exactly 0.7 and must not be significant")
	}
	if Significant(Score(d("6.5"), d("5")).Score) {
		t.Fatal("30% change on exact inputs stays in the 0.7 band")
	}
	if !Significant(Score(d("1.30"), d("1.00")).Score) {
		t.Fatal("1.00 -> 1.30 must be significant")
	}
	if !Significant(Score(d("1.31"), d("1")).Score) {
		t.Fatal("31% change must be significant")
	}
}

func TestEvent(t *testing.T) {
	now := time.Now().UTC()
	ev := Event(domain.PricePoint{InstanceFamily: "m5.large", Region: "us-east-1", Zone: "us-east-1a", Price: d("1.30"), ObservedAt: now}, d("1.00"))
	if !ev.PercentChange.Equal(d("30")) || ev.AnomalyScore != 0.8 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Zone != "us-east-1a" || !ev.ObservedAt.Equal(now) {
		t.Fatal("event must carry the point identity")
	}
}
