package money

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestParse_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       string
		expected Money
	}{
		{"20000", 2000000},
		{"20,000", 2000000},
		{"20000.5", 2000050},
		{"Rs 1,234.50", 123450},
		{"Rs. 99", 9900},
		{"₹ 0.01", 1},
		{"  INR -50 ", -5000},
		{"0", 0},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tc.in, err)
		}
		if got != tc.expected {
			t.Fatalf("Parse(%q) expected %d paise, got %d", tc.in, tc.expected, got)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "  ", "abc", "12a", "1.234", "Rs"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q) expected error", in)
		}
	}
	if _, err := Parse("1.005"); !errors.Is(err, ErrPrecision) {
		t.Fatalf("expected ErrPrecision, got %v", err)
	}
	for _, in := range []string{"184467440737095516.16", "92233720368547759", "99999999999999999999", "-92233720368547759"} {
		if m, err := Parse(in); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Parse(%q) = %d, %v; expected ErrInvalid", in, m.Minor(), err)
		}
	}
	if m, err := Parse("92233720368547758.07"); err != nil || m.Minor() != math.MaxInt64 {
		t.Fatalf("expected the largest amount to parse, got %d (%v)", m.Minor(), err)
	}
}

func TestMulFraction_RejectsOverflow(t *testing.T) {
	if _, err := FromMinor(math.MaxInt64).MulFraction(3, 2); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	got, err := FromMajor(1000).MulFraction(25, 100)
	if err != nil || got != FromMajor(250) {
		t.Fatalf("expected 250.00, got %s (%v)", got, err)
	}
}

func TestSub_RaisesOnNegative(t *testing.T) {
	a, b := FromMajor(100), FromMajor(150)
	if _, err := a.Sub(b); !errors.Is(err, ErrNegative) {
		t.Fatalf("expected ErrNegative, got %v", err)
	}
	got, err := b.Sub(a)
	if err != nil || got != FromMajor(50) {
		t.Fatalf("expected 50.00, got %s (%v)", got, err)
	}
	if a.SubFloor(b) != Zero {
		t.Fatalf("SubFloor should saturate at zero")
	}
	if a.Diff(b) != FromMajor(-50) {
		t.Fatalf("Diff should be signed")
	}
}

func TestMulFraction_RoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		m        Money
		num, den int64
		expected Money
	}{
		{FromMajor(30000), 25, 100, FromMajor(7500)},
		{FromMinor(1), 1, 2, FromMinor(1)},
		{FromMinor(3), 1, 3, FromMinor(1)},
		{FromMinor(10), 1, 3, FromMinor(3)},
		{FromMinor(5), 1, 2, FromMinor(3)},
	}
	for _, tc := range cases {
		got, err := tc.m.MulFraction(tc.num, tc.den)
		if err != nil {
			t.Fatalf("MulFraction error: %v", err)
		}
		if got != tc.expected {
			t.Fatalf("%d * %d/%d expected %d, got %d", tc.m, tc.num, tc.den, tc.expected, got)
		}
	}
	if _, err := FromMajor(1).MulFraction(1, 0); err == nil {
		t.Fatalf("expected error for zero denominator")
	}
}

func TestFormat(t *testing.T) {
	cases := map[Money]string{
		FromMajor(20000):     "₹20,000.00",
		FromMinor(123456789): "₹1,234,567.89",
		FromMinor(5):         "₹0.05",
		FromMajor(-1500):     "-₹1,500.00",
	}
	for m, expected := range cases {
		if got := m.Format(); got != expected {
			t.Fatalf("Format(%d) expected %s, got %s", m, expected, got)
		}
	}
	if FromMajor(30000).String() != "30000.00" {
		t.Fatalf("unexpected String(): %s", FromMajor(30000).String())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		Amount Money `json:"amount"`
	}
	b, err := json.Marshal(payload{Amount: FromMinor(2000050)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"amount":"20000.50"}` {
		t.Fatalf("unexpected json: %s", b)
	}
	var p payload
	if err := json.Unmarshal([]byte(`{"amount": 150.25}`), &p); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if p.Amount != FromMinor(15025) {
		t.Fatalf("expected 15025 paise, got %d", p.Amount)
	}
}

func TestCompareAndSum(t *testing.T) {
	if FromMajor(1).Cmp(FromMajor(2)) != -1 || FromMajor(2).Cmp(FromMajor(1)) != 1 || Zero.Cmp(Zero) != 0 {
		t.Fatalf("Cmp ordering broken")
	}
	if !Zero.IsZero() || !FromMinor(1).IsPositive() || !FromMinor(-1).IsNegative() {
		t.Fatalf("predicates broken")
	}
	if Sum(FromMajor(1), FromMajor(2), FromMinor(50)) != FromMinor(350) {
		t.Fatalf("Sum broken")
	}
}
