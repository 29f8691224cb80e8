package device

import (
	"slices"
	"testing"

	"pgregory.net/rapid"
)

func TestSort_Order(t *testing.T) {
	devices := []Device{
		{ID: "e", Name: "Err", Compatibility: Compatibility{State: CompatibilityError}, ConnectionTime: at(100)},
		{ID: "n", Name: "NoTime"},
		{ID: "old", Name: "Old", ConnectionTime: at(5)},
		{ID: "w", Name: "Warn", Compatibility: Compatibility{State: CompatibilityWarning}},
		{ID: "new", Name: "New", ConnectionTime: at(10)},
		{ID: "a2", Name: "A", Disambiguator: "2"},
		{ID: "a1", Name: "A", Disambiguator: "1"},
	}

	Sort(devices)

	var got []string
	for _, d := range devices {
		got = append(got, d.ID)
	}
	want := []string{"new", "old", "a1", "a2", "n", "w", "e"}
	if !slices.Equal(got, want) {
		t.Errorf("Sort() order = %v, want %v", got, want)
	}
}

func TestCompare_IDBreaksTies(t *testing.T) {
	a := Device{ID: "a", Name: "Same"}
	b := Device{ID: "b", Name: "Same"}

	if Compare(a, b) >= 0 {
		t.Errorf("Compare(a, b) = %d, want < 0", Compare(a, b))
	}
	if Compare(b, a) <= 0 {
		t.Errorf("Compare(b, a) = %d, want > 0", Compare(b, a))
	}
}

func TestSort_InvariantToInputOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		devices := genDevices().Draw(t, "devices")
		shuffled := rapid.Permutation(devices).Draw(t, "shuffled")

		a := slices.Clone(devices)
		b := slices.Clone(shuffled)
		Sort(a)
		Sort(b)
		if !EqualDevices(a, b) {
			t.Fatalf("sorted lists differ:\n%v\n%v", a, b)
		}
	})
}
