package device

import (
	"fmt"
	"time"

	"pgregory.net/rapid"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(seconds int) *time.Time {
	t := epoch.Add(time.Duration(seconds) * time.Second)
	return &t
}

// genBootOption draws any valid boot option.
func genBootOption() *rapid.Generator[BootOption] {
	return rapid.Custom(func(t *rapid.T) BootOption {
		switch rapid.IntRange(0, 2).Draw(t, "boot") {
		case 0:
			return DefaultBoot()
		case 1:
			return ColdBoot()
		default:
			return SnapshotBoot(rapid.StringMatching(`[a-z0-9_]{1,12}`).Draw(t, "snapshot"))
		}
	})
}

// genDevices draws a device list with unique IDs.
func genDevices() *rapid.Generator[[]Device] {
	return rapid.Custom(func(t *rapid.T) []Device {
		ids := rapid.SliceOfNDistinct(rapid.StringMatching(`d[0-9]{1,3}`), 0, 12, rapid.ID[string]).Draw(t, "ids")
		out := make([]Device, 0, len(ids))
		for i, id := range ids {
			d := Device{
				ID:            id,
				Kind:          rapid.SampledFrom([]Kind{KindPhysical, KindVirtual}).Draw(t, fmt.Sprintf("kind%d", i)),
				Name:          rapid.SampledFrom([]string{"Pixel", "Galaxy", "Nexus"}).Draw(t, fmt.Sprintf("name%d", i)),
				Online:        rapid.Bool().Draw(t, fmt.Sprintf("online%d", i)),
				Compatibility: Compatibility{State: CompatibilityState(rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("compat%d", i)))},
			}
			if d.Online && rapid.Bool().Draw(t, fmt.Sprintf("hasTime%d", i)) {
				d.ConnectionTime = at(rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("time%d", i)))
			}
			out = append(out, d)
		}
		return out
	})
}
