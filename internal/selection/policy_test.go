package selection

import (
	"testing"
	"time"

	"github.com/nerrad567/targetd/internal/device"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(seconds int) *time.Time {
	t := epoch.Add(time.Duration(seconds) * time.Second)
	return &t
}

func connected(id string, seconds int) device.Device {
	return device.Device{ID: id, Name: id, Kind: device.KindPhysical, Online: true, ConnectionTime: at(seconds)}
}

func disconnected(id string) device.Device {
	return device.Device{ID: id, Name: id, Kind: device.KindPhysical}
}

// sorted orders devices the way the aggregator publishes them.
func sorted(devices []device.Device) []device.Device {
	device.Sort(devices)
	return devices
}

func ref(id string) device.TargetID {
	return device.TargetID{DeviceID: id, Boot: device.DefaultBoot()}
}

func TestResolveDropdown(t *testing.T) {
	tests := []struct {
		name     string
		devices  []device.Device
		sel      *DropdownSelection
		wantID   string
		wantBoot device.BootOption
		wantOK   bool
	}{
		{
			name:   "no devices",
			wantOK: false,
		},
		{
			name:     "no connection no selection uses first device",
			devices:  sorted([]device.Device{disconnected("b"), disconnected("a")}),
			wantID:   "a",
			wantBoot: device.DefaultBoot(),
			wantOK:   true,
		},
		{
			name:     "no connection keeps resolved selection",
			devices:  sorted([]device.Device{disconnected("a"), disconnected("b")}),
			sel:      &DropdownSelection{Target: device.TargetID{DeviceID: "b", Boot: device.ColdBoot()}, Timestamp: at(1)},
			wantID:   "b",
			wantBoot: device.ColdBoot(),
			wantOK:   true,
		},
		{
			name:     "no connection unresolved selection uses first device",
			devices:  []device.Device{disconnected("a")},
			sel:      &DropdownSelection{Target: ref("gone"), Timestamp: at(1)},
			wantID:   "a",
			wantBoot: device.DefaultBoot(),
			wantOK:   true,
		},
		{
			name:     "selection is the connected device keeps boot option",
			devices:  []device.Device{connected("a", 10)},
			sel:      &DropdownSelection{Target: device.TargetID{DeviceID: "a", Boot: device.SnapshotBoot("s1")}, Timestamp: at(1)},
			wantID:   "a",
			wantBoot: device.SnapshotBoot("s1"),
			wantOK:   true,
		},
		{
			name:     "newer connection beats older selection",
			devices:  sorted([]device.Device{connected("a", 10), disconnected("b")}),
			sel:      &DropdownSelection{Target: ref("b"), Timestamp: at(5)},
			wantID:   "a",
			wantBoot: device.DefaultBoot(),
			wantOK:   true,
		},
		{
			name:     "newer selection beats older connection",
			devices:  sorted([]device.Device{connected("a", 10), disconnected("b")}),
			sel:      &DropdownSelection{Target: ref("b"), Timestamp: at(15)},
			wantID:   "b",
			wantBoot: device.DefaultBoot(),
			wantOK:   true,
		},
		{
			name:     "exact tie goes to the connection",
			devices:  sorted([]device.Device{connected("a", 10), disconnected("b")}),
			sel:      &DropdownSelection{Target: ref("b"), Timestamp: at(10)},
			wantID:   "a",
			wantBoot: device.DefaultBoot(),
			wantOK:   true,
		},
		{
			name:     "selection without timestamp loses to connection",
			devices:  sorted([]device.Device{connected("a", 10), disconnected("b")}),
			sel:      &DropdownSelection{Target: ref("b")},
			wantID:   "a",
			wantBoot: device.DefaultBoot(),
			wantOK:   true,
		},
		{
			name:     "unresolved selection loses to connection",
			devices:  []device.Device{connected("a", 10)},
			sel:      &DropdownSelection{Target: ref("gone"), Timestamp: at(99)},
			wantID:   "a",
			wantBoot: device.DefaultBoot(),
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveDropdown(tt.devices, tt.sel)
			if ok != tt.wantOK {
				t.Fatalf("ResolveDropdown() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Device.ID != tt.wantID || got.Boot != tt.wantBoot {
				t.Errorf("ResolveDropdown() = %s/%s, want %s/%s", got.Device.ID, got.Boot, tt.wantID, tt.wantBoot)
			}
		})
	}
}

// A connects at t=10 over an earlier pick of B; re-picking B at t=15 sticks.
func TestResolveDropdown_FollowAndReconfirm(t *testing.T) {
	devices := sorted([]device.Device{connected("A", 10), connected("B", 1)})

	got, _ := ResolveDropdown(devices, &DropdownSelection{Target: ref("B"), Timestamp: at(5)})
	if got.Device.ID != "A" {
		t.Fatalf("after A connects: selected %s, want A", got.Device.ID)
	}

	got, _ = ResolveDropdown(devices, &DropdownSelection{Target: ref("B"), Timestamp: at(15)})
	if got.Device.ID != "B" {
		t.Errorf("after re-selecting B: selected %s, want B", got.Device.ID)
	}
}

func TestResolveDropdown_SnapshotSelectionSurvivesReconnect(t *testing.T) {
	devices := sorted([]device.Device{disconnected("A"), connected("B", 100)})

	got, _ := ResolveDropdown(devices, &DropdownSelection{Target: ref("A"), Timestamp: at(50)})
	if got.Device.ID != "B" || got.Boot != device.DefaultBoot() {
		t.Fatalf("selected %s/%s, want B/default", got.Device.ID, got.Boot)
	}

	sel := &DropdownSelection{
		Target:    device.TargetID{DeviceID: "B", Boot: device.SnapshotBoot("s1")},
		Timestamp: at(150),
	}
	for range 3 {
		got, _ = ResolveDropdown(devices, sel)
		if got.Device.ID != "B" || got.Boot != device.SnapshotBoot("s1") {
			t.Fatalf("selected %s/%s, want B/snapshot:s1", got.Device.ID, got.Boot)
		}
	}
}

func TestReconcile_DialogDowngrade(t *testing.T) {
	state := State{
		Mode:   ModeDialog,
		Dialog: []device.TargetID{ref("gone-1"), ref("gone-2")},
	}

	out, next := Reconcile([]device.Device{connected("a", 1)}, state)

	if next.Mode != ModeDropdown {
		t.Errorf("Mode = %q, want dropdown", next.Mode)
	}
	if out.IsMultiSelect {
		t.Error("IsMultiSelect = true after downgrade")
	}
	if len(out.SelectedTargets) != 1 || out.SelectedTargets[0].Device.ID != "a" {
		t.Errorf("SelectedTargets = %v, want [a]", out.TargetIDs())
	}
	if state.Mode != ModeDialog {
		t.Error("input state was modified")
	}
	if len(next.Dialog) != 2 {
		t.Errorf("Dialog refs dropped on downgrade: %v", next.Dialog)
	}
}

func TestReconcile_DialogDowngradeWithNoDevices(t *testing.T) {
	out, next := Reconcile(nil, State{Mode: ModeDialog, Dialog: []device.TargetID{ref("gone")}})

	if next.Mode != ModeDropdown {
		t.Errorf("Mode = %q, want dropdown", next.Mode)
	}
	if len(out.SelectedTargets) != 0 {
		t.Errorf("SelectedTargets = %v, want empty", out.TargetIDs())
	}
}

func TestReconcile_PartialDialog(t *testing.T) {
	devices := sorted([]device.Device{connected("a", 1), connected("b", 2)})
	state := State{Mode: ModeDialog, Dialog: []device.TargetID{ref("a"), ref("gone"), ref("b")}}

	out, next := Reconcile(devices, state)

	if next.Mode != ModeDialog || !out.IsMultiSelect {
		t.Fatalf("mode = %q multi = %v, want dialog", next.Mode, out.IsMultiSelect)
	}
	ids := out.TargetIDs()
	if len(ids) != 2 || ids[0].DeviceID != "a" || ids[1].DeviceID != "b" {
		t.Errorf("SelectedTargets = %v, want [a b]", ids)
	}
}
