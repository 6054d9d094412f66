package diag_test

import (
	"fmt"
	"time"

	"github.com/kolkov/heapdiag/diag"
	"github.com/kolkov/heapdiag/internal/heap/heaptest"
)

// Example stages a use-after-free on a fake heap and classifies it.
func Example() {
	h := heaptest.NewHeap()
	h.AllocateArena(0x10000, 0x1000)

	t0 := time.UnixMilli(1_700_000_000_000)
	h.Clock = func() time.Time { return t0 }

	fb, _ := h.NewBlock(0x10000, 128, false)
	fb.MarkAsQuarantined([]uint64{0x500000, 0x500100}, 7, true)

	a := diag.New(h.Space, h.Shadow, h.Depot, diag.Options{Config: &h.Config})
	a.Classifier().SetClock(func() time.Time { return t0.Add(250 * time.Millisecond) })

	info, _ := a.Analyze(fb.Info.BodyAddr+16, diag.AccessWrite, 8)
	fmt.Println(info.ErrorType)
	fmt.Println(info.BlockInfo.State)
	fmt.Println(info.BlockInfo.MillisecondsSinceFree)
	// Output:
	// use-after-free
	// quarantined
	// 250
}
