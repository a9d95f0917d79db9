package grid

import "github.com/paulmach/orb"

// GenerateLattice lays out rows*cols expected positions in row-major order,
// slot (r, c) at anchor + offset + (c*dx, r*dy). An unresolved anchor yields
// the same shape with every slot unresolved.
func GenerateLattice(anchor MaybePoint, cfg LatticeConfig) []LatticeSlot {
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return nil
	}

	slots := make([]LatticeSlot, 0, cfg.Rows*cfg.Cols)
	a, ok := anchor.Get()
	for r := 0; r < cfg.Rows; r++ {
		for c := 0; c < cfg.Cols; c++ {
			slot := LatticeSlot{Row: r, Col: c}
			if ok {
				slot.Point = Some(orb.Point{
					a[0] + cfg.OffsetX + float64(c)*cfg.DX,
					a[1] + cfg.OffsetY + float64(r)*cfg.DY,
				})
			}
			slots = append(slots, slot)
		}
	}
	return slots
}
