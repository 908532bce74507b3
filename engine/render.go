package engine

import (
	"context"
	"fmt"

	"github.com/vsariola/kantele"
)

// RenderAll steps the engine until the performance finishes and returns the
// whole output, divided by 0dbfs. Mono output is duplicated to both
// channels. When maxBlocks is positive and reached, the engine is shut down,
// so held notes cannot make it run forever. The context is checked between
// blocks.
func RenderAll(ctx context.Context, e *Engine, maxBlocks int) (kantele.AudioBuffer, error) {
	var buffer kantele.AudioBuffer
	var scaled [2][]float32
	for blocks := 0; ; blocks++ {
		if err := ctx.Err(); err != nil {
			e.Close()
			return buffer, err
		}
		if maxBlocks > 0 && blocks >= maxBlocks {
			e.Shutdown()
		}
		status, err := e.Step()
		if err != nil {
			return buffer, fmt.Errorf("block %d: %w", blocks, err)
		}
		if status == Finished {
			return buffer, nil
		}
		out := e.Output()
		for c := range scaled {
			if len(scaled[c]) != len(out[0]) {
				scaled[c] = make([]float32, len(out[0]))
			}
			e.scaled(scaled[c], min(c, len(out)-1))
		}
		for i := range scaled[0] {
			buffer = append(buffer, [2]float32{scaled[0][i], scaled[1][i]})
		}
	}
}
