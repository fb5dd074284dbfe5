package provider

import (
	"context"
	"fmt"
	"math"

	"github.com/cortexltm/ltm/internal/chunker"
)

// meanPooled embeds oversized text one window at a time and returns the
// L2-normalized mean of the window vectors. Window errors surface as-is; the
// embed callback has already wrapped them.
func meanPooled(ctx context.Context, name, text string, dims, maxLen int, embed func(context.Context, string) ([]float32, error)) ([]float32, error) {
	pieces := chunker.Split(text, maxLen)
	sum := make([]float64, dims)
	for _, piece := range pieces {
		vec, err := embed(ctx, piece)
		if err != nil {
			return nil, err
		}
		for i, v := range vec {
			sum[i] += float64(v)
		}
	}

	var norm float64
	for _, v := range sum {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, &Error{Provider: name, Op: "embed", Err: fmt.Errorf("degenerate pooled embedding")}
	}
	out := make([]float32, dims)
	for i, v := range sum {
		out[i] = float32(v / norm)
	}
	return out, nil
}
