package tensor

import (
	"fmt"
)

// BroadcastShapes returns the shape two operands broadcast to. Shapes are
// right-aligned; a dimension broadcasts when it is 1 or missing.
func BroadcastShapes(shape1, shape2 []int) ([]int, error) {
	maxDims := len(shape1)
	if len(shape2) > maxDims {
		maxDims = len(shape2)
	}

	result := make([]int, maxDims)
	for i := 0; i < maxDims; i++ {
		dim1, dim2 := 1, 1
		if j := len(shape1) - maxDims + i; j >= 0 {
			dim1 = shape1[j]
		}
		if j := len(shape2) - maxDims + i; j >= 0 {
			dim2 = shape2[j]
		}

		switch {
		case dim1 == dim2:
			result[i] = dim1
		case dim1 == 1:
			result[i] = dim2
		case dim2 == 1:
			result[i] = dim1
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", shape1, shape2)
		}
	}

	return result, nil
}

// AreBroadcastable checks if two shapes can be broadcast together
func AreBroadcastable(shape1, shape2 []int) bool {
	_, err := BroadcastShapes(shape1, shape2)
	return err == nil
}

// broadcastStrides returns strides for reading an operand of shape as if it
// had outShape: broadcast (size 1 or missing) axes get stride 0.
func broadcastStrides(shape, outShape []int) []int {
	strides := make([]int, len(outShape))
	src := calculateStrides(shape)
	offset := len(outShape) - len(shape)
	for i := range outShape {
		j := i - offset
		if j < 0 || shape[j] == 1 {
			continue
		}
		strides[i] = src[j]
	}
	return strides
}

// forEachBroadcast walks outShape in row-major order and calls fn with the
// flat output index and the matching flat index into each operand.
func forEachBroadcast(outShape, aStrides, bStrides []int, fn func(o, ai, bi int)) {
	n := calculateNumElements(outShape)
	if n == 0 {
		return
	}
	coords := make([]int, len(outShape))
	ai, bi := 0, 0
	for o := 0; o < n; o++ {
		fn(o, ai, bi)
		for d := len(outShape) - 1; d >= 0; d-- {
			coords[d]++
			ai += aStrides[d]
			bi += bStrides[d]
			if coords[d] < outShape[d] {
				break
			}
			ai -= aStrides[d] * coords[d]
			bi -= bStrides[d] * coords[d]
			coords[d] = 0
		}
	}
}

func shapesEqual(shape1, shape2 []int) bool {
	if len(shape1) != len(shape2) {
		return false
	}
	for i := range shape1 {
		if shape1[i] != shape2[i] {
			return false
		}
	}
	return true
}

// reduceGradientToShape sums a gradient over the axes that were broadcast
// in the forward pass so it matches targetShape.
func reduceGradientToShape(grad *Tensor, targetShape []int) *Tensor {
	if shapesEqual(grad.Shape, targetShape) {
		return grad
	}

	out := make([]float32, calculateNumElements(targetShape))
	g := grad.Float32s()
	dstStrides := broadcastStrides(targetShape, grad.Shape)
	forEachBroadcast(grad.Shape, dstStrides, dstStrides, func(o, di, _ int) {
		out[di] += g[o]
	})
	return mustFloat32(targetShape, out)
}
