package engine

import (
	iface "PoseStyler/interface"
	"fmt"
	"image"
)

// partIndices 把模型通道名映射到 COCO-17 下标；names 为空时按通道顺序一一对应
func partIndices(names []string) ([]int, error) {
	if len(names) == 0 {
		order := make([]int, iface.KeypointCount)
		for i := range order {
			order[i] = i
		}
		return order, nil
	}
	lookup := make(map[string]int, iface.KeypointCount)
	for i, n := range iface.PartNames {
		lookup[n] = i
	}
	order := make([]int, len(names))
	for c, n := range names {
		if n == "" || n == "-" {
			order[c] = -1
			continue
		}
		idx, ok := lookup[n]
		if !ok {
			return nil, fmt.Errorf("unknown keypoint name %q at channel %d", n, c)
		}
		order[c] = idx
	}
	return order, nil
}

// decodeHeatmaps turns a [1, K, H, W] heatmap blob into a single pose.
// Each keypoint sits at the centre of its heatmap's hottest cell, scaled to frame.
func decodeHeatmaps(data []float32, shape []int, frame image.Point, order []int) (iface.Pose, error) {
	if len(shape) != 4 {
		return iface.Pose{}, fmt.Errorf("unexpected heatmap shape %v", shape)
	}
	k, h, w := shape[1], shape[2], shape[3]
	if k <= 0 || h <= 0 || w <= 0 || len(data) < k*h*w {
		return iface.Pose{}, fmt.Errorf("heatmap data too short: %d values for shape %v", len(data), shape)
	}

	pose := iface.Pose{Keypoints: make([]iface.Keypoint, iface.KeypointCount)}
	for i := range pose.Keypoints {
		pose.Keypoints[i] = iface.Keypoint{Part: iface.PartNames[i], Index: i}
	}

	sx := float64(frame.X) / float64(w)
	sy := float64(frame.Y) / float64(h)
	var total float64
	mapped := 0
	for c := 0; c < k && c < len(order); c++ {
		idx := order[c]
		if idx < 0 {
			continue
		}
		plane := data[c*h*w : (c+1)*h*w]
		best := 0
		for i, v := range plane {
			if v > plane[best] {
				best = i
			}
		}
		score := clamp01(float64(plane[best]))
		kp := &pose.Keypoints[idx]
		kp.Position = iface.Position{
			X: (float64(best%w) + 0.5) * sx,
			Y: (float64(best/w) + 0.5) * sy,
		}
		kp.Score = score
		total += score
		mapped++
	}
	if mapped > 0 {
		pose.Score = total / float64(mapped)
	}
	return pose, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var styleMean = [3]float64{103.939, 116.779, 123.68}

// planarToBGR 把 [3, H, W] 的网络输出加回均值并交织成 8 位 BGR
func planarToBGR(data []float32, h, w int) ([]byte, error) {
	plane := h * w
	if plane <= 0 || len(data) < 3*plane {
		return nil, fmt.Errorf("style output too short: %d values for %dx%d", len(data), w, h)
	}
	out := make([]byte, 3*plane)
	for i := 0; i < plane; i++ {
		for ch := 0; ch < 3; ch++ {
			v := float64(data[i+ch*plane]) + styleMean[ch]
			switch {
			case v < 0:
				v = 0
			case v > 255:
				v = 255
			}
			out[i*3+ch] = uint8(v)
		}
	}
	return out, nil
}
