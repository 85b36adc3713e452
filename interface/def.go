package iface

import "errors"

// ScoreThreshold 低于或等于该分数的关键点不参与绘制
const ScoreThreshold = 0.2

// Keypoint indices of the 17-point COCO pose schema.
const (
	Nose = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	KeypointCount
)

// PartNames follows the keypoint index order.
var PartNames = [KeypointCount]string{
	"nose", "leftEye", "rightEye", "leftEar", "rightEar",
	"leftShoulder", "rightShoulder", "leftElbow", "rightElbow",
	"leftWrist", "rightWrist", "leftHip", "rightHip",
	"leftKnee", "rightKnee", "leftAnkle", "rightAnkle",
}

var (
	ErrNotReady       = errors.New("model not ready")
	ErrEmptyImage     = errors.New("image is empty or unsupported format")
	ErrProviderClosed = errors.New("provider closed")
)

type Position struct {
	X, Y float64
}

type Keypoint struct {
	Part     string
	Index    int
	Position Position
	Score    float64
}

// Visible reports whether the keypoint is confident enough to be drawn.
func (k Keypoint) Visible() bool {
	return k.Score > ScoreThreshold
}

type Pose struct {
	Score     float64
	Keypoints []Keypoint
}

// Keypoint 按索引取关键点，越界时返回零值（分数为 0，不会被绘制）
func (p Pose) Keypoint(index int) Keypoint {
	if index < 0 || index >= len(p.Keypoints) {
		return Keypoint{Index: index}
	}
	return p.Keypoints[index]
}

// DetectionResult is replaced wholesale on every detection event.
type DetectionResult []Pose

type PoseEvent struct {
	Result DetectionResult
	Err    error
}

type PoseOptions struct {
	ScaleFactor   float64
	MinConfidence float64
	MaxDetections int
	InputSize     int
}
