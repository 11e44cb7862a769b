package detections

const (
	FaceInputSize              = 300
	AttributeInputSize         = 227
	DefaultConfidenceThreshold = 0.7
	FacePadding                = 20

	// Each SSD detection is [image_id, label, confidence, x1, y1, x2, y2].
	detectionRecordSize = 7
)

var (
	faceMean      = [3]float64{104, 117, 123}
	attributeMean = [3]float64{78.4263377603, 87.7689143744, 114.895847746}
)
