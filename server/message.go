package server

import "fmt"

const (
	MsgNoFace     = "No face detected"
	MsgSingleFace = "1 face detected"
)

func faceMessage(faceCount int) string {
	switch {
	case faceCount == 0:
		return MsgNoFace
	case faceCount == 1:
		return MsgSingleFace
	default:
		return fmt.Sprintf("%d faces detected", faceCount)
	}
}
