package engine

import "fmt"

// Look is the gaze direction of the face.
type Look string

const (
	LookLeft   Look = "left"
	LookCenter Look = "center"
	LookRight  Look = "right"
)

// Index returns the asset column for the direction: left 0, center 1, right 2.
func (l Look) Index() int {
	switch l {
	case LookLeft:
		return 0
	case LookRight:
		return 2
	default:
		return 1
	}
}

func (l Look) String() string {
	return string(l)
}

// Frame vocabulary. These strings key into the STF* asset set and must match
// byte for byte.
const (
	straightFrameFormat = "STFST%d%d"
	painFrameFormat     = "STFOUCH%d"

	// DeadFrame is shown whenever health is zero.
	DeadFrame = "STFDEAD0"
	// DeadBucket is the bucket reported alongside DeadFrame.
	DeadBucket = 4

	// NumBuckets is the number of health tiers.
	NumBuckets = 5
)

var lookColumns = [...]Look{LookLeft, LookCenter, LookRight}

// StraightFrame names the normal frame for a bucket and gaze.
func StraightFrame(bucket int, look Look) string {
	return fmt.Sprintf(straightFrameFormat, bucket, look.Index())
}

// PainFrame names the pain frame for a bucket.
func PainFrame(bucket int) string {
	return fmt.Sprintf(painFrameFormat, bucket)
}

// AllFrames lists every frame name the engine can emit.
func AllFrames() []string {
	frames := make([]string, 0, NumBuckets*len(lookColumns)+NumBuckets+1)
	for bucket := 0; bucket < NumBuckets; bucket++ {
		for _, look := range lookColumns {
			frames = append(frames, StraightFrame(bucket, look))
		}
	}
	for bucket := 0; bucket < NumBuckets; bucket++ {
		frames = append(frames, PainFrame(bucket))
	}
	return append(frames, DeadFrame)
}

var frameSet = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range AllFrames() {
		set[f] = struct{}{}
	}
	return set
}()

// IsFrameName reports whether name belongs to the frame vocabulary.
func IsFrameName(name string) bool {
	_, ok := frameSet[name]
	return ok
}
