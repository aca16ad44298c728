package scancapture

import "math"

// aspectTolerance is the maximum absolute difference between a candidate's
// height/width ratio and the target ratio for the first selection pass.
const aspectTolerance = 0.1

// SelectPreviewSize picks the candidate resolution that best fits a
// targetWidth × targetHeight viewport.
//
// Pass 1 keeps candidates whose height/width ratio is within aspectTolerance
// of targetHeight/targetWidth and picks the one whose height is closest to
// targetHeight. Pass 2 runs only when pass 1 finds nothing and ignores the
// aspect ratio. Ties keep the first candidate in enumeration order.
//
// Returns ErrNoCandidates if candidates is empty.
func SelectPreviewSize(candidates []Size, targetWidth, targetHeight int) (Size, error) {
	if len(candidates) == 0 {
		return Size{}, ErrNoCandidates
	}

	if targetWidth > 0 {
		targetRatio := float64(targetHeight) / float64(targetWidth)
		best, found := closestHeight(candidates, targetHeight, func(s Size) bool {
			if s.Width <= 0 {
				return false
			}
			ratio := float64(s.Height) / float64(s.Width)
			return math.Abs(ratio-targetRatio) <= aspectTolerance
		})
		if found {
			return best, nil
		}
	}

	best, _ := closestHeight(candidates, targetHeight, func(Size) bool { return true })
	return best, nil
}

// closestHeight returns the first candidate accepted by keep that minimizes
// |height - targetHeight|.
func closestHeight(candidates []Size, targetHeight int, keep func(Size) bool) (Size, bool) {
	var (
		best    Size
		found   bool
		minDiff = math.MaxInt
	)
	for _, s := range candidates {
		if !keep(s) {
			continue
		}
		diff := s.Height - targetHeight
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			best, minDiff, found = s, diff, true
		}
	}
	return best, found
}
