package acquire

import "time"

// Progress describes the state of an in-flight acquisition. It is handed to
// a Callback at most once per block copied; the callback must return
// quickly and must never call back into the acquirer.
type Progress struct {
	TotalBytes      *int64 // nil when the total is unknown (e.g. a non-seekable source with no byte limit)
	BytesDone       int64
	RateBytesPerSec float64
	ETA             *time.Duration // nil until a nonzero rate makes an estimate possible
	Operation       string
}

// Callback receives progress updates during AcquireStream/AcquireToFile and
// the VHD writers.
type Callback func(Progress)

// calculateProgress mirrors the rolling-rate/ETA formula: rate is bytes done
// over elapsed wall-clock time, and ETA is the bytes remaining divided by
// that rate.
func calculateProgress(total *int64, done int64, start time.Time, operation string) Progress {
	elapsed := time.Since(start).Seconds()

	var rate float64
	if elapsed > 0 {
		rate = float64(done) / elapsed
	}

	p := Progress{
		TotalBytes:      total,
		BytesDone:       done,
		RateBytesPerSec: rate,
		Operation:       operation,
	}

	if total != nil && rate > 0 {
		remaining := *total - done
		if remaining < 0 {
			remaining = 0
		}
		eta := time.Duration(float64(remaining) / rate * float64(time.Second))
		p.ETA = &eta
	}

	return p
}

func report(cb Callback, total *int64, done int64, start time.Time, operation string) {
	if cb == nil {
		return
	}
	cb(calculateProgress(total, done, start, operation))
}
