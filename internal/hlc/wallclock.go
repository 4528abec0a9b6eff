package hlc

import "time"

// WallClockMillis is the production NowFunc, backed by time.Now.
func WallClockMillis() int64 {
	return time.Now().UnixMilli()
}
