package sqlite

import "time"

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

func unixMilliToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
