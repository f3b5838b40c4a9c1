package queue

import (
	"math"
	"time"
)

// maxMillis は time.Duration に収まる最大のミリ秒数
const maxMillis = int64(math.MaxInt64 / int64(time.Millisecond))

// MillisToDuration はミリ秒を time.Duration に変換する
// 負の値は 0、上限を超える値は飽和させる
func MillisToDuration(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	if ms > maxMillis {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// Deadline は現在時刻に timeoutMs ミリ秒を足した絶対時刻を返す
// 現在時刻は一度だけ取得する。待ちを繰り返しても期限がずれない
func Deadline(timeoutMs int64) time.Time {
	return time.Now().Add(MillisToDuration(timeoutMs))
}

// Remaining は期限までの残り時間を返す。期限を過ぎていれば 0
func Remaining(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}
