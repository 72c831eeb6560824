package pdf

// ProgressReporter は進捗更新用コールバックです。非同期ジョブでは進捗をジョブストアへ反映します。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// Scaled は進捗を [from,to] の範囲に写像するレポーターを返します。
func (p ProgressReporter) Scaled(from, to int) ProgressReporter {
	if p == nil {
		return nil
	}
	return func(stage string, percent int) {
		reportProgress(p, stage, from+((to-from)*percent)/100)
	}
}
