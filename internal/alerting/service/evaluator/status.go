package evaluator

import "github.com/qiniu/watchtower/internal/alerting/model"

// DebounceStatus decides a monitor's status from its most recent check
// statuses, newest first; recent[0] is the check being evaluated.
//
// The status moves to the latest status only when the threshold most recent
// checks all agree on it. With fewer than threshold checks, or any
// disagreement in the window, the current status is kept.
func DebounceStatus(current model.Status, threshold int, recent []model.Status) (model.Status, bool) {
	if threshold < 1 {
		threshold = 1
	}
	if len(recent) < threshold {
		return current, false
	}
	latest := recent[0]
	for _, s := range recent[:threshold] {
		if s != latest {
			return current, false
		}
	}
	return latest, latest != current
}
