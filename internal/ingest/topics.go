package ingest

import "strings"

// topicMatchesPattern implements MQTT topic-filter matching (`+`
// single-level, `#` multi-level trailing wildcard), grounded on
// `_examples/original_source/data_sleigh/src/data_sleigh/mqtt_client.py`'s
// `_topic_matches_pattern`. Source A subscribes with each configured
// pattern directly (the broker does the real matching), so this is
// used only in tests; it is not on the per-message path and
// configuration validation does not call it.
func topicMatchesPattern(pattern, topic string) bool {
	pParts := strings.Split(pattern, "/")
	tParts := strings.Split(topic, "/")

	for i, p := range pParts {
		if p == "#" {
			return true
		}
		if i >= len(tParts) {
			return false
		}
		if p == "+" {
			continue
		}
		if p != tParts[i] {
			return false
		}
	}
	return len(pParts) == len(tParts)
}
