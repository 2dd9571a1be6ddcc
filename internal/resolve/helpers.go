package resolve

import "github.com/ericwastaken/payloadstash/internal/valuetree"

func getString(v valuetree.Value, key string) (string, bool) {
	raw, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return raw.AsString()
}

func getInt(v valuetree.Value, key string) (int64, bool) {
	raw, ok := v.Get(key)
	if !ok {
		return 0, false
	}
	return raw.AsInt()
}

func getFloat(v valuetree.Value, key string) (float64, bool) {
	raw, ok := v.Get(key)
	if !ok {
		return 0, false
	}
	return raw.AsFloat()
}

func getBool(v valuetree.Value, key string) (bool, bool) {
	raw, ok := v.Get(key)
	if !ok {
		return false, false
	}
	return raw.AsBool()
}
