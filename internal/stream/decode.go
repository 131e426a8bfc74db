package stream

import (
	"github.com/tidwall/gjson"

	"github.com/stacklok/toolhive-jobwatch/internal/jobs"
)

// decodedUpdate is a live message plus which optional fields it carried
type decodedUpdate struct {
	jobs.Update
	hasProgress bool
	hasMessage  bool
}

// decodeUpdate reads a {status, progress, message} message. Unknown fields are
// ignored; a message carrying none of the three is rejected.
func decodeUpdate(data []byte) (decodedUpdate, bool) {
	if !gjson.ValidBytes(data) {
		return decodedUpdate{}, false
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return decodedUpdate{}, false
	}

	var u decodedUpdate
	if v := root.Get("status"); v.Type == gjson.String && v.Str != "" {
		u.Status, _ = jobs.ParseStatus(v.Str)
	}
	if v := root.Get("progress"); v.Type == gjson.Number {
		u.Progress = jobs.ClampProgress(int(v.Int()))
		u.hasProgress = true
	}
	if v := root.Get("message"); v.Type == gjson.String {
		u.Message = v.Str
		u.hasMessage = true
	}
	if u.Status == "" && !u.hasProgress && !u.hasMessage {
		return decodedUpdate{}, false
	}

	u.Level = root.Get("level").String()
	switch ts := root.Get("timestamp"); ts.Type {
	case gjson.Number:
		t := jobs.UnixSeconds(ts.Float())
		u.Timestamp = &t
	case gjson.String:
		if t, ok := jobs.ParseTime(ts.Str); ok {
			u.Timestamp = &t
		}
	}
	return u, true
}
