package version

import (
	"encoding/json"
	"runtime/debug"
)

type Info struct {
	Commit    string `json:"commit"`
	Time      string `json:"time"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
}

func (i Info) String() string {
	b, err := json.Marshal(&i)
	if err != nil {
		return i.Commit
	}
	return string(b)
}

var Current = func() Info {
	v := Info{}
	if info, ok := debug.ReadBuildInfo(); ok {
		v.GoVersion = info.GoVersion
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				v.Commit = setting.Value
			case "vcs.time":
				v.Time = setting.Value
			case "vcs.modified":
				v.Modified = setting.Value == "true"
			}
		}
	}
	return v
}()
